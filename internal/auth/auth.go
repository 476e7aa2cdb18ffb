// Package auth turns VaultProperties into a Vault login method.
//
// Select picks the implementation for spring.cloud.vault.authentication.
// Every method implements api.AuthMethod, so a vault.Client logs in with
// any of them the same way and can repeat the login when a token expires.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
)

// Method is a configured Vault login
type Method interface {
	api.AuthMethod
	Name() config.AuthenticationMethod
}

// TokenSource supplies a previously stored token for a Vault address
type TokenSource interface {
	Get(address string) (string, error)
}

type options struct {
	logger     *logging.Logger
	tokens     TokenSource
	userID     UserIDMechanism
	httpClient *http.Client
	ec2        InstanceIdentity
	iamCreds   CredentialsProvider
	azure      AzureTokenCredential
	gcp        IdentityFetcher
}

// Option adjusts how methods are built
type Option func(*options)

// WithLogger sets the logger used by methods
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTokenSource provides a fallback for token authentication when no
// token is configured
func WithTokenSource(s TokenSource) Option {
	return func(o *options) { o.tokens = s }
}

// WithUserIDMechanism overrides the AppId user id derivation
func WithUserIDMechanism(m UserIDMechanism) Option {
	return func(o *options) { o.userID = m }
}

// WithHTTPClient sets the client used for cloud metadata requests
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithInstanceIdentity sets the EC2 identity document source
func WithInstanceIdentity(i InstanceIdentity) Option {
	return func(o *options) { o.ec2 = i }
}

// WithCredentialsProvider sets the AWS credentials used to sign IAM logins
func WithCredentialsProvider(p CredentialsProvider) Option {
	return func(o *options) { o.iamCreds = p }
}

// WithAzureCredential sets the managed identity token source
func WithAzureCredential(c AzureTokenCredential) Option {
	return func(o *options) { o.azure = c }
}

// WithIdentityFetcher sets the GCE metadata identity source
func WithIdentityFetcher(f IdentityFetcher) Option {
	return func(o *options) { o.gcp = f }
}

// Select returns the login method configured in props
func Select(props config.VaultProperties, opts ...Option) (Method, error) {
	o := &options{logger: logging.Nop(), httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.Named("auth")

	switch props.Authentication {
	case config.AuthToken, "":
		return newTokenAuth(props, o.tokens)
	case config.AuthAppID:
		mech := o.userID
		if mech == nil {
			mech = NewUserIDMechanism(props.AppID.UserID, props.AppID.NetworkInterface)
		}
		return &AppIDAuth{
			Path:   props.AppID.AppIDPath,
			AppID:  props.AppID.AppID,
			UserID: mech,
			logger: logger,
		}, nil
	case config.AuthCert:
		return &CertAuth{Path: props.SSL.CertAuthPath}, nil
	case config.AuthAppRole:
		return newAppRoleAuth(props.AppRole)
	case config.AuthUserpass:
		return newUserpassAuth(props.Userpass)
	case config.AuthKubernetes:
		return &KubernetesAuth{
			Path:      props.Kubernetes.KubernetesPath,
			Role:      props.Kubernetes.Role,
			TokenFile: props.Kubernetes.ServiceAccountTokenFile,
		}, nil
	case config.AuthAWSEC2:
		return &AWSEC2Auth{
			Path:             props.AWSEC2.AWSEC2Path,
			Role:             props.AWSEC2.Role,
			Nonce:            props.AWSEC2.Nonce,
			IdentityDocument: props.AWSEC2.IdentityDocument,
			identity:         o.ec2,
			logger:           logger,
		}, nil
	case config.AuthAWSIAM:
		return &AWSIAMAuth{
			Path:        props.AWSIAM.AWSPath,
			Role:        props.AWSIAM.Role,
			ServerID:    props.AWSIAM.ServerID,
			Region:      props.AWSIAM.Region,
			Endpoint:    props.AWSIAM.Endpoint,
			credentials: o.iamCreds,
		}, nil
	case config.AuthAzureMSI:
		return &AzureMSIAuth{
			Path:              props.AzureMSI.AzurePath,
			Role:              props.AzureMSI.Role,
			Resource:          props.AzureMSI.Resource,
			SubscriptionID:    props.AzureMSI.SubscriptionID,
			ResourceGroupName: props.AzureMSI.ResourceGroupName,
			VMName:            props.AzureMSI.VMName,
			credential:        o.azure,
			httpClient:        o.httpClient,
		}, nil
	case config.AuthGCPGCE:
		return &GCPGCEAuth{
			Path:           props.GCPGCE.GCPPath,
			Role:           props.GCPGCE.Role,
			ServiceAccount: props.GCPGCE.ServiceAccount,
			fetch:          o.gcp,
		}, nil
	case config.AuthCubbyhole:
		return newCubbyholeAuth(props.Token)
	}

	return nil, dserrors.ConfigError{
		Field:   "spring.cloud.vault.authentication",
		Value:   props.Authentication,
		Message: "unsupported authentication method",
	}
}

// loginPath builds auth/<mount>/login
func loginPath(mount string) string {
	return "auth/" + strings.Trim(mount, "/") + "/login"
}

// writeLogin posts a login payload and checks that a token came back
func writeLogin(ctx context.Context, client *api.Client, mount string, data map[string]interface{}) (*api.Secret, error) {
	secret, err := client.Logical().WriteWithContext(ctx, loginPath(mount), data)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil {
		return nil, fmt.Errorf("login at %s returned no auth data", loginPath(mount))
	}
	return secret, nil
}

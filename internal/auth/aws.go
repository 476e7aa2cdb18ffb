package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/logging"
)

// InstanceIdentity reads EC2 instance metadata. *imds.Client implements it.
type InstanceIdentity interface {
	GetDynamicData(ctx context.Context, params *imds.GetDynamicDataInput, optFns ...func(*imds.Options)) (*imds.GetDynamicDataOutput, error)
}

// CredentialsProvider supplies AWS credentials for IAM login signing
type CredentialsProvider = aws.CredentialsProvider

// AWSEC2Auth logs in with the PKCS#7 signed instance identity document
type AWSEC2Auth struct {
	Path             string
	Role             string
	Nonce            string
	IdentityDocument string

	identity InstanceIdentity
	logger   *logging.Logger
	once     sync.Once
}

// Name implements Method
func (a *AWSEC2Auth) Name() config.AuthenticationMethod { return config.AuthAWSEC2 }

// Login implements api.AuthMethod. Without a configured nonce one is
// generated on first login and reused, since Vault binds the instance to
// the nonce of its first login.
func (a *AWSEC2Auth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	pkcs7, err := a.document(ctx)
	if err != nil {
		return nil, err
	}

	a.once.Do(func() {
		if a.Nonce == "" {
			a.Nonce = uuid.NewString()
			if a.logger != nil {
				a.logger.Debug("Generated EC2 login nonce")
			}
		}
	})

	data := map[string]interface{}{
		"pkcs7": pkcs7,
		"nonce": a.Nonce,
	}
	if a.Role != "" {
		data["role"] = a.Role
	}
	return writeLogin(ctx, client, a.Path, data)
}

func (a *AWSEC2Auth) document(ctx context.Context) (string, error) {
	if a.IdentityDocument != "" {
		return stripNewlines(a.IdentityDocument), nil
	}

	source := a.identity
	if source == nil {
		source = imds.New(imds.Options{})
	}
	out, err := source.GetDynamicData(ctx, &imds.GetDynamicDataInput{Path: "instance-identity/pkcs7"})
	if err != nil {
		return "", fmt.Errorf("read EC2 identity document: %w", err)
	}
	defer out.Content.Close()

	raw, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("read EC2 identity document: %w", err)
	}
	return stripNewlines(string(raw)), nil
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(strings.TrimSpace(s))
}

const stsBody = "Action=GetCallerIdentity&Version=2011-06-15"

// AWSIAMAuth logs in with a SigV4 signed sts:GetCallerIdentity request
type AWSIAMAuth struct {
	Path     string
	Role     string
	ServerID string
	Region   string
	Endpoint string

	credentials CredentialsProvider
}

// Name implements Method
func (a *AWSIAMAuth) Name() config.AuthenticationMethod { return config.AuthAWSIAM }

// Login implements api.AuthMethod
func (a *AWSIAMAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	data, err := a.loginData(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return writeLogin(ctx, client, a.Path, data)
}

func (a *AWSIAMAuth) loginData(ctx context.Context, now time.Time) (map[string]interface{}, error) {
	region := a.Region
	provider := a.credentials
	if provider == nil {
		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS configuration: %w", err)
		}
		provider = cfg.Credentials
		if region == "" {
			region = cfg.Region
		}
	}
	if region == "" {
		region = "us-east-1"
	}

	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve AWS credentials: %w", err)
	}

	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = "https://sts.amazonaws.com/"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid STS endpoint %q: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(stsBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	if a.ServerID != "" {
		req.Header.Set("X-Vault-AWS-IAM-Server-ID", a.ServerID)
	}

	sum := sha256.Sum256([]byte(stsBody))
	if err := v4.NewSigner().SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "sts", region, now); err != nil {
		return nil, fmt.Errorf("sign STS request: %w", err)
	}

	headers := req.Header.Clone()
	headers.Set("Host", u.Host)
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"iam_http_request_method": http.MethodPost,
		"iam_request_url":         base64.StdEncoding.EncodeToString([]byte(endpoint)),
		"iam_request_body":        base64.StdEncoding.EncodeToString([]byte(stsBody)),
		"iam_request_headers":     base64.StdEncoding.EncodeToString(headerJSON),
	}
	if a.Role != "" {
		data["role"] = a.Role
	}
	return data, nil
}

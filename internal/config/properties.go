package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	dserrors "github.com/systmms/vaultconfig/internal/errors"
)

// AuthenticationMethod selects how the client obtains a Vault token
type AuthenticationMethod string

const (
	AuthToken      AuthenticationMethod = "TOKEN"
	AuthAppID      AuthenticationMethod = "APPID"
	AuthAppRole    AuthenticationMethod = "APPROLE"
	AuthCert       AuthenticationMethod = "CERT"
	AuthUserpass   AuthenticationMethod = "USERPASS"
	AuthKubernetes AuthenticationMethod = "KUBERNETES"
	AuthAWSEC2     AuthenticationMethod = "AWS_EC2"
	AuthAWSIAM     AuthenticationMethod = "AWS_IAM"
	AuthAzureMSI   AuthenticationMethod = "AZURE_MSI"
	AuthGCPGCE     AuthenticationMethod = "GCP_GCE"
	AuthCubbyhole  AuthenticationMethod = "CUBBYHOLE"
)

// AuthenticationMethods lists every supported method in display order
var AuthenticationMethods = []AuthenticationMethod{
	AuthToken, AuthAppID, AuthAppRole, AuthCert, AuthUserpass, AuthKubernetes,
	AuthAWSEC2, AuthAWSIAM, AuthAzureMSI, AuthGCPGCE, AuthCubbyhole,
}

var methodAliases = map[string]AuthenticationMethod{
	"APP_ID":   AuthAppID,
	"APP_ROLE": AuthAppRole,
	"K8S":      AuthKubernetes,
	"AWSEC2":   AuthAWSEC2,
	"AWSIAM":   AuthAWSIAM,
	"AZURE":    AuthAzureMSI,
	"GCE":      AuthGCPGCE,
}

// ParseAuthenticationMethod accepts the method name in any case, with '-' or
// '_' separators. An empty value selects token authentication
func ParseAuthenticationMethod(s string) (AuthenticationMethod, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if norm == "" {
		return AuthToken, nil
	}
	if alias, ok := methodAliases[norm]; ok {
		return alias, nil
	}
	for _, m := range AuthenticationMethods {
		if string(m) == norm {
			return m, nil
		}
	}

	names := make([]string, 0, len(AuthenticationMethods))
	for _, m := range AuthenticationMethods {
		names = append(names, strings.ToLower(string(m)))
	}
	return "", dserrors.ConfigError{
		Field:      "spring.cloud.vault.authentication",
		Value:      s,
		Message:    "unsupported authentication method",
		Suggestion: "Supported methods: " + strings.Join(names, ", "),
	}
}

// User id mechanisms understood by AppId authentication. Any other value is
// used as a static user id
const (
	UserIDIPAddress  = "IP_ADDRESS"
	UserIDMACAddress = "MAC_ADDRESS"
)

// VaultProperties is the spring.cloud.vault configuration subtree
type VaultProperties struct {
	Enabled           bool                 `mapstructure:"enabled" json:"enabled"`
	Host              string               `mapstructure:"host" json:"host"`
	Port              int                  `mapstructure:"port" json:"port"`
	Scheme            string               `mapstructure:"scheme" json:"scheme"`
	URI               string               `mapstructure:"uri" json:"uri,omitempty"`
	Namespace         string               `mapstructure:"namespace" json:"namespace,omitempty"`
	ConnectionTimeout time.Duration        `mapstructure:"connection-timeout" json:"connection-timeout"`
	ReadTimeout       time.Duration        `mapstructure:"read-timeout" json:"read-timeout"`
	FailFast          bool                 `mapstructure:"fail-fast" json:"fail-fast"`
	Token             string               `mapstructure:"token" json:"-"`
	Authentication    AuthenticationMethod `mapstructure:"authentication" json:"authentication"`

	AppID        AppIDProperties        `mapstructure:"app-id" json:"app-id"`
	AppRole      AppRoleProperties      `mapstructure:"app-role" json:"app-role"`
	Userpass     UserpassProperties     `mapstructure:"userpass" json:"userpass"`
	Kubernetes   KubernetesProperties   `mapstructure:"kubernetes" json:"kubernetes"`
	AWSEC2       AWSEC2Properties       `mapstructure:"aws-ec2" json:"aws-ec2"`
	AWSIAM       AWSIAMProperties       `mapstructure:"aws-iam" json:"aws-iam"`
	AzureMSI     AzureMSIProperties     `mapstructure:"azure-msi" json:"azure-msi"`
	GCPGCE       GCPGCEProperties       `mapstructure:"gcp-gce" json:"gcp-gce"`
	SSL          SSLProperties          `mapstructure:"ssl" json:"ssl"`
	Generic      GenericProperties      `mapstructure:"generic" json:"generic"`
	TokenRenewal TokenRenewalProperties `mapstructure:"token-renewal" json:"token-renewal"`
}

// AppIDProperties configures AppId authentication
type AppIDProperties struct {
	AppIDPath        string `mapstructure:"app-id-path" json:"app-id-path"`
	AppID            string `mapstructure:"app-id" json:"app-id"`
	UserID           string `mapstructure:"user-id" json:"user-id"`
	NetworkInterface string `mapstructure:"network-interface" json:"network-interface,omitempty"`
}

// AppRoleProperties configures AppRole authentication
type AppRoleProperties struct {
	AppRolePath string `mapstructure:"app-role-path" json:"app-role-path"`
	RoleID      string `mapstructure:"role-id" json:"role-id,omitempty"`
	SecretID    string `mapstructure:"secret-id" json:"-"`
}

// UserpassProperties configures username/password authentication
type UserpassProperties struct {
	Path     string `mapstructure:"path" json:"path"`
	Username string `mapstructure:"username" json:"username,omitempty"`
	Password string `mapstructure:"password" json:"-"`
}

// KubernetesProperties configures Kubernetes service account authentication
type KubernetesProperties struct {
	KubernetesPath          string `mapstructure:"kubernetes-path" json:"kubernetes-path"`
	Role                    string `mapstructure:"role" json:"role,omitempty"`
	ServiceAccountTokenFile string `mapstructure:"service-account-token-file" json:"service-account-token-file"`
}

// AWSEC2Properties configures AWS EC2 identity document authentication
type AWSEC2Properties struct {
	AWSEC2Path       string `mapstructure:"aws-ec2-path" json:"aws-ec2-path"`
	Role             string `mapstructure:"role" json:"role,omitempty"`
	Nonce            string `mapstructure:"nonce" json:"-"`
	IdentityDocument string `mapstructure:"identity-document" json:"identity-document,omitempty"`
}

// AWSIAMProperties configures AWS IAM (signed GetCallerIdentity) authentication
type AWSIAMProperties struct {
	AWSPath  string `mapstructure:"aws-path" json:"aws-path"`
	Role     string `mapstructure:"role" json:"role,omitempty"`
	ServerID string `mapstructure:"server-id" json:"server-id,omitempty"`
	Region   string `mapstructure:"region" json:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

// AzureMSIProperties configures Azure managed identity authentication
type AzureMSIProperties struct {
	AzurePath         string `mapstructure:"azure-path" json:"azure-path"`
	Role              string `mapstructure:"role" json:"role,omitempty"`
	Resource          string `mapstructure:"resource" json:"resource"`
	SubscriptionID    string `mapstructure:"subscription-id" json:"subscription-id,omitempty"`
	ResourceGroupName string `mapstructure:"resource-group-name" json:"resource-group-name,omitempty"`
	VMName            string `mapstructure:"vm-name" json:"vm-name,omitempty"`
}

// GCPGCEProperties configures GCE instance identity authentication
type GCPGCEProperties struct {
	GCPPath        string `mapstructure:"gcp-path" json:"gcp-path"`
	Role           string `mapstructure:"role" json:"role,omitempty"`
	ServiceAccount string `mapstructure:"service-account" json:"service-account"`
}

// SSLProperties holds trust and key material
type SSLProperties struct {
	KeyStore           string `mapstructure:"key-store" json:"key-store,omitempty"`
	KeyStorePassword   string `mapstructure:"key-store-password" json:"-"`
	ClientCert         string `mapstructure:"client-cert" json:"client-cert,omitempty"`
	ClientKey          string `mapstructure:"client-key" json:"client-key,omitempty"`
	TrustStore         string `mapstructure:"trust-store" json:"trust-store,omitempty"`
	TrustStorePassword string `mapstructure:"trust-store-password" json:"-"`
	CACert             string `mapstructure:"ca-cert" json:"ca-cert,omitempty"`
	CertAuthPath       string `mapstructure:"cert-auth-path" json:"cert-auth-path"`
	SkipVerify         bool   `mapstructure:"skip-verify" json:"skip-verify"`
}

// HasClientCertificate reports whether any client key material is configured
func (s SSLProperties) HasClientCertificate() bool {
	return s.KeyStore != "" || (s.ClientCert != "" && s.ClientKey != "")
}

// GenericProperties configures the key/value secret backend
type GenericProperties struct {
	Enabled          bool   `mapstructure:"enabled" json:"enabled"`
	Backend          string `mapstructure:"backend" json:"backend"`
	BackendVersion   int    `mapstructure:"backend-version" json:"backend-version"`
	ProfileSeparator string `mapstructure:"profile-separator" json:"profile-separator"`
	DefaultContext   string `mapstructure:"default-context" json:"default-context"`
	ApplicationName  string `mapstructure:"application-name" json:"application-name"`
}

// ApplicationNames splits the comma-separated application-name list
func (g GenericProperties) ApplicationNames() []string {
	return splitList(g.ApplicationName)
}

// TokenRenewalProperties controls background token renewal
type TokenRenewalProperties struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// Address returns the Vault base URL, preferring an explicit uri
func (p VaultProperties) Address() string {
	if p.URI != "" {
		return strings.TrimSuffix(p.URI, "/")
	}
	u := url.URL{
		Scheme: p.Scheme,
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
	}
	return u.String()
}

// String renders a short description without credentials
func (p VaultProperties) String() string {
	return fmt.Sprintf("vault[%s auth=%s backend=%s v%d]",
		p.Address(), strings.ToLower(string(p.Authentication)), p.Generic.Backend, p.Generic.BackendVersion)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

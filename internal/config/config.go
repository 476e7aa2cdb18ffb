package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
)

// DefaultPath is the bootstrap file looked up when --config is not given
const DefaultPath = "vaultconfig.yaml"

const (
	keyAppName  = "spring.application.name"
	keyProfiles = "spring.profiles.active"
	keyVault    = "spring.cloud.vault"
	keyMetrics  = "vaultconfig.metrics.address"
)

// Config holds the runtime configuration
type Config struct {
	Path           string
	Overrides      map[string]string // --set key=value, highest precedence
	Profiles       []string          // --profile, replaces spring.profiles.active
	Logger         *logging.Logger
	NonInteractive bool

	Application Application
	Vault       *VaultProperties
	Metrics     MetricsProperties

	v *viper.Viper
}

// Application identifies the configured application
type Application struct {
	Name     string
	Profiles []string
}

// MetricsProperties configures the agent HTTP listener
type MetricsProperties struct {
	Address string
}

var defaults = map[string]interface{}{
	keyAppName:  "application",
	keyProfiles: "",
	keyMetrics:  ":9102",

	keyVault + ".enabled":            true,
	keyVault + ".host":               "localhost",
	keyVault + ".port":               8200,
	keyVault + ".scheme":             "https",
	keyVault + ".uri":                "",
	keyVault + ".namespace":          "",
	keyVault + ".connection-timeout": 5 * time.Second,
	keyVault + ".read-timeout":       15 * time.Second,
	keyVault + ".fail-fast":          false,
	keyVault + ".token":              "",
	keyVault + ".authentication":     "token",

	keyVault + ".app-id.app-id-path":       "app-id",
	keyVault + ".app-id.app-id":            "",
	keyVault + ".app-id.user-id":           UserIDMACAddress,
	keyVault + ".app-id.network-interface": "",

	keyVault + ".app-role.app-role-path": "approle",
	keyVault + ".app-role.role-id":       "",
	keyVault + ".app-role.secret-id":     "",

	keyVault + ".userpass.path":     "userpass",
	keyVault + ".userpass.username": "",
	keyVault + ".userpass.password": "",

	keyVault + ".kubernetes.kubernetes-path":            "kubernetes",
	keyVault + ".kubernetes.role":                       "",
	keyVault + ".kubernetes.service-account-token-file": "/var/run/secrets/kubernetes.io/serviceaccount/token",

	keyVault + ".aws-ec2.aws-ec2-path":      "aws-ec2",
	keyVault + ".aws-ec2.role":              "",
	keyVault + ".aws-ec2.nonce":             "",
	keyVault + ".aws-ec2.identity-document": "",

	keyVault + ".aws-iam.aws-path":  "aws",
	keyVault + ".aws-iam.role":      "",
	keyVault + ".aws-iam.server-id": "",
	keyVault + ".aws-iam.region":    "",
	keyVault + ".aws-iam.endpoint":  "https://sts.amazonaws.com/",

	keyVault + ".azure-msi.azure-path":          "azure",
	keyVault + ".azure-msi.role":                "",
	keyVault + ".azure-msi.resource":            "https://management.azure.com/",
	keyVault + ".azure-msi.subscription-id":     "",
	keyVault + ".azure-msi.resource-group-name": "",
	keyVault + ".azure-msi.vm-name":             "",

	keyVault + ".gcp-gce.gcp-path":        "gcp",
	keyVault + ".gcp-gce.role":            "",
	keyVault + ".gcp-gce.service-account": "default",

	keyVault + ".ssl.key-store":            "",
	keyVault + ".ssl.key-store-password":   "",
	keyVault + ".ssl.client-cert":          "",
	keyVault + ".ssl.client-key":           "",
	keyVault + ".ssl.trust-store":          "",
	keyVault + ".ssl.trust-store-password": "",
	keyVault + ".ssl.ca-cert":              "",
	keyVault + ".ssl.cert-auth-path":       "cert",
	keyVault + ".ssl.skip-verify":          false,

	keyVault + ".generic.enabled":           true,
	keyVault + ".generic.backend":           "secret",
	keyVault + ".generic.backend-version":   1,
	keyVault + ".generic.profile-separator": "/",
	keyVault + ".generic.default-context":   "application",
	keyVault + ".generic.application-name":  "",

	keyVault + ".token-renewal.enabled": true,
}

// Vault CLI environment variables honoured in addition to the relaxed
// SPRING_CLOUD_VAULT_* names
var envAliases = map[string][]string{
	keyVault + ".token":           {"VAULT_TOKEN"},
	keyVault + ".uri":             {"VAULT_ADDR"},
	keyVault + ".namespace":       {"VAULT_NAMESPACE"},
	keyVault + ".ssl.ca-cert":     {"VAULT_CACERT"},
	keyVault + ".ssl.client-cert": {"VAULT_CLIENT_CERT"},
	keyVault + ".ssl.client-key":  {"VAULT_CLIENT_KEY"},
	keyVault + ".ssl.skip-verify": {"VAULT_SKIP_VERIFY"},
}

// Load reads the bootstrap file, environment and overrides into c
func (c *Config) Load() error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, aliases := range envAliases {
		relaxed := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if err := v.BindEnv(append([]string{key, relaxed}, aliases...)...); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if err := c.readFile(v); err != nil {
		return err
	}

	for key, value := range c.Overrides {
		v.Set(key, value)
	}

	c.v = v
	return c.bind()
}

func (c *Config) readFile(v *viper.Viper) error {
	path := c.Path
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if !explicit {
				return nil
			}
			return dserrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Create the file or drop --config to rely on environment variables",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return dserrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}
	return nil
}

// bootstrapTree mirrors the nesting of the bootstrap file. Unmarshal goes
// through AllSettings so environment and override values reach leaf keys
type bootstrapTree struct {
	Spring struct {
		Cloud struct {
			Vault VaultProperties `mapstructure:"vault"`
		} `mapstructure:"cloud"`
	} `mapstructure:"spring"`
}

func (c *Config) bind() error {
	var tree bootstrapTree
	if err := c.v.Unmarshal(&tree); err != nil {
		return dserrors.ConfigError{
			Field:      keyVault,
			Message:    fmt.Sprintf("cannot decode settings: %v", err),
			Suggestion: "Check value types, e.g. port must be a number and timeouts durations like '5s'",
		}
	}

	props := tree.Spring.Cloud.Vault
	method, err := ParseAuthenticationMethod(string(props.Authentication))
	if err != nil {
		return err
	}
	props.Authentication = method

	c.Application = Application{
		Name:     strings.TrimSpace(c.v.GetString(keyAppName)),
		Profiles: c.Profiles,
	}
	if len(c.Application.Profiles) == 0 {
		c.Application.Profiles = toList(c.v.Get(keyProfiles))
	}

	if props.AppID.AppID == "" {
		props.AppID.AppID = c.Application.Name
	}
	if props.Generic.ApplicationName == "" {
		props.Generic.ApplicationName = c.Application.Name
	}

	c.Metrics = MetricsProperties{Address: c.v.GetString(keyMetrics)}
	c.Vault = &props
	return nil
}

// Lookup returns a raw bootstrap setting by dotted key
func (c *Config) Lookup(key string) (string, bool) {
	if c.v == nil || !c.v.IsSet(key) {
		return "", false
	}
	return c.v.GetString(key), true
}

// SettingsFile returns the file that was read, if any
func (c *Config) SettingsFile() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// ParseOverrides turns key=value pairs into an override map
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("Invalid override %q", pair),
				Suggestion: "Use --set key=value, e.g. --set spring.cloud.vault.authentication=appid",
			}
		}
		out[key] = value
	}
	return out, nil
}

func toList(raw interface{}) []string {
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		return splitList(val)
	case []string:
		return splitList(strings.Join(val, ","))
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return splitList(strings.Join(parts, ","))
	default:
		return splitList(fmt.Sprint(val))
	}
}

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/vaultconfig/internal/errors"
)

//go:embed schema.json
var schemaJSON []byte

// Validate checks the bound properties against the bootstrap schema and the
// per-method requirements
func (c *Config) Validate() error {
	if c.Vault == nil {
		return dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	if err := validateSchema(c.Vault); err != nil {
		return err
	}
	return c.Vault.validateMethod()
}

func validateSchema(props *VaultProperties) error {
	doc, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal settings for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var fields, messages []string
	for _, desc := range result.Errors() {
		fields = append(fields, keyVault+"."+desc.Field())
		messages = append(messages, desc.String())
	}
	return dserrors.ConfigError{
		Field:      strings.Join(fields, ", "),
		Message:    "invalid settings:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "Fix the listed keys in your bootstrap file, environment or --set overrides",
	}
}

func (p *VaultProperties) validateMethod() error {
	required := func(field, value, suggestion string) error {
		if strings.TrimSpace(value) != "" {
			return nil
		}
		return dserrors.ConfigError{
			Field:      keyVault + "." + field,
			Message:    fmt.Sprintf("required for %s authentication", strings.ToLower(string(p.Authentication))),
			Suggestion: suggestion,
		}
	}

	switch p.Authentication {
	case AuthToken:
		// The token may also come from the OS keyring, checked at login
		return nil
	case AuthCubbyhole:
		return required("token", p.Token, "Set the wrapping token via spring.cloud.vault.token or VAULT_TOKEN")
	case AuthAppID:
		if err := required("app-id.app-id", p.AppID.AppID, "Set spring.application.name or spring.cloud.vault.app-id.app-id"); err != nil {
			return err
		}
		return required("app-id.user-id", p.AppID.UserID, "Use IP_ADDRESS, MAC_ADDRESS or a static user id")
	case AuthAppRole:
		return required("app-role.role-id", p.AppRole.RoleID, "Set spring.cloud.vault.app-role.role-id")
	case AuthCert:
		if !p.SSL.HasClientCertificate() {
			return dserrors.ConfigError{
				Field:      keyVault + ".ssl.key-store",
				Message:    "cert authentication needs a client certificate",
				Suggestion: "Set ssl.key-store and ssl.key-store-password, or ssl.client-cert and ssl.client-key",
			}
		}
		return nil
	case AuthUserpass:
		if err := required("userpass.username", p.Userpass.Username, "Set spring.cloud.vault.userpass.username"); err != nil {
			return err
		}
		return required("userpass.password", p.Userpass.Password, "Set spring.cloud.vault.userpass.password or SPRING_CLOUD_VAULT_USERPASS_PASSWORD")
	case AuthKubernetes:
		return required("kubernetes.role", p.Kubernetes.Role, "Set spring.cloud.vault.kubernetes.role")
	case AuthAWSEC2:
		return nil
	case AuthAWSIAM:
		return nil
	case AuthAzureMSI:
		return required("azure-msi.role", p.AzureMSI.Role, "Set spring.cloud.vault.azure-msi.role")
	case AuthGCPGCE:
		return required("gcp-gce.role", p.GCPGCE.Role, "Set spring.cloud.vault.gcp-gce.role")
	}
	return nil
}

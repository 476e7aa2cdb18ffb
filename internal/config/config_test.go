package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultconfig/internal/logging"
)

// clearVaultEnv keeps the developer's shell from leaking into defaults
func clearVaultEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"VAULT_TOKEN", "VAULT_ADDR", "VAULT_NAMESPACE", "VAULT_CACERT",
		"VAULT_CLIENT_CERT", "VAULT_CLIENT_KEY", "VAULT_SKIP_VERIFY",
		"SPRING_CLOUD_VAULT_TOKEN", "SPRING_CLOUD_VAULT_URI", "SPRING_CLOUD_VAULT_AUTHENTICATION",
		"SPRING_APPLICATION_NAME", "SPRING_PROFILES_ACTIVE",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultconfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearVaultEnv(t)
	chdir(t, t.TempDir())

	cfg := &Config{Logger: logging.Nop()}
	require.NoError(t, cfg.Load())

	props := cfg.Vault
	assert.True(t, props.Enabled)
	assert.Equal(t, "https://localhost:8200", props.Address())
	assert.Equal(t, AuthToken, props.Authentication)
	assert.Equal(t, 5*time.Second, props.ConnectionTimeout)
	assert.Equal(t, 15*time.Second, props.ReadTimeout)
	assert.Equal(t, "app-id", props.AppID.AppIDPath)
	assert.Equal(t, UserIDMACAddress, props.AppID.UserID)
	assert.Equal(t, "cert", props.SSL.CertAuthPath)
	assert.Equal(t, "secret", props.Generic.Backend)
	assert.Equal(t, 1, props.Generic.BackendVersion)
	assert.Equal(t, "/", props.Generic.ProfileSeparator)
	assert.Equal(t, "application", props.Generic.DefaultContext)
	assert.Equal(t, "application", cfg.Application.Name)
	assert.Empty(t, cfg.Application.Profiles)
	assert.Equal(t, ":9102", cfg.Metrics.Address)
	require.NoError(t, cfg.Validate())
}

func TestLoad_AppIDFile(t *testing.T) {
	clearVaultEnv(t)

	path := writeConfig(t, `
spring:
  application:
    name: VaultConfigAppIdTests
  cloud:
    vault:
      host: vault.internal
      port: 8201
      scheme: http
      authentication: appid
      app-id:
        user-id: IP_ADDRESS
`)

	cfg := &Config{Path: path, Logger: logging.Nop()}
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, AuthAppID, cfg.Vault.Authentication)
	assert.Equal(t, UserIDIPAddress, cfg.Vault.AppID.UserID)
	assert.Equal(t, "VaultConfigAppIdTests", cfg.Vault.AppID.AppID)
	assert.Equal(t, "VaultConfigAppIdTests", cfg.Vault.Generic.ApplicationName)
	assert.Equal(t, "http://vault.internal:8201", cfg.Vault.Address())
	assert.Equal(t, path, cfg.SettingsFile())
}

func TestLoad_CertFlatKeysViaOverrides(t *testing.T) {
	clearVaultEnv(t)
	chdir(t, t.TempDir())

	overrides, err := ParseOverrides([]string{
		"spring.cloud.vault.authentication=cert",
		"spring.cloud.vault.ssl.key-store=file:../work/client-cert.jks",
		"spring.cloud.vault.ssl.key-store-password=changeit",
		"spring.application.name=VaultConfigTlsCertAuthenticationTests",
		"spring.cloud.vault.port=8443",
		"spring.cloud.vault.fail-fast=true",
	})
	require.NoError(t, err)

	cfg := &Config{Overrides: overrides, Logger: logging.Nop()}
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, AuthCert, cfg.Vault.Authentication)
	assert.Equal(t, "file:../work/client-cert.jks", cfg.Vault.SSL.KeyStore)
	assert.Equal(t, "changeit", cfg.Vault.SSL.KeyStorePassword)
	assert.Equal(t, 8443, cfg.Vault.Port)
	assert.True(t, cfg.Vault.FailFast)
	assert.Equal(t, "VaultConfigTlsCertAuthenticationTests", cfg.Application.Name)
}

func TestLoad_ProfilesFromFileAndFlag(t *testing.T) {
	clearVaultEnv(t)

	path := writeConfig(t, `
spring:
  application:
    name: testVaultApp
  profiles:
    active: my-profile, other
`)

	cfg := &Config{Path: path, Logger: logging.Nop()}
	require.NoError(t, cfg.Load())
	assert.Equal(t, []string{"my-profile", "other"}, cfg.Application.Profiles)

	listPath := writeConfig(t, `
spring:
  profiles:
    active:
      - cloud
      - eu
`)
	cfg = &Config{Path: listPath, Logger: logging.Nop()}
	require.NoError(t, cfg.Load())
	assert.Equal(t, []string{"cloud", "eu"}, cfg.Application.Profiles)

	cfg = &Config{Path: path, Profiles: []string{"flag"}, Logger: logging.Nop()}
	require.NoError(t, cfg.Load())
	assert.Equal(t, []string{"flag"}, cfg.Application.Profiles)
}

func TestLoad_EnvironmentPrecedence(t *testing.T) {
	clearVaultEnv(t)
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8300")
	t.Setenv("VAULT_TOKEN", "env-token")
	t.Setenv("SPRING_CLOUD_VAULT_AUTHENTICATION", "approle")
	t.Setenv("SPRING_CLOUD_VAULT_APP_ROLE_ROLE_ID", "role-from-env")

	path := writeConfig(t, `
spring:
  cloud:
    vault:
      authentication: token
      token: file-token
`)

	cfg := &Config{
		Path:      path,
		Overrides: map[string]string{"spring.cloud.vault.token": "flag-token"},
		Logger:    logging.Nop(),
	}
	require.NoError(t, cfg.Load())

	assert.Equal(t, "http://127.0.0.1:8300", cfg.Vault.Address())
	assert.Equal(t, "flag-token", cfg.Vault.Token)
	assert.Equal(t, AuthAppRole, cfg.Vault.Authentication)
	assert.Equal(t, "role-from-env", cfg.Vault.AppRole.RoleID)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: "/nonexistent/vaultconfig.yaml", Logger: logging.Nop()}
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearVaultEnv(t)

	path := writeConfig(t, "spring:\n  cloud: [[[\n")
	cfg := &Config{Path: path, Logger: logging.Nop()}
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML syntax")
}

func TestLoad_UnknownAuthentication(t *testing.T) {
	clearVaultEnv(t)
	chdir(t, t.TempDir())

	cfg := &Config{
		Overrides: map[string]string{"spring.cloud.vault.authentication": "kerberos"},
		Logger:    logging.Nop(),
	}
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported authentication method")
}

func TestValidate_Schema(t *testing.T) {
	clearVaultEnv(t)
	chdir(t, t.TempDir())

	tests := []struct {
		name      string
		overrides map[string]string
		contains  string
	}{
		{
			name:      "bad scheme",
			overrides: map[string]string{"spring.cloud.vault.scheme": "ftp"},
			contains:  "scheme",
		},
		{
			name:      "port out of range",
			overrides: map[string]string{"spring.cloud.vault.port": "70000"},
			contains:  "port",
		},
		{
			name:      "unsupported kv version",
			overrides: map[string]string{"spring.cloud.vault.generic.backend-version": "3"},
			contains:  "backend-version",
		},
		{
			name:      "backend with slashes",
			overrides: map[string]string{"spring.cloud.vault.generic.backend": "/secret/"},
			contains:  "backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Overrides: tt.overrides, Logger: logging.Nop()}
			require.NoError(t, cfg.Load())
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidate_MethodRequirements(t *testing.T) {
	clearVaultEnv(t)
	chdir(t, t.TempDir())

	tests := []struct {
		name      string
		overrides map[string]string
		wantErr   string
	}{
		{
			name:      "cert without key material",
			overrides: map[string]string{"spring.cloud.vault.authentication": "cert"},
			wantErr:   "client certificate",
		},
		{
			name: "cert with pem pair",
			overrides: map[string]string{
				"spring.cloud.vault.authentication":   "cert",
				"spring.cloud.vault.ssl.client-cert": "client.pem",
				"spring.cloud.vault.ssl.client-key":  "client.key",
			},
		},
		{
			name:      "approle without role id",
			overrides: map[string]string{"spring.cloud.vault.authentication": "app-role"},
			wantErr:   "app-role.role-id",
		},
		{
			name:      "kubernetes without role",
			overrides: map[string]string{"spring.cloud.vault.authentication": "kubernetes"},
			wantErr:   "kubernetes.role",
		},
		{
			name:      "cubbyhole without token",
			overrides: map[string]string{"spring.cloud.vault.authentication": "cubbyhole"},
			wantErr:   "token",
		},
		{
			name: "userpass complete",
			overrides: map[string]string{
				"spring.cloud.vault.authentication":     "userpass",
				"spring.cloud.vault.userpass.username": "svc",
				"spring.cloud.vault.userpass.password": "pw",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Overrides: tt.overrides, Logger: logging.Nop()}
			require.NoError(t, cfg.Load())
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAuthenticationMethod(t *testing.T) {
	t.Parallel()

	tests := map[string]AuthenticationMethod{
		"":          AuthToken,
		"token":     AuthToken,
		"appid":     AuthAppID,
		"APP_ID":    AuthAppID,
		"cert":      AuthCert,
		"aws-ec2":   AuthAWSEC2,
		"aws_iam":   AuthAWSIAM,
		"Azure-MSI": AuthAzureMSI,
		"k8s":       AuthKubernetes,
		"cubbyhole": AuthCubbyhole,
	}
	for in, want := range tests {
		got, err := ParseAuthenticationMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Parallel()

	got, err := ParseOverrides([]string{"a.b=c", "x=y=z", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.b": "c", "x": "y=z", "empty": ""}, got)

	_, err = ParseOverrides([]string{"novalue"})
	assert.Error(t, err)
}

func TestGenericApplicationNames(t *testing.T) {
	t.Parallel()

	g := GenericProperties{ApplicationName: "orders, billing,,"}
	assert.Equal(t, []string{"orders", "billing"}, g.ApplicationNames())
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

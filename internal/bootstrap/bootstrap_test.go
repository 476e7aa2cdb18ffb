package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultconfig/internal/auth"
	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
	"github.com/systmms/vaultconfig/internal/vault"
	"github.com/systmms/vaultconfig/internal/vaulttest"
	"github.com/systmms/vaultconfig/pkg/vaultprep"
)

func newConfig(props config.VaultProperties, app string, profiles ...string) *config.Config {
	props.Generic.ApplicationName = app
	if props.AppID.AppID == "" {
		props.AppID.AppID = app
	}
	return &config.Config{
		Logger:      logging.Nop(),
		Vault:       &props,
		Application: config.Application{Name: app, Profiles: profiles},
	}
}

// rootPrep returns a provisioning helper authenticated with the root token
func rootPrep(t *testing.T, props config.VaultProperties, token string) *vaultprep.Prep {
	t.Helper()
	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)
	client.API().SetToken(token)
	return vaultprep.New(client, logging.Nop())
}

func TestRun_AppIDWithIPAddress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	props := vaulttest.Properties(srv.Address())
	props.Authentication = config.AuthAppID
	props.AppID.UserID = config.UserIDIPAddress

	mech := &auth.IPAddressUserID{HostAddress: func() (string, error) { return "192.168.10.20", nil }}
	userID, err := mech.CreateUserID()
	require.NoError(t, err)

	prep := rootPrep(t, props, srv.RootToken)
	require.NoError(t, prep.EnsureAuth(ctx, "app-id", "app-id"))
	require.NoError(t, prep.MapAppID(ctx, "VaultConfigAppIdTests", "root"))
	require.NoError(t, prep.MapUserID(ctx, "VaultConfigAppIdTests", userID))
	require.NoError(t, prep.WriteSecret(ctx, "VaultConfigAppIdTests", map[string]interface{}{"vault.value": "foo"}))

	cfg := newConfig(props, "VaultConfigAppIdTests")
	env, err := Run(ctx, cfg, Options{Auth: []auth.Option{auth.WithUserIDMechanism(mech)}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close(ctx) })

	assert.True(t, env.Enabled())
	assert.Equal(t, "foo", env.Get("vault.value"))
	assert.Equal(t, config.AuthAppID, env.Session.Method())
	assert.NoError(t, env.Failures())
}

func TestRun_CertAuthentication(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	props := vaulttest.Properties(srv.Address())
	props.Authentication = config.AuthCert
	props.SSL.KeyStore = pki.Files.KeyStore
	props.SSL.KeyStorePassword = vaulttest.StorePassword
	props.SSL.TrustStore = pki.Files.TrustStore
	props.SSL.TrustStorePassword = vaulttest.StorePassword

	prep := rootPrep(t, props, srv.RootToken)
	require.NoError(t, prep.EnsureAuth(ctx, "cert", "cert"))
	require.NoError(t, prep.RegisterCertificate(ctx, "cert", "web",
		vault.EncodeCertificatePEM(pki.ClientCert.Certificate[0]), []string{"root"}))
	require.NoError(t, prep.WriteSecret(ctx, "VaultConfigTlsCertAuthenticationTests",
		map[string]interface{}{"vault.value": "foo"}))

	env, err := Run(ctx, newConfig(props, "VaultConfigTlsCertAuthenticationTests"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close(ctx) })

	assert.Equal(t, "foo", env.Get("vault.value"))
	logins := srv.Logins()
	require.Len(t, logins, 1)
	assert.Equal(t, "vaultconfig client", logins[0].Peer[0].Subject.CommonName)

	tok, ok := srv.Lookup(env.Session.Token())
	require.True(t, ok)
	assert.Equal(t, []string{"root"}, tok.Policies)
}

func TestRun_CertAuthenticationUnregistered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	props := vaulttest.Properties(srv.Address())
	props.Authentication = config.AuthCert
	props.FailFast = true
	props.SSL.KeyStore = pki.Files.KeyStore
	props.SSL.KeyStorePassword = vaulttest.StorePassword
	props.SSL.TrustStore = pki.Files.TrustStore
	props.SSL.TrustStorePassword = vaulttest.StorePassword

	prep := rootPrep(t, props, srv.RootToken)
	require.NoError(t, prep.EnsureAuth(ctx, "cert", "cert"))

	_, err := Run(ctx, newConfig(props, "VaultConfigTlsCertAuthenticationTests"), Options{})
	require.Error(t, err)
}

func TestRun_ProfileContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	props := vaulttest.Properties(srv.Address())
	props.Token = srv.RootToken

	prep := rootPrep(t, props, srv.RootToken)
	require.NoError(t, prep.WriteSecret(ctx, "testVaultApp", map[string]interface{}{"vault.value": "worls"}))
	require.NoError(t, prep.WriteSecret(ctx, "testVaultApp/my-profile", map[string]interface{}{"vault.value": "hello"}))

	env, err := Run(ctx, newConfig(props, "testVaultApp", "my-profile"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close(ctx) })

	assert.Equal(t, "hello", env.Get("vault.value"))
	assert.Equal(t, []string{"testVaultApp/my-profile", "testVaultApp", "application/my-profile", "application"}, env.Contexts)

	origin, ok := env.Properties.Origin("vault.value")
	require.True(t, ok)
	assert.Equal(t, "testVaultApp/my-profile", origin)

	env, err = Run(ctx, newConfig(props, "testVaultApp"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "worls", env.Get("vault.value"))
}

func TestRun_DefaultContextHasLowestPrecedence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	props := vaulttest.Properties(srv.Address())
	props.Token = srv.RootToken

	srv.Put("secret/application", map[string]interface{}{"shared": "default", "only.default": "d"})
	srv.Put("secret/orders", map[string]interface{}{"shared": "orders"})

	env, err := Run(ctx, newConfig(props, "orders"), Options{})
	require.NoError(t, err)

	assert.Equal(t, "orders", env.Get("shared"))
	assert.Equal(t, "d", env.Get("only.default"))
}

func TestRun_Disabled(t *testing.T) {
	t.Parallel()

	props := vaulttest.Properties("http://127.0.0.1:1")
	props.Enabled = false

	env, err := Run(context.Background(), newConfig(props, "app"), Options{})
	require.NoError(t, err)
	assert.False(t, env.Enabled())
	assert.Zero(t, env.Properties.Len())
	assert.NoError(t, env.Close(context.Background()))
}

func TestRun_InvalidSettings(t *testing.T) {
	t.Parallel()

	props := vaulttest.Properties("http://127.0.0.1:1")
	props.Authentication = config.AuthAppRole

	_, err := Run(context.Background(), newConfig(props, "app"), Options{})
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "spring.cloud.vault.app-role.role-id", cfgErr.Field)
}

func TestRun_LoginFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	props := vaulttest.Properties(srv.Address())
	props.Token = "s.invalid"

	t.Run("fail fast", func(t *testing.T) {
		p := props
		p.FailFast = true
		_, err := Run(ctx, newConfig(p, "app"), Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token login")
	})

	t.Run("tolerated", func(t *testing.T) {
		env, err := Run(ctx, newConfig(props, "app"), Options{})
		require.NoError(t, err)
		assert.False(t, env.Enabled())
		assert.Zero(t, env.Properties.Len())
		require.Error(t, env.Failures())
		assert.Contains(t, env.Failures().Error(), "token login")
		assert.Error(t, env.Healthy())
	})
}

func TestRun_ContextFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	srv.Put("secret/application", map[string]interface{}{"a": "1"})
	srv.Deny("secret/app")

	props := vaulttest.Properties(srv.Address())
	token := srv.IssueToken(3600, true, "default")
	props.Token = token

	t.Run("fail fast keeps the static token", func(t *testing.T) {
		p := props
		p.FailFast = true
		_, err := Run(ctx, newConfig(p, "app"), Options{})
		require.Error(t, err)
		assert.True(t, vault.IsPermissionDenied(err))
		_, live := srv.Lookup(token)
		assert.True(t, live)
	})

	t.Run("tolerated", func(t *testing.T) {
		env, err := Run(ctx, newConfig(props, "app"), Options{})
		require.NoError(t, err)
		assert.Equal(t, "1", env.Get("a"))
		require.Error(t, env.Failures())
		assert.Contains(t, env.Failures().Error(), "context app")
	})
}

func TestRun_KeepAliveAndClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	srv.EnableAuth("approle", "approle")
	srv.LoginTTL = 2

	props := vaulttest.Properties(srv.Address())
	props.Authentication = config.AuthAppRole
	props.AppRole.RoleID = "role"

	env, err := Run(ctx, newConfig(props, "app"), Options{KeepAlive: true})
	require.NoError(t, err)

	token := env.Session.Token()
	assert.Eventually(t, func() bool { return srv.Renewals() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.NoError(t, env.Healthy())
	assert.Equal(t, env.Properties.Map(), env.Map())

	require.NoError(t, env.Close(ctx))
	require.NoError(t, env.Close(ctx))
	assert.Contains(t, srv.Revoked(), token)
}

func TestRun_NoKeepAliveWhenRenewalDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := vaulttest.New(t)
	srv.EnableAuth("approle", "approle")
	srv.LoginTTL = 2

	props := vaulttest.Properties(srv.Address())
	props.Authentication = config.AuthAppRole
	props.AppRole.RoleID = "role"
	props.TokenRenewal.Enabled = false

	env, err := Run(ctx, newConfig(props, "app"), Options{KeepAlive: true})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, srv.Renewals())
	require.NoError(t, env.Close(ctx))
}

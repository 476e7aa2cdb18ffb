package bootstrap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/vaulttest"
)

// liveVault returns properties for the Vault at VAULT_ADDR with the root
// token in VAULT_TOKEN. Tests using it run only with VAULTCONFIG_TEST_VAULT=1.
func liveVault(t *testing.T) (config.VaultProperties, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping live Vault test in short mode")
	}
	if os.Getenv("VAULTCONFIG_TEST_VAULT") != "1" {
		t.Skip("Set VAULTCONFIG_TEST_VAULT=1 with VAULT_ADDR and VAULT_TOKEN to run against a live Vault")
	}
	addr, token := os.Getenv("VAULT_ADDR"), os.Getenv("VAULT_TOKEN")
	require.NotEmpty(t, addr, "VAULT_ADDR")
	require.NotEmpty(t, token, "VAULT_TOKEN")

	props := vaulttest.Properties(addr)
	props.Generic.Backend = "vaultconfig-it"
	return props, token
}

func TestLive_ProfileContext(t *testing.T) {
	props, root := liveVault(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prep := rootPrep(t, props, root)
	require.NoError(t, prep.EnsureGenericBackend(ctx))

	app := "testVaultApp-" + uuid.NewString()[:8]
	require.NoError(t, prep.WriteSecret(ctx, app, map[string]interface{}{"vault.value": "worls"}))
	require.NoError(t, prep.WriteSecret(ctx, app+"/my-profile", map[string]interface{}{"vault.value": "hello"}))

	auth, err := prep.CreateToken(ctx, []string{"root"}, time.Hour)
	require.NoError(t, err)
	props.Token = auth.ClientToken

	env, err := Run(ctx, newConfig(props, app, "my-profile"), Options{})
	require.NoError(t, err)
	defer func() { _ = env.Close(ctx) }()

	assert.Equal(t, "hello", env.Get("vault.value"))
}

func TestLive_KeepAlive(t *testing.T) {
	props, root := liveVault(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prep := rootPrep(t, props, root)
	require.NoError(t, prep.EnsureGenericBackend(ctx))

	auth, err := prep.CreateToken(ctx, []string{"root"}, 10*time.Second)
	require.NoError(t, err)
	props.Token = auth.ClientToken

	env, err := Run(ctx, newConfig(props, "application"), Options{KeepAlive: true})
	require.NoError(t, err)

	time.Sleep(3 * time.Second)
	assert.Greater(t, env.Session.TTL(), time.Duration(0))
	require.NoError(t, env.Close(ctx))
}

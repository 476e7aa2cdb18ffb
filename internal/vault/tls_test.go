package vault_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
	"github.com/systmms/vaultconfig/internal/vault"
	"github.com/systmms/vaultconfig/internal/vaulttest"
)

type certLogin struct{ path string }

func (c certLogin) Name() config.AuthenticationMethod { return config.AuthCert }

func (c certLogin) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	return client.Logical().WriteWithContext(ctx, "auth/"+c.path+"/login", nil)
}

func TestLoadClientCertificate(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)

	tests := []struct {
		name      string
		ssl       config.SSLProperties
		wantNil   bool
		wantErr   string
		wantChain int
	}{
		{
			name:    "nothing configured",
			ssl:     config.SSLProperties{},
			wantNil: true,
		},
		{
			name: "jks key store with file prefix",
			ssl: config.SSLProperties{
				KeyStore:         "file:" + pki.Files.KeyStore,
				KeyStorePassword: vaulttest.StorePassword,
			},
		},
		{
			name: "legacy pkcs12 with ca chain",
			ssl: config.SSLProperties{
				KeyStore:         pki.Files.PKCS12KeyStore,
				KeyStorePassword: vaulttest.StorePassword,
			},
			wantChain: 2,
		},
		{
			name: "aes sha256 pkcs12 with ca chain",
			ssl: config.SSLProperties{
				KeyStore:         "file:" + pki.Files.ModernKeyStore,
				KeyStorePassword: vaulttest.StorePassword,
			},
			wantChain: 2,
		},
		{
			name: "pkcs12 content under jks name",
			ssl: config.SSLProperties{
				KeyStore:         pki.Files.PKCS12AsJKS,
				KeyStorePassword: vaulttest.StorePassword,
			},
			wantChain: 1,
		},
		{
			name: "wrong pkcs12 password",
			ssl: config.SSLProperties{
				KeyStore:         pki.Files.ModernKeyStore,
				KeyStorePassword: "wrong-password",
			},
			wantErr: "key-store",
		},
		{
			name: "pem pair",
			ssl: config.SSLProperties{
				ClientCert: pki.Files.ClientCert,
				ClientKey:  pki.Files.ClientKey,
			},
		},
		{
			name: "wrong key store password",
			ssl: config.SSLProperties{
				KeyStore:         pki.Files.KeyStore,
				KeyStorePassword: "wrong-password",
			},
			wantErr: "key-store",
		},
		{
			name: "key store without private key",
			ssl: config.SSLProperties{
				KeyStore:         pki.Files.ClientNoCert,
				KeyStorePassword: vaulttest.StorePassword,
			},
			wantErr: "key-store",
		},
		{
			name: "missing file",
			ssl: config.SSLProperties{
				KeyStore: filepath.Join(t.TempDir(), "absent.p12"),
			},
			wantErr: "key-store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := vault.LoadClientCertificate(tt.ssl)
			if tt.wantErr != "" {
				require.Error(t, err)
				var userErr dserrors.UserError
				require.ErrorAs(t, err, &userErr)
				assert.Contains(t, userErr.Message, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, cert)
				return
			}
			require.NotNil(t, cert)
			require.NotEmpty(t, cert.Certificate)
			assert.Equal(t, pki.ClientCert.Certificate[0], cert.Certificate[0])
			if tt.wantChain > 0 {
				require.Len(t, cert.Certificate, tt.wantChain)
				assert.NotNil(t, cert.PrivateKey)
				if tt.wantChain > 1 {
					assert.Equal(t, pki.CA.Raw, cert.Certificate[1])
				}
			}
		})
	}
}

func TestCertLogin_JKSKeyStoreAndTrustStore(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	srv.EnableAuth("cert", "cert")
	srv.RegisterCertificate("cert", "web", pki.ClientCertPEM(), "root")

	props := vaulttest.Properties(srv.URL)
	props.Authentication = config.AuthCert
	props.SSL.KeyStore = "file:" + pki.Files.KeyStore
	props.SSL.KeyStorePassword = vaulttest.StorePassword
	props.SSL.TrustStore = "file:" + pki.Files.TrustStore
	props.SSL.TrustStorePassword = vaulttest.StorePassword

	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)

	session, err := client.Login(context.Background(), certLogin{path: "cert"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token())
	assert.Equal(t, config.AuthCert, session.Method())

	tok, ok := srv.Lookup(session.Token())
	require.True(t, ok)
	assert.Equal(t, []string{"root"}, tok.Policies)

	logins := srv.Logins()
	require.Len(t, logins, 1)
	require.NotEmpty(t, logins[0].Peer)
	assert.Equal(t, "vaultconfig client", logins[0].Peer[0].Subject.CommonName)
}

func TestCertLogin_PKCS12StoresUnderJKSNames(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	srv.EnableAuth("cert", "cert")
	srv.RegisterCertificate("cert", "web", pki.ClientCertPEM(), "root")

	props := vaulttest.Properties(srv.URL)
	props.SSL.KeyStore = "file:" + pki.Files.PKCS12AsJKS
	props.SSL.KeyStorePassword = vaulttest.StorePassword
	props.SSL.TrustStore = "file:" + pki.Files.PKCS12Trust
	props.SSL.TrustStorePassword = vaulttest.StorePassword

	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)

	session, err := client.Login(context.Background(), certLogin{path: "cert"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token())
}

func TestCertLogin_PEMWithCACert(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	srv.EnableAuth("cert", "cert")
	srv.RegisterCertificate("cert", "issuer", pki.CACertPEM(), "app")

	props := vaulttest.Properties(srv.URL)
	props.SSL.ClientCert = pki.Files.ClientCert
	props.SSL.ClientKey = pki.Files.ClientKey
	props.SSL.CACert = pki.Files.CACert

	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)

	session, err := client.Login(context.Background(), certLogin{path: "cert"})
	require.NoError(t, err)

	tok, ok := srv.Lookup(session.Token())
	require.True(t, ok)
	assert.Equal(t, []string{"app"}, tok.Policies)
}

func TestCertLogin_UnregisteredCertificate(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	other := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	srv.EnableAuth("cert", "cert")
	srv.RegisterCertificate("cert", "someone-else", other.ClientCertPEM(), "root")

	props := vaulttest.Properties(srv.URL)
	props.SSL.ClientCert = pki.Files.ClientCert
	props.SSL.ClientKey = pki.Files.ClientKey
	props.SSL.CACert = pki.Files.CACert

	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)

	_, err = client.Login(context.Background(), certLogin{path: "cert"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid certificate")
}

func TestCertLogin_WithoutClientCertificate(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	srv.EnableAuth("cert", "cert")

	props := vaulttest.Properties(srv.URL)
	props.SSL.TrustStore = pki.Files.TrustStore
	props.SSL.TrustStorePassword = vaulttest.StorePassword

	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)

	_, err = client.Login(context.Background(), certLogin{path: "cert"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cert login")
}

func TestNewClient_UntrustedServer(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)

	client, err := vault.NewClient(vaulttest.Properties(srv.URL), logging.Nop())
	require.NoError(t, err)
	client.API().SetToken(srv.RootToken)

	_, err = client.ReadSecret(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate")
}

func TestNewClient_SkipVerify(t *testing.T) {
	t.Parallel()

	pki := vaulttest.NewPKI(t)
	srv := vaulttest.NewTLS(t, pki)
	srv.Put("secret/app", map[string]interface{}{"k": "v"})

	props := vaulttest.Properties(srv.URL)
	props.SSL.SkipVerify = true
	client, err := vault.NewClient(props, logging.Nop())
	require.NoError(t, err)
	client.API().SetToken(srv.RootToken)

	secret, err := client.ReadSecret(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, "v", secret.Data["k"])
}

func TestNewClient_BadTrustStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	props := vaulttest.Properties("https://127.0.0.1:8200")
	props.SSL.CACert = path

	_, err := vault.NewClient(props, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ca-cert")
}

package auth

import (
	"context"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
)

// CertAuth logs in with the TLS client certificate presented by the
// transport. The certificate comes from spring.cloud.vault.ssl.
type CertAuth struct {
	Path string
}

// Name implements Method
func (a *CertAuth) Name() config.AuthenticationMethod { return config.AuthCert }

// Login implements api.AuthMethod
func (a *CertAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	return writeLogin(ctx, client, a.Path, nil)
}

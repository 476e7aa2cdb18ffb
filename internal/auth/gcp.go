package auth

import (
	"context"
	"fmt"
	"net/url"

	"cloud.google.com/go/compute/metadata"
	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
)

// IdentityFetcher reads a GCE metadata path
type IdentityFetcher func(ctx context.Context, suffix string) (string, error)

// GCPGCEAuth logs in with a GCE instance identity token
type GCPGCEAuth struct {
	Path           string
	Role           string
	ServiceAccount string

	fetch IdentityFetcher
}

// Name implements Method
func (a *GCPGCEAuth) Name() config.AuthenticationMethod { return config.AuthGCPGCE }

// Login implements api.AuthMethod
func (a *GCPGCEAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	fetch := a.fetch
	if fetch == nil {
		fetch = metadata.GetWithContext
	}

	account := a.ServiceAccount
	if account == "" {
		account = "default"
	}
	query := url.Values{}
	query.Set("audience", fmt.Sprintf("vault/%s", a.Role))
	query.Set("format", "full")
	suffix := fmt.Sprintf("instance/service-accounts/%s/identity?%s", account, query.Encode())

	jwt, err := fetch(ctx, suffix)
	if err != nil {
		return nil, fmt.Errorf("gce identity token: %w", err)
	}

	return writeLogin(ctx, client, a.Path, map[string]interface{}{
		"role": a.Role,
		"jwt":  jwt,
	})
}

package auth

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/secure"
)

// CubbyholeAuth unwraps a response-wrapping token to obtain the session
// token. A wrapping token is single use, so the method logs in only once.
type CubbyholeAuth struct {
	wrapping *secure.SecureBuffer
	used     bool
}

func newCubbyholeAuth(wrappingToken string) (*CubbyholeAuth, error) {
	buf, err := secure.NewSecureBufferFromString(wrappingToken)
	if err != nil {
		return nil, err
	}
	return &CubbyholeAuth{wrapping: buf}, nil
}

// Name implements Method
func (a *CubbyholeAuth) Name() config.AuthenticationMethod { return config.AuthCubbyhole }

// Reusable reports false: the wrapping token cannot be unwrapped twice
func (a *CubbyholeAuth) Reusable() bool { return false }

// Login implements api.AuthMethod
func (a *CubbyholeAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	if a.used {
		return nil, fmt.Errorf("wrapping token was already unwrapped; cubbyhole login cannot be repeated")
	}
	wrapping, err := a.wrapping.Reveal()
	if err != nil {
		return nil, err
	}
	if wrapping == "" {
		return nil, fmt.Errorf("no wrapping token configured")
	}

	client.SetToken(wrapping)
	secret, err := client.Logical().UnwrapWithContext(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("unwrap: %w", err)
	}
	a.used = true
	a.wrapping.Destroy()

	if secret == nil {
		return nil, fmt.Errorf("unwrap returned no data")
	}
	if secret.Auth != nil && secret.Auth.ClientToken != "" {
		return secret, nil
	}

	// Older wrappings store the token in the payload
	if token, ok := secret.Data["token"].(string); ok && token != "" {
		return lookupSelf(ctx, client, token)
	}
	return nil, fmt.Errorf("wrapped response contains no token")
}

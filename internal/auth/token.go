package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/secure"
)

// TokenAuth uses a static token. Login validates it with lookup-self so the
// session learns its TTL and renewability when policy allows the lookup.
type TokenAuth struct {
	token   *secure.SecureBuffer
	address string
	source  TokenSource
}

func newTokenAuth(props config.VaultProperties, source TokenSource) (*TokenAuth, error) {
	buf, err := secure.NewSecureBufferFromString(props.Token)
	if err != nil {
		return nil, err
	}
	return &TokenAuth{token: buf, address: props.Address(), source: source}, nil
}

// Name implements Method
func (a *TokenAuth) Name() config.AuthenticationMethod { return config.AuthToken }

// Login implements api.AuthMethod
func (a *TokenAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	token, err := a.resolve()
	if err != nil {
		return nil, err
	}
	return lookupSelf(ctx, client, token)
}

func (a *TokenAuth) resolve() (string, error) {
	token, err := a.token.Reveal()
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	if a.source != nil {
		stored, err := a.source.Get(a.address)
		if err == nil && stored != "" {
			return stored, nil
		}
	}

	return "", dserrors.UserError{
		Message:    "No Vault token configured",
		Suggestion: "Set spring.cloud.vault.token or VAULT_TOKEN, or run 'vaultconfig login'",
	}
}

// lookupSelf validates token and describes it as a login result. A token
// whose policies deny lookup-self is still used, with an unknown TTL and
// no renewal. The token is cleared from client when it is rejected.
func lookupSelf(ctx context.Context, client *api.Client, token string) (*api.Secret, error) {
	client.SetToken(token)
	info, err := client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		if lookupDenied(err) {
			return &api.Secret{Auth: &api.SecretAuth{ClientToken: token}}, nil
		}
		client.ClearToken()
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}
	if info == nil {
		client.ClearToken()
		return nil, fmt.Errorf("token lookup returned no data")
	}

	ttl, err := info.TokenTTL()
	if err != nil {
		client.ClearToken()
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	renewable, err := info.TokenIsRenewable()
	if err != nil {
		client.ClearToken()
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	policies, _ := info.TokenPolicies()
	accessor, _ := info.TokenAccessor()

	return &api.Secret{
		Auth: &api.SecretAuth{
			ClientToken:   token,
			Accessor:      accessor,
			Policies:      policies,
			LeaseDuration: int(ttl.Seconds()),
			Renewable:     renewable,
		},
	}, nil
}

// lookupDenied reports a 403 caused by policy rather than by the token.
// Vault adds "invalid token" to the errors of an unknown or expired token.
func lookupDenied(err error) bool {
	var respErr *api.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusForbidden {
		return false
	}
	for _, e := range respErr.Errors {
		if strings.Contains(strings.ToLower(e), "invalid token") {
			return false
		}
	}
	return true
}

package vault

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
)

// Authenticator is a login method that knows its configured name
type Authenticator interface {
	api.AuthMethod
	Name() config.AuthenticationMethod
}

// Session is an authenticated client whose token is kept alive by KeepAlive
type Session struct {
	client *Client
	method Authenticator

	// RetryInterval is the pause between failed re-login attempts
	RetryInterval time.Duration

	mu     sync.RWMutex
	secret *api.Secret
}

// Login authenticates with method and installs the resulting token on the client
func (c *Client) Login(ctx context.Context, method Authenticator) (*Session, error) {
	name := strings.ToLower(string(method.Name()))
	c.logger.Debug("Authenticating with %s at %s", name, c.Address())

	secret, err := c.api.Auth().Login(ctx, method)
	c.recorder.AuthAttempt(name, err)
	if err != nil {
		return nil, dserrors.VaultError(name+" login", c.Address(), err)
	}

	c.logger.Debug("Authenticated with %s, lease %ds renewable=%t",
		name, secret.Auth.LeaseDuration, secret.Auth.Renewable)

	return &Session{
		client:        c,
		method:        method,
		secret:        secret,
		RetryInterval: 5 * time.Second,
	}, nil
}

// Client returns the authenticated client
func (s *Session) Client() *Client {
	return s.client
}

// Method returns the authentication method used for the session
func (s *Session) Method() config.AuthenticationMethod {
	return s.method.Name()
}

// Token returns the current client token
func (s *Session) Token() string {
	return s.client.api.Token()
}

// Auth returns the auth block of the most recent login or renewal
func (s *Session) Auth() *api.SecretAuth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret.Auth
}

// TTL returns the lease duration reported by the last login or renewal
func (s *Session) TTL() time.Duration {
	return time.Duration(s.Auth().LeaseDuration) * time.Second
}

func (s *Session) setSecret(secret *api.Secret) {
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
}

// KeepAlive renews the session token until ctx is cancelled. When the token
// reaches its maximum TTL the session logs in again with the same method.
// Tokens without a lease are left alone.
func (s *Session) KeepAlive(ctx context.Context) error {
	logger := s.client.logger
	for {
		s.mu.RLock()
		secret := s.secret
		s.mu.RUnlock()

		if secret.Auth.LeaseDuration == 0 {
			logger.Debug("Token has no lease, renewal not required")
			<-ctx.Done()
			return nil
		}

		watcher, err := s.client.api.NewLifetimeWatcher(&api.LifetimeWatcherInput{Secret: secret})
		if err != nil {
			return fmt.Errorf("failed to start token renewal: %w", err)
		}
		go watcher.Start()
		err = s.watch(ctx, watcher)
		watcher.Stop()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.client.recorder.TokenRenewal(err)
			logger.Warn("Token renewal failed: %v", err)
		}

		if !canRelogin(s.method) {
			logger.Warn("Token can no longer be renewed and will expire")
			<-ctx.Done()
			return nil
		}

		if err := s.relogin(ctx); err != nil {
			return err
		}
	}
}

// canRelogin reports whether logging in again yields a fresh token. Methods
// may opt out by implementing Reusable.
func canRelogin(m Authenticator) bool {
	if r, ok := m.(interface{ Reusable() bool }); ok {
		return r.Reusable()
	}
	return m.Name() != config.AuthToken
}

func (s *Session) watch(ctx context.Context, watcher *api.LifetimeWatcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.DoneCh():
			return err
		case out := <-watcher.RenewCh():
			if out.Secret != nil && out.Secret.Auth != nil {
				s.setSecret(out.Secret)
				s.client.logger.Debug("Renewed token, lease %ds", out.Secret.Auth.LeaseDuration)
			}
			s.client.recorder.TokenRenewal(nil)
		}
	}
}

func (s *Session) relogin(ctx context.Context) error {
	name := strings.ToLower(string(s.method.Name()))
	for {
		s.client.api.ClearToken()
		secret, err := s.client.api.Auth().Login(ctx, s.method)
		s.client.recorder.AuthAttempt(name, err)
		if err == nil {
			s.setSecret(secret)
			s.client.logger.Info("Logged in again with %s after token expiry", name)
			return nil
		}
		s.client.logger.Warn("Re-login with %s failed: %v", name, err)

		timer := time.NewTimer(s.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Close revokes tokens obtained by login. A configured static token is
// never revoked.
func (s *Session) Close(ctx context.Context) error {
	if s.method.Name() == config.AuthToken {
		return nil
	}
	if err := s.client.api.Auth().Token().RevokeSelfWithContext(ctx, ""); err != nil {
		return dserrors.VaultError("token revocation", s.client.Address(), err)
	}
	s.client.api.ClearToken()
	s.client.logger.Debug("Revoked session token")
	return nil
}

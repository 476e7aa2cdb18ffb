// Package vaultprep prepares a Vault server for applications that bootstrap
// their configuration from it.
//
// It covers the store-side steps an operator performs before an application
// can log in and read its properties: mounting auth methods and secrets
// engines, writing secrets below the generic backend, mapping AppId user
// ids, registering client certificates and issuing tokens.
//
//	prep := vaultprep.New(client, logger)
//	if err := prep.EnsureAuth(ctx, "app-id", "app-id"); err != nil { ... }
//	_ = prep.MapAppID(ctx, "my-app", "root")
//	_ = prep.MapUserID(ctx, "my-app", userID)
//	_ = prep.WriteSecret(ctx, "my-app", map[string]interface{}{"vault.value": "foo"})
package vaultprep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
	"github.com/systmms/vaultconfig/internal/vault"
)

// Prep runs provisioning operations with an authenticated client. The
// client token needs privileges on sys/ and the target paths.
type Prep struct {
	api     *api.Client
	address string
	generic config.GenericProperties
	appID   string
	logger  *logging.Logger
}

// New creates a Prep using the generic backend and AppId mount configured
// for client
func New(client *vault.Client, logger *logging.Logger) *Prep {
	if logger == nil {
		logger = logging.Nop()
	}
	props := client.Properties()
	appIDPath := props.AppID.AppIDPath
	if appIDPath == "" {
		appIDPath = "app-id"
	}
	return &Prep{
		api:     client.API(),
		address: client.Address(),
		generic: props.Generic,
		appID:   strings.Trim(appIDPath, "/"),
		logger:  logger.Named("prep"),
	}
}

func (p *Prep) vaultErr(op string, err error) error {
	return dserrors.VaultError(op, p.address, err)
}

// WriteSecret stores data at path below the generic backend, honouring
// the configured key/value version
func (p *Prep) WriteSecret(ctx context.Context, path string, data map[string]interface{}) error {
	backend := strings.Trim(p.generic.Backend, "/")
	path = strings.Trim(path, "/")

	var err error
	if p.generic.BackendVersion == 2 {
		_, err = p.api.KVv2(backend).Put(ctx, path, data)
	} else {
		err = p.api.KVv1(backend).Put(ctx, path, data)
	}
	if err != nil {
		return p.vaultErr("write "+backend+"/"+path, err)
	}
	p.logger.Debug("Wrote %d keys to %s/%s", len(data), backend, path)
	return nil
}

// Write performs a raw logical write
func (p *Prep) Write(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error) {
	secret, err := p.api.Logical().WriteWithContext(ctx, strings.Trim(path, "/"), data)
	if err != nil {
		return nil, p.vaultErr("write "+path, err)
	}
	return secret, nil
}

// Read performs a raw logical read; nil means nothing is stored at path
func (p *Prep) Read(ctx context.Context, path string) (*api.Secret, error) {
	secret, err := p.api.Logical().ReadWithContext(ctx, strings.Trim(path, "/"))
	if err != nil {
		return nil, p.vaultErr("read "+path, err)
	}
	return secret, nil
}

// HasAuth reports whether an auth method is mounted at path
func (p *Prep) HasAuth(ctx context.Context, path string) (bool, error) {
	auths, err := p.api.Sys().ListAuthWithContext(ctx)
	if err != nil {
		return false, p.vaultErr("list auth methods", err)
	}
	_, ok := auths[mountKey(path)]
	return ok, nil
}

// MountAuth enables an auth method of kind at path. An empty kind uses
// the path as the method type.
func (p *Prep) MountAuth(ctx context.Context, path, kind string) error {
	path = strings.Trim(path, "/")
	if kind == "" {
		kind = path
	}
	if err := p.api.Sys().EnableAuthWithOptionsWithContext(ctx, path, &api.EnableAuthOptions{Type: kind}); err != nil {
		return p.vaultErr("mount auth "+path, err)
	}
	p.logger.Info("Mounted %s auth method at auth/%s", kind, path)
	return nil
}

// EnsureAuth mounts the auth method unless something is already mounted
// at path
func (p *Prep) EnsureAuth(ctx context.Context, path, kind string) error {
	ok, err := p.HasAuth(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		p.logger.Debug("Auth method already mounted at auth/%s", strings.Trim(path, "/"))
		return nil
	}
	return p.MountAuth(ctx, path, kind)
}

// HasSecretsEngine reports whether a secrets engine is mounted at path
func (p *Prep) HasSecretsEngine(ctx context.Context, path string) (bool, error) {
	mounts, err := p.api.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return false, p.vaultErr("list secrets engines", err)
	}
	_, ok := mounts[mountKey(path)]
	return ok, nil
}

// MountSecretsEngine mounts a secrets engine of kind at path
func (p *Prep) MountSecretsEngine(ctx context.Context, path, kind string, options map[string]string) error {
	path = strings.Trim(path, "/")
	if err := p.api.Sys().MountWithContext(ctx, path, &api.MountInput{Type: kind, Options: options}); err != nil {
		return p.vaultErr("mount "+path, err)
	}
	p.logger.Info("Mounted %s secrets engine at %s", kind, path)
	return nil
}

// EnsureGenericBackend mounts the configured generic backend as a kv
// engine of the configured version unless it exists
func (p *Prep) EnsureGenericBackend(ctx context.Context) error {
	ok, err := p.HasSecretsEngine(ctx, p.generic.Backend)
	if err != nil || ok {
		return err
	}
	version := p.generic.BackendVersion
	if version == 0 {
		version = 1
	}
	return p.MountSecretsEngine(ctx, p.generic.Backend, "kv", map[string]string{"version": fmt.Sprint(version)})
}

// MapAppID maps an app id to a policy in the AppId backend
func (p *Prep) MapAppID(ctx context.Context, appID, policy string) error {
	_, err := p.Write(ctx, fmt.Sprintf("auth/%s/map/app-id/%s", p.appID, appID), map[string]interface{}{
		"value":        policy,
		"display_name": appID,
	})
	return err
}

// MapUserID allows userID to log in as appID in the AppId backend
func (p *Prep) MapUserID(ctx context.Context, appID, userID string) error {
	_, err := p.Write(ctx, fmt.Sprintf("auth/%s/map/user-id/%s", p.appID, userID), map[string]interface{}{
		"value": appID,
	})
	return err
}

// RegisterCertificate trusts a PEM certificate for cert logins under name
func (p *Prep) RegisterCertificate(ctx context.Context, mount, name string, certPEM []byte, policies []string) error {
	if mount == "" {
		mount = "cert"
	}
	_, err := p.Write(ctx, fmt.Sprintf("auth/%s/certs/%s", strings.Trim(mount, "/"), name), map[string]interface{}{
		"certificate":  string(certPEM),
		"policies":     strings.Join(policies, ","),
		"display_name": name,
	})
	return err
}

// AddUser creates or updates a userpass user
func (p *Prep) AddUser(ctx context.Context, mount, username, password string, policies []string) error {
	if mount == "" {
		mount = "userpass"
	}
	_, err := p.Write(ctx, fmt.Sprintf("auth/%s/users/%s", strings.Trim(mount, "/"), username), map[string]interface{}{
		"password": password,
		"policies": strings.Join(policies, ","),
	})
	return err
}

// CreateToken issues a renewable child token
func (p *Prep) CreateToken(ctx context.Context, policies []string, ttl time.Duration) (*api.SecretAuth, error) {
	req := &api.TokenCreateRequest{Policies: policies}
	if ttl > 0 {
		req.TTL = ttl.String()
	}
	secret, err := p.api.Auth().Token().CreateWithContext(ctx, req)
	if err != nil {
		return nil, p.vaultErr("token create", err)
	}
	if secret == nil || secret.Auth == nil {
		return nil, fmt.Errorf("token create returned no auth data")
	}
	return secret.Auth, nil
}

func mountKey(path string) string {
	return strings.Trim(path, "/") + "/"
}

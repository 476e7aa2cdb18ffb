package auth

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"
	"github.com/hashicorp/vault/api/auth/userpass"

	"github.com/systmms/vaultconfig/internal/config"
)

// AppRoleAuth logs in with a role id and, unless the role is configured
// without one, a secret id.
type AppRoleAuth struct {
	Path   string
	RoleID string

	withSecret *approle.AppRoleAuth
}

func newAppRoleAuth(props config.AppRoleProperties) (*AppRoleAuth, error) {
	a := &AppRoleAuth{Path: props.AppRolePath, RoleID: props.RoleID}
	if props.SecretID == "" {
		return a, nil
	}

	lib, err := approle.NewAppRoleAuth(
		props.RoleID,
		&approle.SecretID{FromString: props.SecretID},
		approle.WithMountPath(props.AppRolePath),
	)
	if err != nil {
		return nil, fmt.Errorf("approle: %w", err)
	}
	a.withSecret = lib
	return a, nil
}

// Name implements Method
func (a *AppRoleAuth) Name() config.AuthenticationMethod { return config.AuthAppRole }

// Login implements api.AuthMethod
func (a *AppRoleAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	if a.withSecret != nil {
		return a.withSecret.Login(ctx, client)
	}
	return writeLogin(ctx, client, a.Path, map[string]interface{}{"role_id": a.RoleID})
}

// UserpassAuth logs in with a username and password
type UserpassAuth struct {
	Path     string
	Username string

	lib *userpass.UserpassAuth
}

func newUserpassAuth(props config.UserpassProperties) (*UserpassAuth, error) {
	lib, err := userpass.NewUserpassAuth(
		props.Username,
		&userpass.Password{FromString: props.Password},
		userpass.WithMountPath(props.Path),
	)
	if err != nil {
		return nil, fmt.Errorf("userpass: %w", err)
	}
	return &UserpassAuth{Path: props.Path, Username: props.Username, lib: lib}, nil
}

// Name implements Method
func (a *UserpassAuth) Name() config.AuthenticationMethod { return config.AuthUserpass }

// Login implements api.AuthMethod
func (a *UserpassAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	return a.lib.Login(ctx, client)
}

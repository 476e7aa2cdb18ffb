package auth

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/logging"
)

// AppIDAuth logs in with an app id and a derived user id
type AppIDAuth struct {
	Path   string
	AppID  string
	UserID UserIDMechanism

	logger *logging.Logger
}

// Name implements Method
func (a *AppIDAuth) Name() config.AuthenticationMethod { return config.AuthAppID }

// Login implements api.AuthMethod
func (a *AppIDAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	if a.AppID == "" {
		return nil, fmt.Errorf("app-id is empty")
	}
	userID, err := a.UserID.CreateUserID()
	if err != nil {
		return nil, err
	}
	if a.logger != nil {
		a.logger.Debug("AppId login for %s at auth/%s", a.AppID, a.Path)
	}

	return writeLogin(ctx, client, a.Path, map[string]interface{}{
		"app_id":  a.AppID,
		"user_id": userID,
	})
}

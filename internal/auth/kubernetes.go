package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
)

// KubernetesAuth logs in with the pod's service account token
type KubernetesAuth struct {
	Path      string
	Role      string
	TokenFile string
}

// Name implements Method
func (a *KubernetesAuth) Name() config.AuthenticationMethod { return config.AuthKubernetes }

// Login implements api.AuthMethod. The token file is read on every login
// because projected service account tokens rotate.
func (a *KubernetesAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	raw, err := os.ReadFile(a.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read service account token: %w", err)
	}
	jwt := strings.TrimSpace(string(raw))
	if jwt == "" {
		return nil, fmt.Errorf("service account token file %s is empty", a.TokenFile)
	}

	return writeLogin(ctx, client, a.Path, map[string]interface{}{
		"role": a.Role,
		"jwt":  jwt,
	})
}

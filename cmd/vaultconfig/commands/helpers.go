package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/systmms/vaultconfig/internal/auth"
	"github.com/systmms/vaultconfig/internal/bootstrap"
	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/metrics"
	"github.com/systmms/vaultconfig/internal/tokenstore"
	"github.com/systmms/vaultconfig/internal/vault"
)

// tokenStore is the keyring used for 'login' and as the TOKEN fallback
var tokenStore = func() *tokenstore.Store { return tokenstore.New("") }

// runBootstrap loads the configuration and resolves the environment
func runBootstrap(ctx context.Context, cfg *config.Config, keepAlive bool, rec *metrics.Recorder) (*bootstrap.Environment, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	opts := bootstrap.Options{
		Logger:    cfg.Logger,
		Auth:      []auth.Option{auth.WithTokenSource(tokenStore())},
		KeepAlive: keepAlive,
	}
	if rec != nil {
		opts.Client = append(opts.Client, vault.WithRecorder(rec))
	}

	env, err := bootstrap.Run(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if failures := env.Failures(); failures != nil {
		cfg.Logger.Warn("Some properties could not be resolved: %v", failures)
	}
	if rec != nil {
		rec.ObserveBootstrap(env.Elapsed, env.Properties.Len())
	}
	return env, nil
}

// login authenticates with the configured method without reading any
// properties
func login(ctx context.Context, cfg *config.Config) (*vault.Session, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	props := *cfg.Vault

	method, err := auth.Select(props, auth.WithLogger(cfg.Logger), auth.WithTokenSource(tokenStore()))
	if err != nil {
		return nil, err
	}
	client, err := vault.NewClient(props, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return client.Login(ctx, method)
}

// parseData turns key=value arguments into secret data
func parseData(pairs []string) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("Invalid data %q", pair),
				Suggestion: "Pass secret data as key=value, e.g. vault.value=foo",
			}
		}
		data[strings.TrimSpace(key)] = value
	}
	return data, nil
}

// parseOptions turns key=value flags into a string map
func parseOptions(pairs []string) (map[string]string, error) {
	data, err := parseData(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package bootstrap resolves application properties from Vault.
//
// Run performs the whole sequence: validate settings, select the login
// method, build the client, log in, compute the contexts for the active
// profiles, read them and compose the result. The returned Environment
// owns the Vault session; Close stops token renewal and revokes tokens
// obtained by login.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/systmms/vaultconfig/internal/auth"
	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/logging"
	"github.com/systmms/vaultconfig/internal/propertysource"
	"github.com/systmms/vaultconfig/internal/vault"
)

// Options customises Run
type Options struct {
	Logger *logging.Logger

	// Auth and Client are passed to auth.Select and vault.NewClient
	Auth   []auth.Option
	Client []vault.Option

	// Concurrency bounds parallel context reads
	Concurrency int

	// KeepAlive renews the session token in the background until Close,
	// provided token renewal is enabled in the settings
	KeepAlive bool
}

// Environment is the outcome of a bootstrap
type Environment struct {
	Application config.Application
	Contexts    []string
	Properties  *propertysource.Composite
	Session     *vault.Session
	Elapsed     time.Duration

	loginErr error
	logger   *logging.Logger

	closeOnce sync.Once
	cancel    context.CancelFunc
	renewDone chan struct{}

	mu       sync.Mutex
	renewErr error
}

// Run resolves properties for the configured application and profiles
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Environment, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = cfg.Logger
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("bootstrap")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	props := *cfg.Vault

	env := &Environment{
		Application: cfg.Application,
		Properties:  propertysource.NewComposite(),
		logger:      logger,
	}
	if !props.Enabled {
		logger.Debug("Vault config disabled, skipping bootstrap")
		return env, nil
	}
	env.Contexts = propertysource.Contexts(props.Generic, cfg.Application.Profiles)

	authOpts := append([]auth.Option{auth.WithLogger(logger)}, opts.Auth...)
	method, err := auth.Select(props, authOpts...)
	if err != nil {
		return nil, err
	}

	client, err := vault.NewClient(props, logger, opts.Client...)
	if err != nil {
		return nil, err
	}

	logger.Debug("Bootstrapping %s with profiles %v from %s", cfg.Application.Name, cfg.Application.Profiles, props)

	session, err := client.Login(ctx, method)
	if err != nil {
		if props.FailFast {
			return nil, err
		}
		logger.Warn("Could not log in to Vault, continuing without Vault properties: %v", err)
		env.loginErr = err
		env.Elapsed = time.Since(start)
		return env, nil
	}
	env.Session = session

	loader := propertysource.NewLoader(client, props, logger)
	if opts.Concurrency > 0 {
		loader.Concurrency = opts.Concurrency
	}
	composite, err := loader.Load(ctx, cfg.Application.Profiles)
	if err != nil {
		if cerr := session.Close(ctx); cerr != nil {
			logger.Debug("Token revocation after failed bootstrap: %v", cerr)
		}
		return nil, err
	}
	env.Properties = composite
	env.Elapsed = time.Since(start)

	logger.Debug("Resolved %d properties from %d contexts in %s",
		composite.Len(), len(composite.Sources()), env.Elapsed)

	if opts.KeepAlive && props.TokenRenewal.Enabled {
		env.startRenewal()
	}
	return env, nil
}

func (e *Environment) startRenewal() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.renewDone = make(chan struct{})
	go func() {
		defer close(e.renewDone)
		if err := e.Session.KeepAlive(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("Token renewal stopped: %v", err)
			e.mu.Lock()
			e.renewErr = err
			e.mu.Unlock()
		}
	}()
}

// Healthy returns nil while the environment is usable: Vault is disabled,
// or the login succeeded and background renewal has not given up
func (e *Environment) Healthy() error {
	if e.loginErr != nil {
		return e.loginErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renewErr
}

// Enabled reports whether properties were read from Vault
func (e *Environment) Enabled() bool {
	return e.Session != nil
}

// Get returns the effective value of key or the empty string
func (e *Environment) Get(key string) string {
	return e.Properties.Get(key)
}

// Lookup returns the effective value of key
func (e *Environment) Lookup(key string) (string, bool) {
	return e.Properties.Lookup(key)
}

// Map returns the effective properties
func (e *Environment) Map() map[string]string {
	return e.Properties.Map()
}

// Failures returns login and context errors tolerated because fail-fast
// is off, or nil
func (e *Environment) Failures() error {
	var result *multierror.Error
	if e.loginErr != nil {
		result = multierror.Append(result, e.loginErr)
	}
	if err := e.Properties.Failures(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close stops token renewal and revokes the session token. It is safe to
// call more than once.
func (e *Environment) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
			<-e.renewDone
		}
		if e.Session != nil {
			err = e.Session.Close(ctx)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

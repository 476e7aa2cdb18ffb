package propertysource

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
	"github.com/systmms/vaultconfig/internal/vault"
)

// SecretReader reads a secret relative to the generic backend.
// *vault.Client implements it.
type SecretReader interface {
	ReadSecret(ctx context.Context, path string) (*vault.Secret, error)
}

const (
	// DefaultConcurrency bounds parallel context reads
	DefaultConcurrency = 4

	// DefaultRetries is the number of extra attempts for a retryable read
	DefaultRetries = 2

	DefaultRetryBackoff = 250 * time.Millisecond
)

// Loader reads every context for a set of profiles
type Loader struct {
	reader   SecretReader
	generic  config.GenericProperties
	failFast bool
	logger   *logging.Logger

	// Concurrency bounds parallel reads; values below 1 read sequentially
	Concurrency int

	// Retries and RetryBackoff apply to transient read errors only.
	// The backoff doubles after each attempt.
	Retries      int
	RetryBackoff time.Duration
}

// NewLoader creates a loader for the generic backend settings in props
func NewLoader(reader SecretReader, props config.VaultProperties, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		reader:       reader,
		generic:      props.Generic,
		failFast:     props.FailFast,
		logger:       logger.Named("propertysource"),
		Concurrency:  DefaultConcurrency,
		Retries:      DefaultRetries,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// Load reads all contexts for profiles. Contexts without a secret are
// skipped. A failed read aborts the load when fail-fast is set; otherwise
// the context is skipped and the error is kept in Composite.Failures.
func (l *Loader) Load(ctx context.Context, profiles []string) (*Composite, error) {
	if !l.generic.Enabled {
		l.logger.Debug("Generic backend disabled, no contexts read")
		return NewComposite(), nil
	}

	contexts := Contexts(l.generic, profiles)
	sources := make([]*Source, len(contexts))
	errs := make([]error, len(contexts))

	g, gctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, name := range contexts {
		g.Go(func() error {
			secret, err := l.read(gctx, name)
			if err != nil {
				if l.failFast {
					return err
				}
				errs[i] = fmt.Errorf("context %s: %w", name, err)
				return nil
			}
			if secret == nil {
				l.logger.Debug("No secret at %s/%s", l.generic.Backend, name)
				return nil
			}
			src := NewSource(name, secret.Data)
			src.Version = secret.Version
			sources[i] = src
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	composite := &Composite{}
	for i := range contexts {
		if errs[i] != nil {
			l.logger.Warn("Skipping Vault context %s: %v", contexts[i], errs[i])
			composite.failures = multierror.Append(composite.failures, errs[i])
			continue
		}
		if sources[i] != nil {
			composite.sources = append(composite.sources, sources[i])
		}
	}

	l.logger.Debug("Loaded %d properties from %d of %d contexts",
		composite.Len(), len(composite.sources), len(contexts))
	return composite, nil
}

// read retries a context read while the error is transient
func (l *Loader) read(ctx context.Context, name string) (*vault.Secret, error) {
	backoff := l.RetryBackoff
	for attempt := 0; ; attempt++ {
		secret, err := l.reader.ReadSecret(ctx, name)
		if err == nil || attempt >= l.Retries || !dserrors.IsRetryable(err) {
			return secret, err
		}
		l.logger.Debug("Retrying read of %s after %v: %v", name, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

package vault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
)

// Recorder receives client events. The metrics package implements it.
type Recorder interface {
	AuthAttempt(method string, err error)
	SecretRead(path string, found bool, err error)
	TokenRenewal(err error)
}

type nopRecorder struct{}

func (nopRecorder) AuthAttempt(string, error)      {}
func (nopRecorder) SecretRead(string, bool, error) {}
func (nopRecorder) TokenRenewal(error)             {}

// Client is a Vault API client configured from VaultProperties
type Client struct {
	api      *api.Client
	props    config.VaultProperties
	logger   *logging.Logger
	recorder Recorder
}

// Option customizes a Client
type Option func(*Client)

// WithRecorder installs an event recorder
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient builds a Vault client for the given properties. The client has
// no token until a Session is established.
func NewClient(props config.VaultProperties, logger *logging.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		logger.Debug("Ignoring Vault environment settings: %v", cfg.Error)
	}
	cfg.Address = props.Address()
	if props.ReadTimeout > 0 {
		cfg.Timeout = props.ReadTimeout
	}

	tlsConfig, err := buildTLSConfig(props.SSL)
	if err != nil {
		return nil, err
	}

	transport, ok := cfg.HttpClient.Transport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected Vault transport type %T", cfg.HttpClient.Transport)
	}
	transport.TLSClientConfig = tlsConfig
	if props.ConnectionTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   props.ConnectionTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.TLSHandshakeTimeout = props.ConnectionTimeout
	}

	apiClient, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client creation failed: %w", err)
	}

	// api.NewClient picks VAULT_TOKEN and VAULT_NAMESPACE from the
	// environment; both are owned by the properties instead.
	apiClient.ClearToken()
	if props.Namespace != "" {
		apiClient.SetNamespace(props.Namespace)
	} else {
		apiClient.ClearNamespace()
	}

	c := &Client{
		api:      apiClient,
		props:    props,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}

	logger.Debug("Vault client created for %s", cfg.Address)
	return c, nil
}

// API exposes the underlying client for provisioning and diagnostics
func (c *Client) API() *api.Client {
	return c.api
}

// Address returns the Vault base URL
func (c *Client) Address() string {
	return c.api.Address()
}

// Properties returns the properties the client was built from
func (c *Client) Properties() config.VaultProperties {
	return c.props
}

// Secret is the key/value content stored at one secret path
type Secret struct {
	Path     string
	Data     map[string]interface{}
	Version  int
	Metadata map[string]interface{}
}

// ReadSecret reads a key/value secret below the generic backend. It returns
// nil without error when nothing is stored at path.
func (c *Client) ReadSecret(ctx context.Context, path string) (*Secret, error) {
	backend := c.props.Generic.Backend
	path = strings.Trim(path, "/")

	var (
		kv  *api.KVSecret
		err error
	)
	if c.props.Generic.BackendVersion == 2 {
		kv, err = c.api.KVv2(backend).Get(ctx, path)
	} else {
		kv, err = c.api.KVv1(backend).Get(ctx, path)
	}

	if err != nil {
		if IsNotFound(err) {
			c.recorder.SecretRead(path, false, nil)
			c.logger.Debug("No secret at %s/%s", backend, path)
			return nil, nil
		}
		c.recorder.SecretRead(path, false, err)
		return nil, dserrors.VaultError("read "+backend+"/"+path, c.Address(), err)
	}
	if kv == nil || kv.Data == nil {
		c.recorder.SecretRead(path, false, nil)
		return nil, nil
	}

	secret := &Secret{Path: path, Data: kv.Data, Metadata: kv.CustomMetadata}
	if kv.VersionMetadata != nil {
		secret.Version = kv.VersionMetadata.Version
	}
	c.recorder.SecretRead(path, true, nil)
	c.logger.Debug("Read %d keys from %s/%s", len(kv.Data), backend, path)
	return secret, nil
}

// Health returns the server health status
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	return c.api.Sys().HealthWithContext(ctx)
}

// IsNotFound reports whether err means that no secret exists at a path
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, api.ErrSecretNotFound) {
		return true
	}
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsPermissionDenied reports whether Vault rejected the request with 403
func IsPermissionDenied(err error) bool {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusForbidden
	}
	return false
}

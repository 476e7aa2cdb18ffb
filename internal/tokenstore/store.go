// Package tokenstore keeps Vault tokens in the OS keyring, one per Vault
// address. 'vaultconfig login' writes them and TOKEN authentication falls
// back to them when no token is configured.
package tokenstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name tokens are stored under
const DefaultService = "vaultconfig"

// ErrNotFound is returned when no token is stored for an address
var ErrNotFound = errors.New("no stored token")

// Store reads and writes tokens in the keyring
type Store struct {
	service string
}

// New creates a store. An empty service uses DefaultService.
func New(service string) *Store {
	if service == "" {
		service = DefaultService
	}
	return &Store{service: service}
}

// account normalises an address so "https://vault:8200/" and
// "HTTPS://vault:8200" share one entry
func account(address string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(address), "/"))
}

// Get returns the token stored for address
func (s *Store) Get(address string) (string, error) {
	token, err := keyring.Get(s.service, account(address))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for %s", ErrNotFound, address)
		}
		return "", fmt.Errorf("keyring read failed: %w", err)
	}
	return token, nil
}

// Set stores token for address, replacing any previous one
func (s *Store) Set(address, token string) error {
	if token == "" {
		return errors.New("refusing to store an empty token")
	}
	if err := keyring.Set(s.service, account(address), token); err != nil {
		return fmt.Errorf("keyring write failed: %w", err)
	}
	return nil
}

// Delete removes the token for address. Deleting a missing entry is not an
// error.
func (s *Store) Delete(address string) error {
	err := keyring.Delete(s.service, account(address))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete failed: %w", err)
	}
	return nil
}

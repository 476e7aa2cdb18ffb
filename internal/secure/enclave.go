package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer holds a credential encrypted in memory. Tokens, passwords
// and resolved secret values are kept in one until they are needed for a
// request or handed to a child process.
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewSecureBuffer seals data. memguard wipes the source slice.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}, nil
}

// NewSecureBufferFromString seals a copy of s
func NewSecureBufferFromString(s string) (*SecureBuffer, error) {
	return NewSecureBuffer([]byte(s))
}

// Open decrypts the value into a locked buffer. Callers must Destroy it.
// An empty or destroyed buffer opens to an empty locked buffer.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return s.enclave.Open()
}

// Reveal returns the plaintext as a string. The copy lives in ordinary
// memory, so call it as late as possible.
func (s *SecureBuffer) Reveal() (string, error) {
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Empty reports whether the buffer holds no data
func (s *SecureBuffer) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed || s.enclave == nil || s.enclave.Size() == 0
}

// Destroy drops the enclave. It is safe to call more than once.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
	s.destroyed = true
}

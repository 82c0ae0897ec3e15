// Package credential stores API keys and mailbox passwords in the OS keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/Veraticus/mail-alfred/internal/common"
)

const serviceName = "alfred"

// Well-known secret keys.
const (
	KeyOpenAI       = "openai_api_key"
	KeyAnthropic    = "anthropic_api_key"
	KeyIMAPPassword = "imap_password"
)

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring. Tests pass keyring.NewArrayKeyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open opens the platform keyring, falling back to an encrypted file under
// fileDir when no system backend is available.
func Open(fileDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("alfred-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// Get retrieves a secret by key. A missing key wraps common.ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("credential %q: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a secret by key.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "alfred " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a secret by key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Keys lists the stored secret keys.
func (s *Store) Keys() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return keys, nil
}

// Package credential stores the API bearer token in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "storefront-notify"

// TokenKey is the keyring key holding the API bearer token.
const TokenKey = "api-token"

// TokenEnv overrides the stored token when set.
const TokenEnv = "NOTIFY_TOKEN"

// ErrNoToken is returned when no token is configured anywhere.
var ErrNoToken = errors.New("no API token configured: run `notifyctl login`")

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/storefront-notify/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("storefront-notify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Vault reads and writes credentials. The system keyring is opened on
// first use.
type Vault struct {
	ring   keyring.Keyring
	open   func() (keyring.Keyring, error)
	getenv func(string) string
}

// NewVault returns a Vault backed by the system keyring.
func NewVault() *Vault {
	return &Vault{open: openKeyring, getenv: os.Getenv}
}

// NewVaultWithKeyring returns a Vault backed by ring. Environment
// overrides are ignored.
func NewVaultWithKeyring(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring, getenv: func(string) string { return "" }}
}

func (v *Vault) backend() (keyring.Keyring, error) {
	if v.ring != nil {
		return v.ring, nil
	}
	ring, err := v.open()
	if err != nil {
		return nil, err
	}
	v.ring = ring
	return ring, nil
}

// Get retrieves a credential value by key from the keyring.
func (v *Vault) Get(key string) (string, error) {
	ring, err := v.backend()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the keyring.
func (v *Vault) Set(key string, value string) error {
	ring, err := v.backend()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "storefront-notify " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the keyring. Deleting a key
// that does not exist is not an error.
func (v *Vault) Delete(key string) error {
	ring, err := v.backend()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Token resolves the API token: the NOTIFY_TOKEN environment variable
// first, then the keyring. It returns ErrNoToken when neither has one.
func (v *Vault) Token() (string, error) {
	if tok := strings.TrimSpace(v.getenv(TokenEnv)); tok != "" {
		return tok, nil
	}

	tok, err := v.Get(TokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(tok) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(tok), nil
}

package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage for tokens.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Each key becomes its own keyring service entry: "<service>/<key>".
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

func (k *KeyringStore) entry(key string) string {
	return k.service + "/" + key
}

// Read returns the token from the system keyring. A missing entry is Absent.
func (k *KeyringStore) Read(ctx context.Context, key string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Absent, err
	}
	if err := validateKey(key); err != nil {
		return Absent, readError(key, err)
	}

	value, err := keyring.Get(k.entry(key), k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return Absent, nil
	}
	if err != nil {
		return Absent, readError(key, err)
	}
	return Present(value), nil
}

// Write persists the token to the system keyring, overwriting any existing value.
func (k *KeyringStore) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return writeError(key, err)
	}

	if err := keyring.Set(k.entry(key), k.user, value); err != nil {
		return writeError(key, err)
	}
	return nil
}

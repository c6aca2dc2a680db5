package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

// DefaultKey is the well-known key the bootstrap bridge persists tokens under.
const DefaultKey = "token"

// ErrReadOnly is returned by Write on backends that cannot persist values.
var ErrReadOnly = errors.New("storage is read-only")

// Store reads and writes tokens to persistent storage.
type Store interface {
	// Read returns the token stored under key, or Absent if nothing was ever
	// written. An error means the backend itself is unusable.
	Read(ctx context.Context, key string) (Token, error)

	// Write persists value under key, overwriting any prior value.
	Write(ctx context.Context, key, value string) error
}

// StorageError describes a failed backend operation.
type StorageError struct {
	Op  string // "read" or "write"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func readError(key string, err error) error {
	return &StorageError{Op: "read", Key: key, Err: err}
}

func writeError(key string, err error) error {
	return &StorageError{Op: "write", Key: key, Err: err}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	return nil
}

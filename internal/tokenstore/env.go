package tokenstore

import (
	"context"
	"os"
	"strings"
)

// EnvStore provides read-only access to tokens stored in environment variables.
// Key "token" with prefix "APP_" resolves to APP_TOKEN.
type EnvStore struct {
	prefix string
	lookup func(string) (string, bool)
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore that resolves keys under prefix.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{
		prefix: prefix,
		lookup: os.LookupEnv,
	}
}

// Variable returns the environment variable name backing key.
func (e *EnvStore) Variable(key string) string {
	return e.prefix + strings.ToUpper(key)
}

// Read returns the variable's value. An unset variable is Absent; a set but
// empty one is a present empty token.
func (e *EnvStore) Read(ctx context.Context, key string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Absent, err
	}
	if err := validateKey(key); err != nil {
		return Absent, readError(key, err)
	}

	value, ok := e.lookup(e.Variable(key))
	if !ok {
		return Absent, nil
	}
	return Present(value), nil
}

// Write is not supported for environment variables.
func (e *EnvStore) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return writeError(key, ErrReadOnly)
}

package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one file per key inside a directory.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	dir string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		dir: dir,
	}, nil
}

// path maps key to a file inside the store directory.
func (f *FileStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if !filepath.IsLocal(key) || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("key %q is not a plain file name", key)
	}
	return filepath.Join(f.dir, key), nil
}

// Read returns the stored token verbatim. A missing file is Absent.
// Returns error if the file has insecure permissions.
func (f *FileStore) Read(ctx context.Context, key string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Absent, err
	}

	p, err := f.path(key)
	if err != nil {
		return Absent, readError(key, err)
	}

	// Check file permissions before reading
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Absent, nil
	}
	if err != nil {
		return Absent, readError(key, err)
	}
	if info.Mode().Perm() != 0600 {
		return Absent, readError(key, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", p, info.Mode().Perm()))
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return Absent, readError(key, err)
	}
	return Present(string(data)), nil
}

// Write atomically saves the value using temp file + rename for crash safety.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := f.path(key)
	if err != nil {
		return writeError(key, err)
	}
	if err := f.writeFile(ctx, p, value); err != nil {
		return writeError(key, err)
	}
	return nil
}

func (f *FileStore) writeFile(ctx context.Context, p, value string) error {
	// Temp file in the same directory keeps the rename atomic
	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.WriteString(value); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, p); err != nil {
		return err
	}

	// 0600 = rw-------
	return os.Chmod(p, 0600)
}

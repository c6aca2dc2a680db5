package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// newStores returns every writable backend, each backed by fresh state.
func newStores(t *testing.T) map[string]Store {
	t.Helper()

	keyring.MockInit()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "tokens"))
	require.NoError(t, err)

	keyringStore, err := NewKeyringStore("tokenbridge-test", t.Name())
	require.NoError(t, err)

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"file":    fileStore,
		"keyring": keyringStore,
		"sqlite":  sqliteStore,
		"memory":  NewMemoryStore(),
	}
}

func TestStores_ReadWrite(t *testing.T) {
	ctx := context.Background()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			tok, err := store.Read(ctx, DefaultKey)
			require.NoError(t, err)
			assert.True(t, tok.IsAbsent(), "unwritten key must read as absent")

			require.NoError(t, store.Write(ctx, DefaultKey, "abc123"))
			tok, err = store.Read(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Equal(t, Present("abc123"), tok)

			// last write wins
			require.NoError(t, store.Write(ctx, DefaultKey, "t2"))
			require.NoError(t, store.Write(ctx, DefaultKey, "t3"))
			tok, err = store.Read(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Equal(t, Present("t3"), tok)

			// empty string is a value, not absence
			require.NoError(t, store.Write(ctx, DefaultKey, ""))
			tok, err = store.Read(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Equal(t, Present(""), tok)
			assert.False(t, tok.IsAbsent())

			// keys are independent
			other, err := store.Read(ctx, "other")
			require.NoError(t, err)
			assert.True(t, other.IsAbsent())
		})
	}
}

func TestStores_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Read(ctx, DefaultKey)
			assert.Error(t, err)
			assert.Error(t, store.Write(ctx, DefaultKey, "v"))
		})
	}
}

func TestFileStore_PreservesValueVerbatim(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, DefaultKey, "  spaced\n"))

	tok, err := store.Read(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, Present("  spaced\n"), tok)
}

func TestFileStore_InsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultKey), []byte("x"), 0644))
	require.NoError(t, os.Chmod(filepath.Join(dir, DefaultKey), 0644))

	_, err = store.Read(context.Background(), DefaultKey)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "read", storageErr.Op)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"", "../escape", "a/b", "/abs"} {
		assert.Error(t, store.Write(ctx, key, "v"), "key %q", key)
	}
}

func TestFileStore_WritesSecurePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Write(context.Background(), DefaultKey, "v"))

	info, err := os.Stat(filepath.Join(dir, DefaultKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	store := NewEnvStore("TOKENBRIDGE_TEST_")
	assert.Equal(t, "TOKENBRIDGE_TEST_TOKEN", store.Variable(DefaultKey))

	tok, err := store.Read(ctx, DefaultKey)
	require.NoError(t, err)
	assert.True(t, tok.IsAbsent())

	t.Setenv("TOKENBRIDGE_TEST_TOKEN", "from-env")
	tok, err = store.Read(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, Present("from-env"), tok)

	err = store.Write(ctx, DefaultKey, "v")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestKeyringStore_WriteFailure(t *testing.T) {
	keyring.MockInitWithError(keyring.ErrSetDataTooBig)

	store, err := NewKeyringStore("tokenbridge-test", "user")
	require.NoError(t, err)

	err = store.Write(context.Background(), DefaultKey, "v")
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "write", storageErr.Op)
	assert.Equal(t, DefaultKey, storageErr.Key)
	assert.ErrorIs(t, err, keyring.ErrSetDataTooBig)
}

func TestNewKeyringStore_Validation(t *testing.T) {
	_, err := NewKeyringStore("", "user")
	assert.Error(t, err)
	_, err = NewKeyringStore("svc", "")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	v, ok := Absent.Value()
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, Absent, Token{})

	v, ok = Present("").Value()
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.NotEqual(t, Absent, Present(""))

	assert.Equal(t, "<absent>", Absent.String())
	assert.Equal(t, "<redacted>", Present("secret").String())
}

func TestToken_JSON(t *testing.T) {
	type flags struct {
		Token Token `json:"token"`
	}

	data, err := json.Marshal(flags{Token: Absent})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token": null}`, string(data))

	data, err = json.Marshal(flags{Token: Present("abc")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token": "abc"}`, string(data))

	var got flags
	require.NoError(t, json.Unmarshal([]byte(`{"token": null}`), &got))
	assert.True(t, got.Token.IsAbsent())

	require.NoError(t, json.Unmarshal([]byte(`{"token": ""}`), &got))
	assert.Equal(t, Present(""), got.Token)

	assert.Error(t, json.Unmarshal([]byte(`{"token": 5}`), &got))
}

func TestStorageError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := writeError("token", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, `write "token": disk full`, err.Error())
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/tokenbridge/internal/bridge"
	"github.com/florianilch/tokenbridge/internal/server"
	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

func newInstance(t *testing.T, token tokenstore.Token) (*Instance, *server.Server) {
	t.Helper()

	srv := server.New()
	node, err := srv.ElementByID(bridge.DefaultMountID)
	require.NoError(t, err)

	inst, err := NewProgram().Init(context.Background(), bridge.InitOptions{
		Node:  node,
		Flags: bridge.Flags{Token: token},
	})
	require.NoError(t, err)
	return inst.(*Instance), srv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func getView(t *testing.T, h http.Handler) View {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestInit_InterpretsFlags(t *testing.T) {
	inst, srv := newInstance(t, tokenstore.Absent)
	v := getView(t, srv)
	assert.False(t, v.LoggedIn)
	assert.True(t, v.Token.IsAbsent())
	assert.Equal(t, inst.ID().String(), v.Instance)

	_, srv = newInstance(t, tokenstore.Present("old-token"))
	v = getView(t, srv)
	assert.True(t, v.LoggedIn)
	assert.Equal(t, tokenstore.Present("old-token"), v.Token)
}

func TestInit_EmptyTokenIsLoggedOut(t *testing.T) {
	inst, srv := newInstance(t, tokenstore.Present(""))
	assert.False(t, inst.LoggedIn())
	v := getView(t, srv)
	assert.False(t, v.LoggedIn)
	assert.True(t, v.Token.IsAbsent())
}

func TestInit_RequiresNode(t *testing.T) {
	_, err := NewProgram().Init(context.Background(), bridge.InitOptions{})
	assert.Error(t, err)
}

func TestLoginLogout_EmitOnPort(t *testing.T) {
	inst, srv := newInstance(t, tokenstore.Absent)
	updates, err := inst.Ports().SetToken.Subscribe()
	require.NoError(t, err)

	rec := do(t, srv, http.MethodPut, "/session/token", `{"token":"abc123"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc123", <-updates)
	assert.Equal(t, tokenstore.Present("abc123"), inst.Token())

	rec = do(t, srv, http.MethodDelete, "/session/token", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "", <-updates)
	assert.False(t, inst.LoggedIn())
}

func TestLogin_RejectsBadRequests(t *testing.T) {
	inst, srv := newInstance(t, tokenstore.Absent)

	rec := do(t, srv, http.MethodPut, "/session/token", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/session/token", `{"token":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.False(t, inst.LoggedIn())
}

func TestHandlers_TagRequestLog(t *testing.T) {
	var buf bytes.Buffer
	srv := server.New(server.WithMiddleware(server.Logging(slog.New(slog.NewJSONHandler(&buf, nil)), nil)))
	node, err := srv.ElementByID(bridge.DefaultMountID)
	require.NoError(t, err)

	inst, err := NewProgram().Init(context.Background(), bridge.InitOptions{Node: node})
	require.NoError(t, err)
	inst.(*Instance).Close()

	do(t, srv, http.MethodPut, "/session/token", `{"token":"s3cr3t-token"}`)
	do(t, srv, http.MethodPut, "/session/token", `not json`)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var emitted, rejected map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &emitted))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rejected))

	id := inst.(*Instance).ID().String()
	assert.Equal(t, id, emitted["session.instance"])
	assert.Contains(t, emitted["error"], bridge.ErrPortClosed.Error(), "closed port is reported on the request")
	assert.Equal(t, id, rejected["session.instance"])
	assert.NotEmpty(t, rejected["error"])
	assert.NotContains(t, buf.String(), "s3cr3t-token")
}

func TestLogin_KeepsStateWhenPortClosed(t *testing.T) {
	inst, _ := newInstance(t, tokenstore.Absent)
	inst.Close()

	err := inst.Login(context.Background(), "abc")
	assert.ErrorIs(t, err, bridge.ErrPortClosed)
	assert.Equal(t, tokenstore.Present("abc"), inst.Token())
}

// TestBridge_PersistsThroughHTTP drives the full bootstrap: stored token in,
// HTTP login, token persisted back.
func TestBridge_PersistsThroughHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Write(ctx, tokenstore.DefaultKey, "old-token"))

	srv := server.New()
	b, err := bridge.New(bridge.Static(NewProgram()), store, srv)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()
	select {
	case <-b.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not become ready")
	}

	assert.Equal(t, tokenstore.Present("old-token"), getView(t, srv).Token)

	do(t, srv, http.MethodPut, "/session/token", `{"token":"new-token"}`)
	require.Eventually(t, func() bool {
		tok, err := store.Read(ctx, tokenstore.DefaultKey)
		return err == nil && tok == tokenstore.Present("new-token")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-errCh)
}

// boot runs a bridge over store until the returned stop is called.
func boot(t *testing.T, store tokenstore.Store) (*server.Server, func()) {
	t.Helper()

	srv := server.New()
	b, err := bridge.New(bridge.Static(NewProgram()), store, srv)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(context.Background()) }()
	select {
	case <-b.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not become ready")
	}

	return srv, func() {
		b.Close()
		require.NoError(t, <-errCh)
	}
}

func TestLogout_SurvivesRestart(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Write(context.Background(), tokenstore.DefaultKey, "abc"))

	srv, stop := boot(t, store)
	require.True(t, getView(t, srv).LoggedIn)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/session/token", "").Code)
	stop()

	srv, stop = boot(t, store)
	defer stop()
	v := getView(t, srv)
	assert.False(t, v.LoggedIn)
	assert.True(t, v.Token.IsAbsent())
}

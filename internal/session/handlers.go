package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"

	"github.com/florianilch/tokenbridge/internal/bridge"
	"github.com/florianilch/tokenbridge/internal/server"
	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

// View is the session as rendered to clients.
type View struct {
	Instance string           `json:"instance"`
	LoggedIn bool             `json:"logged_in"`
	Token    tokenstore.Token `json:"token"`
}

// LoginRequest is the body of PUT /session/token.
type LoginRequest struct {
	Token string `json:"token" validate:"required"`
}

func (i *Instance) mount(node bridge.Node) {
	node.Handle("GET /session", http.HandlerFunc(i.handleGet))
	node.Handle("PUT /session/token", http.HandlerFunc(i.handleLogin))
	node.Handle("DELETE /session/token", http.HandlerFunc(i.handleLogout))
}

// requestContext tags the request log entry with the serving instance, so
// entries from before and after a restart can be told apart.
func (i *Instance) requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	httplog.SetAttrs(ctx, slog.String("session.instance", i.id.String()))
	return ctx
}

func (i *Instance) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := i.requestContext(r)
	token := i.Token()
	server.WriteJSON(ctx, w, View{
		Instance: i.id.String(),
		LoggedIn: !token.IsAbsent(),
		Token:    token,
	}, http.StatusOK)
}

func (i *Instance) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := i.requestContext(r)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = httplog.SetError(ctx, err)
		server.WriteJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := i.validate.Struct(req); err != nil {
		server.WriteJSONError(ctx, w, "token is required", http.StatusUnprocessableEntity)
		return
	}

	if err := i.Login(ctx, req.Token); err != nil {
		slog.WarnContext(ctx, "token update not emitted", "error", httplog.SetError(ctx, err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (i *Instance) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := i.requestContext(r)
	if err := i.Logout(ctx); err != nil {
		slog.WarnContext(ctx, "token update not emitted", "error", httplog.SetError(ctx, err))
	}
	w.WriteHeader(http.StatusNoContent)
}

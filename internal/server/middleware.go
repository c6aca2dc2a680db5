package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// HealthPath is served by the app; successful checks are not logged.
const HealthPath = "/healthz"

// Recovery turns a handler panic into a JSON 500 and attaches the panic to the
// request log entry.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			_ = httplog.SetError(r.Context(), fmt.Errorf("panic: %v", rec))
			WriteJSONError(r.Context(), w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging writes one entry per request, tagged with the bridge state the
// request finished in. Headers and bodies carry tokens, so neither is logged.
// A nil state omits the tag.
func Logging(logger *slog.Logger, state func() string) func(http.Handler) http.Handler {
	requestLogger := httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		Skip: func(r *http.Request, status int) bool {
			return r.URL.Path == HealthPath && status == http.StatusOK
		},

		LogRequestHeaders:  []string{"Content-Type"},
		LogResponseHeaders: []string{},

		RecoverPanics: false,
	})

	return func(next http.Handler) http.Handler {
		return requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if state != nil {
				defer func() {
					httplog.SetAttrs(r.Context(), slog.String("bridge.state", state()))
				}()
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// applyMiddlewares wraps h so that middlewares[0] runs first.
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Package server hosts mounted programs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/florianilch/tokenbridge/internal/bridge"
)

// Server is the HTTP host for mounted programs.
type Server struct {
	mux         *http.ServeMux
	middlewares []func(http.Handler) http.Handler

	mu     sync.Mutex
	mounts map[string]*Mount
	server *http.Server
	addr   net.Addr
}

// Compile-time checks
var (
	_ http.Handler = (*Server)(nil)
	_ bridge.Host  = (*Server)(nil)
)

// Option configures a Server.
type Option func(*Server)

// WithMount registers a mount node id serving beneath prefix.
func WithMount(id, prefix string) Option {
	return func(s *Server) {
		s.mounts[id] = &Mount{id: id, prefix: strings.TrimSuffix(prefix, "/"), server: s}
	}
}

// WithMiddleware appends middlewares applied to every mounted handler.
// The first middleware is the outermost.
func WithMiddleware(middlewares ...func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, middlewares...)
	}
}

// New creates a Server. The bridge.DefaultMountID node serves at "/" unless
// overridden with WithMount.
func New(opts ...Option) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		mounts: make(map[string]*Mount),
	}
	WithMount(bridge.DefaultMountID, "")(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ElementByID returns the mount node registered under id.
func (s *Server) ElementByID(id string) (bridge.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mounts[id]
	if !ok {
		return nil, fmt.Errorf("no mount node with id %q", id)
	}
	return m, nil
}

// Handle registers a handler outside any mount (health, diagnostics).
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, applyMiddlewares(handler, s.middlewares...))
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
		// Requests keep running through graceful shutdown; Shutdown bounds them.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	s.mu.Lock()
	s.server = srv
	s.addr = listener.Addr()
	s.mu.Unlock()

	slog.DebugContext(ctx, "listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)

	go func() {
		err := srv.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// Mount is a node programs attach their handlers to.
type Mount struct {
	id     string
	prefix string
	server *Server
}

// Compile-time check that Mount implements bridge.Node
var _ bridge.Node = (*Mount)(nil)

// ID returns the mount identifier.
func (m *Mount) ID() string {
	return m.id
}

// Handle registers handler for pattern relative to the mount prefix.
// Patterns may carry a method, e.g. "GET /session".
func (m *Mount) Handle(pattern string, handler http.Handler) {
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		method, path = "", pattern
	}
	if m.prefix != "" {
		handler = http.StripPrefix(m.prefix, handler)
	}
	full := m.prefix + path
	if method != "" {
		full = method + " " + full
	}
	m.server.Handle(full, handler)
}

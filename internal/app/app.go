package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tokenbridge/internal/bridge"
	"github.com/florianilch/tokenbridge/internal/server"
	"github.com/florianilch/tokenbridge/internal/session"
	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

// App orchestrates the lifecycle of the HTTP host and the bootstrap bridge.
type App struct {
	cfg        *Config
	store      tokenstore.Store
	closeStore func() error
	server     *server.Server
	bridge     *bridge.Bridge
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, closeStore, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	// Requests only arrive after Start, by which point b is set.
	var b *bridge.Bridge
	bridgeState := func() string { return b.State().String() }

	srv := server.New(
		server.WithMount(cfg.Bridge.Mount, ""),
		server.WithMiddleware(server.Logging(slog.Default(), bridgeState), server.Recovery),
	)

	b, err = bridge.New(newLoader(), store, srv,
		bridge.WithKey(cfg.Bridge.Key),
		bridge.WithMountID(cfg.Bridge.Mount),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	srv.Handle("GET "+server.HealthPath, healthHandler(b))

	return &App{
		cfg:        cfg,
		store:      store,
		closeStore: closeStore,
		server:     srv,
		bridge:     b,
	}, nil
}

// Store returns the configured token store.
func (a *App) Store() tokenstore.Store {
	return a.store
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	shutdownFuncs := []func(context.Context) error{
		func(context.Context) error { return a.closeStore() },
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		_ = a.closeStore()
		return fmt.Errorf("server startup failed: %w", err)
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	// The bridge outlives gCtx: it stops only after the server stopped
	// accepting token updates, so every acknowledged update gets persisted.
	bridgeCtx, cancelBridge := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBridge()
	bridgeErrCh := make(chan error, 1)
	bridgeStopped := make(chan struct{})
	go func() {
		defer close(bridgeStopped)
		if err := a.bridge.Run(bridgeCtx); err != nil {
			bridgeErrCh <- err
		}
	}()
	shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
		a.bridge.Close()
		cancelBridge()
		select {
		case <-bridgeStopped:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("bridge did not finish persisting: %w", ctx.Err())
		}
	})
	// Registered last so it runs first: no new updates once the bridge drains.
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	g.Go(func() error {
		select {
		case err := <-bridgeErrCh:
			slog.ErrorContext(gCtx, "bridge failed", "error", err)
			return fmt.Errorf("bridge: %w", err)
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// newLoader resolves the session program once.
func newLoader() bridge.Loader {
	return bridge.Once(func(context.Context) (bridge.Program, error) {
		return session.NewProgram(), nil
	})
}

type healthResponse struct {
	State string `json:"state"`
}

// healthHandler reports the bridge state; 503 until the program runs.
func healthHandler(b *bridge.Bridge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := b.State()
		status := http.StatusOK
		if state != bridge.StateRunning {
			status = http.StatusServiceUnavailable
		}
		server.WriteJSON(r.Context(), w, healthResponse{State: state.String()}, status)
	})
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

const (
	// DefaultMountID identifies the node the program is mounted on.
	DefaultMountID = "root"

	tracerName = "github.com/florianilch/tokenbridge/internal/bridge"
)

// State is the bootstrap state. Loading is initial, Running is terminal.
type State int32

const (
	StateLoading State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Bridge.
type Option func(*config)

type config struct {
	key            string
	mountID        string
	tracerProvider trace.TracerProvider
}

// WithKey overrides the storage key (default tokenstore.DefaultKey).
func WithKey(key string) Option {
	return func(c *config) {
		c.key = key
	}
}

// WithMountID overrides the mount node identifier (default DefaultMountID).
func WithMountID(id string) Option {
	return func(c *config) {
		c.mountID = id
	}
}

// WithTracerProvider sets the provider spans are recorded with
// (default: the global otel provider).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// Bridge sequences program initialization and token persistence.
type Bridge struct {
	loader Loader
	store  tokenstore.Store
	host   Host
	cfg    config
	tracer trace.Tracer

	state   atomic.Int32
	started atomic.Bool
	ready   chan struct{}

	mu      sync.Mutex
	port    *Port[string]
	closing bool
}

// New creates a Bridge. No I/O is performed until Run.
func New(loader Loader, store tokenstore.Store, host Host, opts ...Option) (*Bridge, error) {
	if loader == nil {
		return nil, errors.New("missing program loader")
	}
	if store == nil {
		return nil, errors.New("missing token store")
	}
	if host == nil {
		return nil, errors.New("missing host")
	}

	cfg := config{
		key:            tokenstore.DefaultKey,
		mountID:        DefaultMountID,
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.key == "" {
		return nil, errors.New("storage key cannot be empty")
	}
	if cfg.mountID == "" {
		return nil, errors.New("mount id cannot be empty")
	}
	if cfg.tracerProvider == nil {
		return nil, errors.New("missing tracer provider")
	}

	return &Bridge{
		loader: loader,
		store:  store,
		host:   host,
		cfg:    cfg,
		tracer: cfg.tracerProvider.Tracer(tracerName),
		ready:  make(chan struct{}),
	}, nil
}

// State returns the current bootstrap state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Ready is closed when the bridge enters StateRunning.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Run boots the program and then persists its token updates until ctx is
// done or the port is closed. Run may only be called once.
//
// Updates the port already accepted are persisted before Run returns, also
// when ctx is canceled. Writes never observe ctx cancellation.
//
// A failing loader, missing mount node, or failing Init is fatal and returned.
// The load has no timeout of its own; it only ends early if ctx does.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("bridge already started")
	}

	updates, port, err := b.boot(ctx)
	if err != nil {
		return err
	}

	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			b.drain(writeCtx, updates)
			return nil
		case <-port.Done():
			b.drain(writeCtx, updates)
			return nil
		case token := <-updates:
			b.persist(writeCtx, token)
		}
	}
}

// Close closes the program's setToken port so Run drains and returns.
// Senders still running get ErrPortClosed. Calling Close before the program
// is running closes the port as soon as it is subscribed.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closing = true
	port := b.port
	b.mu.Unlock()

	if port != nil {
		port.Close()
	}
}

// boot performs the Loading phase and returns the subscribed port.
func (b *Bridge) boot(ctx context.Context) (<-chan string, *Port[string], error) {
	ctx, span := b.tracer.Start(ctx, "bridge.boot")
	defer span.End()

	slog.DebugContext(ctx, "loading program")
	program, err := b.loader(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, nil, fmt.Errorf("loading program: %w", err)
	}
	if program == nil {
		return nil, nil, errors.New("loading program: loader returned no program")
	}

	token, err := b.store.Read(ctx, b.cfg.key)
	if err != nil {
		// Absence is not an error; an unusable backend is treated like one.
		slog.WarnContext(ctx, "failed to read stored token, starting without it", "key", b.cfg.key, "error", err)
		token = tokenstore.Absent
	}
	span.SetAttributes(attribute.Bool("token.present", !token.IsAbsent()))

	node, err := b.host.ElementByID(b.cfg.mountID)
	if err != nil {
		return nil, nil, fmt.Errorf("locating mount node %q: %w", b.cfg.mountID, err)
	}

	instance, err := program.Init(ctx, InitOptions{
		Node:  node,
		Flags: Flags{Token: token},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "init failed")
		return nil, nil, fmt.Errorf("initializing program: %w", err)
	}

	port := instance.Ports().SetToken
	if port == nil {
		return nil, nil, errors.New("program has no setToken port")
	}
	updates, err := port.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", port.Name(), err)
	}

	b.mu.Lock()
	b.port = port
	closing := b.closing
	b.mu.Unlock()
	if closing {
		port.Close()
	}

	b.state.Store(int32(StateRunning))
	close(b.ready)
	slog.InfoContext(ctx, "program running", "key", b.cfg.key, "mount", b.cfg.mountID, "token_present", !token.IsAbsent())

	return updates, port, nil
}

// persist writes token and discards the result.
func (b *Bridge) persist(ctx context.Context, token string) {
	ctx, span := b.tracer.Start(ctx, "bridge.persist", trace.WithAttributes(
		attribute.String("storage.key", b.cfg.key),
	))
	defer span.End()

	if err := b.store.Write(ctx, b.cfg.key, token); err != nil {
		span.AddEvent("write failed", trace.WithAttributes(attribute.String("error", err.Error())))
		slog.DebugContext(ctx, "token write dropped", "key", b.cfg.key, "error", err)
	}
}

// drain persists updates already queued when Run stops.
func (b *Bridge) drain(ctx context.Context, updates <-chan string) {
	for {
		select {
		case token := <-updates:
			b.persist(ctx, token)
		default:
			return
		}
	}
}

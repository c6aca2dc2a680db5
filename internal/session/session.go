// Package session is the program the bridge mounts: an HTTP front end that
// keeps the current token in memory and emits every change on its setToken port.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/florianilch/tokenbridge/internal/bridge"
	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

// SetTokenPort is the name of the outbound token port.
const SetTokenPort = "setToken"

// Program creates session instances.
type Program struct {
	validate *validator.Validate
}

// Compile-time check to ensure Program implements bridge.Program
var _ bridge.Program = (*Program)(nil)

// NewProgram creates a Program.
func NewProgram() *Program {
	return &Program{validate: validator.New()}
}

// Init creates an instance holding flags.Token and mounts its routes on opts.Node.
// An absent or empty token means logged out; logout persists an empty token.
func (p *Program) Init(ctx context.Context, opts bridge.InitOptions) (bridge.Instance, error) {
	if opts.Node == nil {
		return nil, errors.New("missing mount node")
	}

	token := opts.Flags.Token
	if v, ok := token.Value(); ok && v == "" {
		token = tokenstore.Absent
	}

	inst := &Instance{
		id:       uuid.New(),
		token:    token,
		setToken: bridge.NewPort[string](SetTokenPort),
		validate: p.validate,
	}
	inst.mount(opts.Node)

	slog.InfoContext(ctx, "session started", "instance", inst.id.String(), "logged_in", inst.LoggedIn())
	return inst, nil
}

// Instance is a running session.
type Instance struct {
	id       uuid.UUID
	validate *validator.Validate

	mu       sync.Mutex
	token    tokenstore.Token
	setToken *bridge.Port[string]
}

// Compile-time check to ensure Instance implements bridge.Instance
var _ bridge.Instance = (*Instance)(nil)

// ID returns the instance identifier.
func (i *Instance) ID() uuid.UUID {
	return i.id
}

// Ports exposes the setToken port.
func (i *Instance) Ports() bridge.Ports {
	return bridge.Ports{SetToken: i.setToken}
}

// Token returns the in-memory token.
func (i *Instance) Token() tokenstore.Token {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.token
}

// LoggedIn reports whether the instance holds a token.
func (i *Instance) LoggedIn() bool {
	return !i.Token().IsAbsent()
}

// Login replaces the in-memory token and emits it.
func (i *Instance) Login(ctx context.Context, token string) error {
	return i.update(ctx, tokenstore.Present(token), token)
}

// Logout forgets the token and emits an empty one.
func (i *Instance) Logout(ctx context.Context) error {
	return i.update(ctx, tokenstore.Absent, "")
}

// update sets the state first; the state is kept even if the emission fails.
func (i *Instance) update(ctx context.Context, state tokenstore.Token, emitted string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.token = state
	if err := i.setToken.Send(ctx, emitted); err != nil {
		return fmt.Errorf("emitting on %s: %w", SetTokenPort, err)
	}
	return nil
}

// Close closes the setToken port.
func (i *Instance) Close() {
	i.setToken.Close()
}

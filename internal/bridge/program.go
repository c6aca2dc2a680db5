package bridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

// Node is a mount target a program attaches itself to.
type Node interface {
	// Handle registers handler for pattern beneath the node.
	Handle(pattern string, handler http.Handler)
}

// Host locates mount nodes by identifier.
type Host interface {
	ElementByID(id string) (Node, error)
}

// Flags is the single startup parameter handed to a program.
type Flags struct {
	Token tokenstore.Token `json:"token"`
}

// InitOptions configures a program instance.
type InitOptions struct {
	Node  Node
	Flags Flags
}

// Program creates instances. The bridge creates exactly one.
type Program interface {
	Init(ctx context.Context, opts InitOptions) (Instance, error)
}

// Ports are the outbound channels of an instance.
type Ports struct {
	SetToken *Port[string]
}

// Instance is a running program.
type Instance interface {
	Ports() Ports
}

// Loader obtains the program. It may block until the program is available.
type Loader func(ctx context.Context) (Program, error)

// Once memoizes loader so the program is resolved at most once.
func Once(loader Loader) Loader {
	var (
		mu      sync.Mutex
		done    bool
		program Program
		err     error
	)
	return func(ctx context.Context) (Program, error) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return program, err
		}
		program, err = loader(ctx)
		// A canceled load may be retried by the next caller.
		if err == nil || ctx.Err() == nil {
			done = true
		}
		return program, err
	}
}

// Static returns a Loader that resolves immediately to program.
func Static(program Program) Loader {
	return func(context.Context) (Program, error) {
		return program, nil
	}
}

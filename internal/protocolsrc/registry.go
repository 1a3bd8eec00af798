package protocolsrc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/praxis-labs/praxis-go/internal/domain"
	"github.com/praxis-labs/praxis-go/internal/state"
)

// RunContext is the per-run bundle handed to a protocol implementation:
// bound arguments, the run's canonical state, a logging sink, and the
// cooperative checkpoint hook.
type RunContext struct {
	RunID  string
	Args   map[string]any
	State  state.Store
	Logger *slog.Logger

	// Checkpoint honors a pending pause or cancel command. Implementations
	// should call it between discrete steps; it returns the orchestrator's
	// cancellation error when the run must stop.
	Checkpoint func(ctx context.Context) error
}

// ProtocolFunc is an executable protocol procedure.
type ProtocolFunc func(ctx context.Context, rc RunContext) (domain.Metadata, error)

// Registry maps fully-qualified entrypoint names to implementations.
// Populated by explicit registration at startup; resolution by name with no
// runtime introspection.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ProtocolFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]ProtocolFunc{}}
}

func (r *Registry) Register(entrypoint string, fn ProtocolFunc) error {
	entrypoint = strings.TrimSpace(entrypoint)
	if entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if fn == nil {
		return fmt.Errorf("protocol func is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[entrypoint]; ok {
		return fmt.Errorf("entrypoint %q already registered", entrypoint)
	}
	r.funcs[entrypoint] = fn
	return nil
}

func (r *Registry) Lookup(entrypoint string) (ProtocolFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[strings.TrimSpace(entrypoint)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, entrypoint)
	}
	return fn, nil
}

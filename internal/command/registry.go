package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Handler executes one named command with typed arguments decoded from
// the invocation payload.
type Handler interface {
	Name() string
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// NewHandler adapts a typed function into a Handler. Arguments are
// decoded into T; an empty payload decodes to the zero value.
func NewHandler[T any](name string, fn func(ctx context.Context, args T) (any, error)) Handler {
	return &typedHandler[T]{name: name, fn: fn}
}

type typedHandler[T any] struct {
	name string
	fn   func(ctx context.Context, args T) (any, error)
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var args T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &UserError{Message: fmt.Sprintf("invalid arguments for %s: %v", h.name, err)}
		}
	}
	return h.fn(ctx, args)
}

// UserError is a failure safe to show verbatim to the invoking user.
// Anything else is logged in full and surfaced as a generic message.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Registry maps command names to handlers. The core never depends on
// it; handlers call into the core.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{handlers: map[string]Handler{}, logger: logger}
}

func (r *Registry) Register(handlers ...Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes a handler by name. Internal failures are logged with
// full context and returned as a human-readable UserError.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UserError{Message: fmt.Sprintf("unknown command %q", name)}
	}

	result, err := handler.Invoke(ctx, args)
	if err != nil {
		var userErr *UserError
		if errors.As(err, &userErr) {
			return nil, userErr
		}
		r.logger.Error().Err(err).Str("command", name).Msg("command failed")
		return nil, &UserError{Message: fmt.Sprintf("command %s failed: %v", name, err)}
	}
	return result, nil
}

// Package handlers provides a handler registry and the stock node handlers:
// function handlers, remote HTTP handlers, approvals, routers and LLM calls.
package handlers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/avi3tal/graphengine/pkg/types"
)

var (
	ErrEmptyName        = errors.New("handler name is empty")
	ErrNilHandler       = errors.New("handler is nil")
	ErrDuplicateHandler = errors.New("handler already registered")
)

// Registry maps handler names to handlers. It implements types.HandlerResolver
// and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]types.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]types.Handler)}
}

// Register adds h under name.
func (r *Registry) Register(name string, h types.Handler) error {
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register for setup code; it panics on error.
func (r *Registry) MustRegister(name string, h types.Handler) *Registry {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
	return r
}

// RegisterFunc registers a plain function.
func (r *Registry) RegisterFunc(name string, fn types.HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}
	return r.Register(name, fn)
}

func (r *Registry) Resolve(name string) (types.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
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

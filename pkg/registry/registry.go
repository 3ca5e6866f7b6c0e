// Package registry runs script actions implemented as Go functions.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// Function is a script implemented in Go. It receives the bound parameters
// and the session id, like a script file function does.
type Function func(ctx context.Context, params map[string]any, sessionID string) (domain.ScriptOutcome, error)

// Value adapts a function returning a plain value into a Function whose
// result is always a ScriptSuccess.
func Value(fn func(ctx context.Context, params map[string]any) (any, error)) Function {
	return func(ctx context.Context, params map[string]any, _ string) (domain.ScriptOutcome, error) {
		v, err := fn(ctx, params)
		if err != nil {
			return nil, err
		}
		return domain.ScriptSuccess{Value: v}, nil
	}
}

// Registry manages the available functions. It implements ports.ScriptRunner.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]Function
	fallback ports.ScriptRunner
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallback runs references no registered function matches on r,
// typically the script file runner.
func WithFallback(r ports.ScriptRunner) Option {
	return func(reg *Registry) {
		reg.fallback = r
	}
}

// NewRegistry creates a new empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		funcs: make(map[string]Function),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a function. name is either "file#function", matching one
// script reference exactly, or a bare function name matching it in any file.
// If a function with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Run looks up the function for ref and executes it.
func (r *Registry) Run(ctx context.Context, ref domain.ScriptRef, params map[string]any, sessionID string) (domain.ScriptOutcome, error) {
	r.mu.RLock()
	fn, ok := r.funcs[ref.File+"#"+ref.Function]
	if !ok {
		fn, ok = r.funcs[ref.Function]
	}
	r.mu.RUnlock()

	if !ok {
		if r.fallback != nil {
			return r.fallback.Run(ctx, ref, params, sessionID)
		}
		return nil, fmt.Errorf("script function not found: %s#%s", ref.File, ref.Function)
	}
	return fn(ctx, params, sessionID)
}

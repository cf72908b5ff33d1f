// Package registry holds the callable functions the pipeline can
// invoke, keyed by name and version.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

type Handler func(ctx context.Context, args []byte) (*operation.Value, error)

type Function struct {
	Name       string
	Version    string
	Deprecated bool
	Handler    Handler
}

type Registry struct {
	mu        sync.RWMutex
	functions map[string]map[string]*Function
}

func New() *Registry {
	return &Registry{
		functions: map[string]map[string]*Function{},
	}
}

func (r *Registry) Register(fn *Function) error {
	if fn.Name == "" {
		return fmt.Errorf("function name must be provided")
	}
	if fn.Version == "" {
		return fmt.Errorf("function %s version must be provided", fn.Name)
	}
	if fn.Handler == nil {
		return fmt.Errorf("function %s/%s handler must be provided", fn.Name, fn.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.functions[fn.Name][fn.Version]; ok {
		return fmt.Errorf("function %s/%s already registered", fn.Name, fn.Version)
	}

	if r.functions[fn.Name] == nil {
		r.functions[fn.Name] = map[string]*Function{}
	}
	r.functions[fn.Name][fn.Version] = fn

	return nil
}

func (r *Registry) Lookup(name string, version string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name][version]
	return fn, ok
}

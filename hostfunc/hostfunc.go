package hostfunc

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Func func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	fn     Func
	params []string
}

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]entry)}
}

// Register adds fn under name. params names the positional parameters, in
// order; scripts may always pass them as keywords instead.
func (r *Registry) Register(name string, fn Func, params ...string) {
	r.mu.Lock()
	r.funcs[name] = entry{fn: fn, params: params}
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	e, ok := r.funcs[name]
	r.mu.RUnlock()
	return e.fn, ok
}

// Params returns the positional parameter names declared for name.
func (r *Registry) Params(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[name].params
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTime adds time_now, returning Unix time in fractional seconds.
func RegisterTime(r *Registry) {
	r.Register("time_now", func(context.Context, map[string]any) (any, error) {
		return float64(time.Now().UnixNano()) / 1e9, nil
	})
}

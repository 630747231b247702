// Package registry maps names to lazily loaded implementations. Each name
// is loaded at most once on success; concurrent loads of the same name
// share one call.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned for names nobody registered.
var ErrNotFound = errors.New("not registered")

// Loader produces the implementation for a name.
type Loader[T any] func(ctx context.Context) (T, error)

// Static returns a loader that yields v.
func Static[T any](v T) Loader[T] {
	return func(context.Context) (T, error) { return v, nil }
}

type entry[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Registry is safe for concurrent use.
type Registry[T any] struct {
	mu      sync.Mutex
	loaders map[string]Loader[T]
	cache   map[string]*entry[T]
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		loaders: make(map[string]Loader[T]),
		cache:   make(map[string]*entry[T]),
	}
}

// Register adds or replaces the loader for name and drops any cached value.
func (r *Registry[T]) Register(name string, l Loader[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = l
	delete(r.cache, name)
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaders[name]
	return ok
}

// Names lists registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loaders))
	for n := range r.loaders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Loaded reports whether name has a cached implementation.
func (r *Registry[T]) Loaded(name string) bool {
	r.mu.Lock()
	e, ok := r.cache[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-e.done:
		return e.err == nil
	default:
		return false
	}
}

// Load returns the implementation for name, loading it on first use.
// A failed load is not cached; the next Load tries again.
func (r *Registry[T]) Load(ctx context.Context, name string) (T, error) {
	var zero T

	r.mu.Lock()
	l, ok := r.loaders[name]
	if !ok {
		r.mu.Unlock()
		return zero, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	e, cached := r.cache[name]
	if !cached {
		e = &entry[T]{done: make(chan struct{})}
		r.cache[name] = e
	}
	r.mu.Unlock()

	if !cached {
		e.val, e.err = l(ctx)
		if e.err != nil {
			e.err = fmt.Errorf("loading %q: %w", name, e.err)
			r.mu.Lock()
			if r.cache[name] == e {
				delete(r.cache, name)
			}
			r.mu.Unlock()
		}
		close(e.done)
	}

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

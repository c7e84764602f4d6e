package locator

import (
	"context"
	"sync"
)

// Registry is a process-external directory of resolved handles. Get returns
// ErrNotFound when nothing is registered under name.
type Registry[T any] interface {
	Get(ctx context.Context, name string) (T, error)
	Register(ctx context.Context, name string, svc T) error
}

// MemoryRegistry implements Registry with an in-memory map. Useful for
// single-process deployments and testing.
type MemoryRegistry[T any] struct {
	mu       sync.RWMutex
	services map[string]T
}

func NewMemoryRegistry[T any]() *MemoryRegistry[T] {
	return &MemoryRegistry[T]{services: make(map[string]T)}
}

func (r *MemoryRegistry[T]) Get(_ context.Context, name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return svc, nil
}

// Register stores svc under name, replacing any previous entry.
func (r *MemoryRegistry[T]) Register(_ context.Context, name string, svc T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
	return nil
}

// Len returns the number of registered services.
func (r *MemoryRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

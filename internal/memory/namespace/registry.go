// Package namespace implements the namespace manager (C5): fork, merge,
// cross-namespace retrieval, and the process-wide namespace registry (spec
// §9 "global mutable state").
package namespace

import (
	"context"
	"sync"
)

// Registry is the shared table of namespaces with fragment counts. It is
// process-wide and mutated only by Manager, and only by Fork, which records
// each fork target with the number of fragments copied into it; namespaces
// populated through Store or Merge are not registered.
type Registry interface {
	Touch(ctx context.Context, namespace string, delta int64) error
	Count(ctx context.Context, namespace string) (int64, error)
	ActiveNamespaceCount(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]string, error)
}

// MemoryRegistry is the default, in-process Registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{counts: make(map[string]int64)}
}

func (r *MemoryRegistry) Touch(_ context.Context, namespace string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[namespace] += delta
	if r.counts[namespace] <= 0 {
		delete(r.counts, namespace)
	}
	return nil
}

func (r *MemoryRegistry) Count(_ context.Context, namespace string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[namespace], nil
}

func (r *MemoryRegistry) ActiveNamespaceCount(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.counts)), nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.counts))
	for ns := range r.counts {
		out = append(out, ns)
	}
	return out, nil
}

package storage

import (
	"context"
	"sort"
	"sync"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
	"hindsight/internal/memory/vectorindex"
)

// MemoryBackend is the in-process reference Backend (spec §4.2's oracle),
// grounded on the teacher's in-memory vector store: a mutex-guarded map plus
// a linear scan for similarity search.
type MemoryBackend struct {
	mu        sync.RWMutex
	fragments map[string]fragment.Fragment
	index     vectorindex.Index
}

// NewMemoryBackend constructs a MemoryBackend. idx may be nil, in which case
// BruteForce ranking is used.
func NewMemoryBackend(idx vectorindex.Index) *MemoryBackend {
	if idx == nil {
		idx = vectorindex.BruteForce{}
	}
	return &MemoryBackend{fragments: make(map[string]fragment.Fragment), index: idx}
}

func (b *MemoryBackend) Initialize(context.Context) error { return nil }
func (b *MemoryBackend) Close(context.Context) error       { return nil }
func (b *MemoryBackend) IsAvailable(context.Context) bool  { return true }

func (b *MemoryBackend) Write(_ context.Context, f fragment.Fragment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments[f.ID] = f.Clone()
	return nil
}

// IncrementAccess bumps access_count/last_accessed_at under the same lock
// used by every other mutation, so two concurrent callers incrementing the
// same fragment never race on a stale read.
func (b *MemoryBackend) IncrementAccess(_ context.Context, id string, nowMS int64) (fragment.Fragment, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fragments[id]
	if !ok {
		return fragment.Fragment{}, false, nil
	}
	f.AccessCount++
	f.LastAccessedAt = nowMS
	b.fragments[id] = f
	return f.Clone(), true, nil
}

func (b *MemoryBackend) Read(_ context.Context, id string) (fragment.Fragment, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.fragments[id]
	if !ok {
		return fragment.Fragment{}, false, nil
	}
	return f.Clone(), true, nil
}

func (b *MemoryBackend) BulkWrite(_ context.Context, fragments []fragment.Fragment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range fragments {
		b.fragments[f.ID] = f.Clone()
	}
	return nil
}

func (b *MemoryBackend) BulkRead(_ context.Context, ids []string) ([]fragment.Fragment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]fragment.Fragment, 0, len(ids))
	for _, id := range ids {
		if f, ok := b.fragments[id]; ok {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fragments[id]; !ok {
		return false, nil
	}
	delete(b.fragments, id)
	return true, nil
}

func (b *MemoryBackend) Query(_ context.Context, filter Filter) ([]fragment.Fragment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryLocked(filter), nil
}

// queryLocked requires the caller to hold at least a read lock.
func (b *MemoryBackend) queryLocked(filter Filter) []fragment.Fragment {
	now := wallNowMS()
	out := make([]fragment.Fragment, 0)
	for _, f := range b.fragments {
		if filter.Matches(f, now) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *MemoryBackend) Count(ctx context.Context, filter Filter) (int64, error) {
	fs, err := b.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(fs)), nil
}

func (b *MemoryBackend) SearchByVector(ctx context.Context, embedding []float32, topK int, filter Filter, floor float64, w vectorindex.Weights, nowMS int64) ([]vectorindex.Scored, error) {
	b.mu.RLock()
	candidates := b.queryLocked(filter)
	b.mu.RUnlock()
	return b.index.Rank(ctx, candidates, embedding, nowMS, topK, floor, w)
}

func (b *MemoryBackend) ExportAll(_ context.Context, namespace string) ([]fragment.Fragment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]fragment.Fragment, 0, len(b.fragments))
	for _, f := range b.fragments {
		if namespace != "" && f.Namespace != namespace {
			continue
		}
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBackend) ImportAll(_ context.Context, fragments []fragment.Fragment) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range fragments {
		if f.ID == "" {
			return n, herrors.New(herrors.KindInvalidInput, "import fragment missing id")
		}
		b.fragments[f.ID] = f.Clone()
		n++
	}
	return n, nil
}

func (b *MemoryBackend) GetStats(_ context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := Stats{}
	namespaces := make(map[string]struct{})
	for _, f := range b.fragments {
		stats.FragmentCount++
		namespaces[f.Namespace] = struct{}{}
		if f.IsArchived {
			stats.ArchivedCount++
		}
		if f.IsPinned {
			stats.PinnedCount++
		}
	}
	stats.NamespaceCount = int64(len(namespaces))
	return stats, nil
}

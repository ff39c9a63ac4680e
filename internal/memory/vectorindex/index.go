package vectorindex

import (
	"context"

	"hindsight/internal/memory/fragment"
)

// Index is the pluggable similarity-ranking component (C3). A Backend
// delegates search_by_vector to an Index rather than scoring candidates
// itself, so the ranking strategy (brute force vs. ANN-accelerated) is
// swappable independently of storage.
type Index interface {
	// Rank returns the top topK candidates by composite score, applying the
	// similarity floor and tie-break rules.
	Rank(ctx context.Context, candidates []fragment.Fragment, query []float32, nowMS int64, topK int, floor float64, w Weights) ([]Scored, error)
}

// BruteForce is the oracle implementation: it scores every candidate.
type BruteForce struct{}

func (BruteForce) Rank(_ context.Context, candidates []fragment.Fragment, query []float32, nowMS int64, topK int, floor float64, w Weights) ([]Scored, error) {
	return Rank(candidates, query, nowMS, topK, floor, w)
}

// ANNIndex is the narrow interface an external approximate nearest-neighbor
// service must satisfy to accelerate ranking. It is intentionally minimal:
// upsert/delete keep it in sync with the backend, Query returns candidate
// ids in approximate closeness order.
type ANNIndex interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Delete(ctx context.Context, id string) error
	// Query returns up to k fragment ids ordered by approximate closeness to
	// vector. It is used only to narrow the candidate set; exact composite
	// scoring still happens against the authoritative fragment data.
	Query(ctx context.Context, vector []float32, k int) ([]string, error)
	Dimension() int
}

// ANNAccelerated pre-narrows large candidate sets through an ANNIndex before
// falling through to exact BruteForce ranking on the narrowed set. If the
// ANN call errors, is unconfigured, or the narrowed set is empty while
// candidates are not, it transparently falls back to scanning every
// candidate — correctness never depends on the accelerator being reachable.
type ANNAccelerated struct {
	ANN ANNIndex
	// NarrowFactor multiplies topK to decide how many candidate ids to ask
	// the ANN index for, giving the exact rerank enough room to apply the
	// similarity floor and tie-breaks. Defaults to 5 if <= 0.
	NarrowFactor int
}

func (a ANNAccelerated) Rank(ctx context.Context, candidates []fragment.Fragment, query []float32, nowMS int64, topK int, floor float64, w Weights) ([]Scored, error) {
	if a.ANN == nil || len(candidates) == 0 {
		return Rank(candidates, query, nowMS, topK, floor, w)
	}
	factor := a.NarrowFactor
	if factor <= 0 {
		factor = 5
	}
	wantK := topK * factor
	if wantK <= 0 || wantK > len(candidates) {
		wantK = len(candidates)
	}
	ids, err := a.ANN.Query(ctx, query, wantK)
	if err != nil || len(ids) == 0 {
		return Rank(candidates, query, nowMS, topK, floor, w)
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	narrowed := make([]fragment.Fragment, 0, len(ids))
	for _, c := range candidates {
		if _, ok := wanted[c.ID]; ok {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) == 0 {
		return Rank(candidates, query, nowMS, topK, floor, w)
	}
	return Rank(narrowed, query, nowMS, topK, floor, w)
}

// Package vectorindex computes similarity and the composite ranking score,
// and exposes a pluggable Index abstraction: a brute-force oracle and an
// ANN-accelerated implementation that narrows candidates via an external
// approximate index before exact rerank.
package vectorindex

import (
	"math"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
)

// Weights are the composite score weights (spec §4.3); callers must ensure
// they sum to 1, but Composite does not enforce that itself.
type Weights struct {
	Similarity float64
	Recency    float64
	Frequency  float64
}

// DefaultWeights matches the spec's defaults: W_s=0.5, W_r=0.3, W_f=0.2.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.5, Recency: 0.3, Frequency: 0.2}
}

const (
	// DefaultSimilarityFloor is τ, the minimum cosine similarity to surface.
	DefaultSimilarityFloor = 0.7
	msPerDay               = 86_400_000
)

// Cosine computes cosine similarity between two equal-length vectors,
// returning 0 when either norm is 0, per spec §4.3.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, herrors.New(herrors.KindInvalidInput, "vector dimension mismatch")
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Recency computes exp(-0.1 * age_days) where age is measured from
// lastAccessedAt to now, both epoch-ms.
func Recency(lastAccessedAtMS, nowMS int64) float64 {
	ageDays := float64(nowMS-lastAccessedAtMS) / msPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-0.1 * ageDays)
}

// Frequency computes ln(1+accessCount) / ln(1+100), saturating at 100 accesses.
func Frequency(accessCount int64) float64 {
	return math.Log(1+float64(accessCount)) / math.Log(101)
}

// Composite combines the three component scores per spec §4.3, clamped to
// [0,1].
func Composite(sim, recency, freq float64, w Weights) float64 {
	c := w.Similarity*sim + w.Recency*recency + w.Frequency*freq
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Scored pairs a fragment with its composite score and component scores.
type Scored struct {
	Fragment   fragment.Fragment
	Similarity float64
	Recency    float64
	Frequency  float64
	Composite  float64
}

// Rank scores every candidate against query, drops anything below floor,
// and returns the top topK ordered by composite descending, ties broken by
// similarity descending, then last_accessed_at descending, then id
// lexicographically (spec §4.3).
func Rank(candidates []fragment.Fragment, query []float32, nowMS int64, topK int, floor float64, w Weights) ([]Scored, error) {
	out := make([]Scored, 0, len(candidates))
	for _, f := range candidates {
		sim, err := Cosine(query, f.Embedding)
		if err != nil {
			return nil, err
		}
		if sim < floor {
			continue
		}
		rec := Recency(f.LastAccessedAt, nowMS)
		freq := Frequency(f.AccessCount)
		out = append(out, Scored{
			Fragment:   f,
			Similarity: sim,
			Recency:    rec,
			Frequency:  freq,
			Composite:  Composite(sim, rec, freq, w),
		})
	}
	sortScored(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func sortScored(s []Scored) {
	// simple insertion sort is fine: candidate sets per namespace are small
	// relative to per-call overhead, and this keeps the comparator explicit
	// and easy to audit against the tie-break rules.
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && less(s[j], s[j-1]) {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}

// less reports whether a should sort before b under the spec's ordering:
// composite desc, then similarity desc, then last_accessed_at desc, then id asc.
func less(a, b Scored) bool {
	if a.Composite != b.Composite {
		return a.Composite > b.Composite
	}
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.Fragment.LastAccessedAt != b.Fragment.LastAccessedAt {
		return a.Fragment.LastAccessedAt > b.Fragment.LastAccessedAt
	}
	return a.Fragment.ID < b.Fragment.ID
}

// Package embedder defines the Embedder interface the engine uses to embed
// inputs lacking a caller-supplied vector, plus a deterministic fallback and
// two real HTTP-backed implementations.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder converts text to embedding vectors (spec §6 injected dependency).
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

// Deterministic is the pseudo-random fallback used when no embedder is
// configured. Per spec §5, it must derive its seed per call from the input
// content itself, so the same text always embeds to the same vector across
// runs without depending on construction order — unlike the teacher's
// fixed-construction-seed embedder, which this adapts from.
type Deterministic struct {
	dim       int
	normalize bool
}

// NewDeterministic constructs a content-seeded deterministic embedder.
func NewDeterministic(dim int, normalize bool) *Deterministic {
	if dim <= 0 {
		dim = 384
	}
	return &Deterministic{dim: dim, normalize: normalize}
}

func (d *Deterministic) Name() string             { return "deterministic" }
func (d *Deterministic) Dimension() int           { return d.dim }
func (d *Deterministic) Ping(context.Context) error { return nil }

func (d *Deterministic) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

// embedOne hashes 3-grams of the content into a fixed-size vector, seeding
// each hash with a digest of the full content so the seed is derived from
// the text being embedded rather than fixed at construction time.
func (d *Deterministic) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v
	}
	seedHash := fnv.New64a()
	_, _ = seedHash.Write([]byte(s))
	seed := seedHash.Sum64()

	b := []byte(s)
	if len(b) < 3 {
		addGram(seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(seed >> (8 * i))
	}
	_, _ = h.Write(tmp[:])
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}

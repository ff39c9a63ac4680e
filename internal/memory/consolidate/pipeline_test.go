package consolidate

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/storage"
)

func newFragment(id string, relevance float64, accessCount int64, lastAccessedAt, createdAt int64, embedding []float32) fragment.Fragment {
	return fragment.Fragment{
		ID: id, Content: "c", Type: fragment.Semantic, Namespace: "p:a", ProjectID: "p", AgentID: "a",
		Embedding: embedding, Relevance: relevance, Confidence: 0.5, AccessCount: accessCount,
		LastAccessedAt: lastAccessedAt, CreatedAt: createdAt, UpdatedAt: createdAt, Tags: []string{},
	}
}

// TestDedupPreservesWinner is spec §8 property 6 / scenario E2.
func TestDedupPreservesWinner(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(nil)
	backend.Initialize(ctx)

	emb := []float32{0.95, 0, 0, 0}
	a := newFragment("a", 0.5, 3, 1000, 1000, emb)
	b := newFragment("b", 0.7, 2, 2000, 2000, emb)
	require.NoError(t, backend.BulkWrite(ctx, []fragment.Fragment{a, b}))

	// The clock equals the survivor's last access, so the decay phase of the
	// same run leaves its relevance untouched.
	p := &Pipeline{Backend: backend, Clock: &fragment.FixedClock{MS: 2000}, Config: DefaultConfig()}
	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)

	remaining, err := backend.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].ID)
	assert.Equal(t, 0.7, remaining[0].Relevance)
	assert.Equal(t, int64(5), remaining[0].AccessCount)
}

// TestForgettingCurveFormula is spec §8 property 7.
func TestForgettingCurveFormula(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(nil)
	backend.Initialize(ctx)

	sevenDaysMS := int64(7 * msPerDay)
	f := newFragment("f", 1.0, 0, 0, 0, []float32{1})
	require.NoError(t, backend.Write(ctx, f))

	cfg := DefaultConfig()
	cfg.DecayRate = 0.1
	// isolate decay: keep dedup/archive/delete thresholds from firing
	cfg.ArchiveThreshold = -1
	p := &Pipeline{Backend: backend, Clock: &fragment.FixedClock{MS: sevenDaysMS}, Config: cfg}
	_, err := p.Run(ctx)
	require.NoError(t, err)

	got, _, err := backend.Read(ctx, "f")
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-0.7), got.Relevance, 1e-3)
}

// TestPinnedExemption is spec §8 property 8 / scenario E5.
func TestPinnedExemption(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(nil)
	backend.Initialize(ctx)

	f := newFragment("pinned", 0.05, 0, 0, 0, []float32{1})
	f.IsPinned = true
	require.NoError(t, backend.Write(ctx, f))

	p := &Pipeline{Backend: backend, Clock: &fragment.FixedClock{MS: int64(100 * msPerDay)}, Config: DefaultConfig()}
	for i := 0; i < 10; i++ {
		_, err := p.Run(ctx)
		require.NoError(t, err)
	}

	got, ok, err := backend.Read(ctx, "pinned")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.05, got.Relevance)
	assert.False(t, got.IsArchived)
}

// TestArchivalScenario is spec scenario E4.
func TestArchivalScenario(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(nil)
	backend.Initialize(ctx)

	thirtyDaysAgo := int64(0)
	f := newFragment("old", 1.0, 0, thirtyDaysAgo, thirtyDaysAgo, []float32{1})
	require.NoError(t, backend.Write(ctx, f))

	cfg := DefaultConfig()
	cfg.DecayRate = 0.1
	cfg.ArchiveThreshold = 0.1
	cfg.MinArchiveAgeDays = 7
	now := int64(30 * msPerDay)
	p := &Pipeline{Backend: backend, Clock: &fragment.FixedClock{MS: now}, Config: cfg}
	_, err := p.Run(ctx)
	require.NoError(t, err)

	got, _, err := backend.Read(ctx, "old")
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

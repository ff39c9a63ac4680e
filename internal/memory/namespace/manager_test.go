package namespace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/storage"
)

func newManager() (*Manager, storage.Backend) {
	backend := storage.NewMemoryBackend(nil)
	backend.Initialize(context.Background())
	return &Manager{
		Backend:  backend,
		Clock:    &fragment.FixedClock{MS: 1000},
		Registry: NewMemoryRegistry(),
	}, backend
}

func TestForkIsolatesAndAssignsFreshIDs(t *testing.T) {
	ctx := context.Background()
	m, backend := newManager()
	f := fragment.Fragment{
		ID: "src-1", Content: "note", Namespace: "p1:main", ProjectID: "p1", AgentID: "main",
		Embedding: []float32{1, 0}, Tags: []string{},
	}
	require.NoError(t, backend.Write(ctx, f))

	n, err := m.Fork(ctx, "p1:main", "p1:branch", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ns := "p1:branch"
	got, err := backend.Query(ctx, storage.Filter{Namespace: &ns})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, "src-1", got[0].ID)
	assert.Equal(t, "note", got[0].Content)

	ns2 := "p1:main"
	mainFrags, err := backend.Query(ctx, storage.Filter{Namespace: &ns2})
	require.NoError(t, err)
	assert.Len(t, mainFrags, 1, "fork must not remove source fragments")
}

func TestForkRejectsNonEmptyTargetWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	m, backend := newManager()
	backend.Write(ctx, fragment.Fragment{ID: "a", Namespace: "p:x", ProjectID: "p", AgentID: "x", Embedding: []float32{1}, Tags: []string{}})
	backend.Write(ctx, fragment.Fragment{ID: "b", Namespace: "p:y", ProjectID: "p", AgentID: "y", Embedding: []float32{1}, Tags: []string{}})

	_, err := m.Fork(ctx, "p:x", "p:y", false)
	require.Error(t, err)
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, backend := newManager()
	src := fragment.Fragment{ID: "s1", Content: "shared", Namespace: "p:s", ProjectID: "p", AgentID: "s", Embedding: []float32{1, 0}, Tags: []string{}, AccessCount: 2}
	require.NoError(t, backend.Write(ctx, src))

	report1, err := m.Merge(ctx, "p:s", "p:t")
	require.NoError(t, err)
	assert.Equal(t, 1, report1.MergedCount)

	report2, err := m.Merge(ctx, "p:s", "p:t")
	require.NoError(t, err)
	assert.Equal(t, 0, report2.MergedCount, "re-running merge must not create new fragments in target")

	ns := "p:t"
	targetFrags, err := backend.Query(ctx, storage.Filter{Namespace: &ns})
	require.NoError(t, err)
	require.Len(t, targetFrags, 1)
	assert.Equal(t, int64(2), targetFrags[0].AccessCount, "re-running merge must not double-count access_count absorbed by the no-collision copy")
}

func TestMergeFoldsCollidingContent(t *testing.T) {
	ctx := context.Background()
	m, backend := newManager()
	m.DedupThreshold = 0.9
	emb := []float32{1, 0}
	require.NoError(t, backend.Write(ctx, fragment.Fragment{ID: "s1", Content: "same", Namespace: "p:s", ProjectID: "p", AgentID: "s", Embedding: emb, Tags: []string{"x"}, AccessCount: 2}))
	require.NoError(t, backend.Write(ctx, fragment.Fragment{ID: "t1", Content: "same", Namespace: "p:t", ProjectID: "p", AgentID: "t", Embedding: emb, Tags: []string{"y"}, AccessCount: 3}))

	report, err := m.Merge(ctx, "p:s", "p:t")
	require.NoError(t, err)
	assert.Equal(t, 0, report.MergedCount)
	assert.Equal(t, 1, report.SkippedCount)

	got, _, err := backend.Read(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.AccessCount)
	assert.ElementsMatch(t, []string{"x", "y"}, got.Tags)
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/namespace"
	"hindsight/internal/memory/storage"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	backend := storage.NewMemoryBackend(nil)
	require.NoError(t, backend.Initialize(context.Background()))
	clock := &fragment.FixedClock{MS: 1000}
	mgr := &namespace.Manager{Backend: backend, Clock: clock, Registry: namespace.NewMemoryRegistry()}
	return New(backend, nil, mgr, clock, zerolog.Nop(), Config{Dimension: 32})
}

func TestStoreThenRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	f, err := e.Store(ctx, fragment.Input{Content: "remember the deploy failed on host A", ProjectID: "p", AgentID: "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.Len(t, f.Embedding, 32)

	result, err := e.Retrieve(ctx, "remember the deploy failed on host A", RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, result.Fragments, 1)
	assert.Equal(t, f.ID, result.Fragments[0].ID)
}

func TestSearchReturnsScoredWithoutMutatingAccessCount(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	f, err := e.Store(ctx, fragment.Input{Content: "the build pipeline uses kafka", ProjectID: "p", AgentID: "a"})
	require.NoError(t, err)

	scored, err := e.Search(ctx, "the build pipeline uses kafka", storage.Filter{}, 5, 0)
	require.NoError(t, err)
	require.Len(t, scored, 1)

	got, _, err := e.Backend.Read(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AccessCount)
}

func TestHealthCheckReportsBackendAndEmbedder(t *testing.T) {
	e := newEngine(t)
	status := e.HealthCheck(context.Background())
	assert.True(t, status.BackendAvailable)
	assert.Equal(t, "deterministic", status.EmbedderName)
	assert.True(t, status.EmbedderReady)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	_, err := e.Store(ctx, fragment.Input{Content: "fact one", ProjectID: "p", AgentID: "a"})
	require.NoError(t, err)

	env, err := e.ExportMemories(ctx, "p:a")
	require.NoError(t, err)
	assert.Len(t, env.Fragments, 1)

	backend2 := storage.NewMemoryBackend(nil)
	require.NoError(t, backend2.Initialize(ctx))
	e2 := New(backend2, nil, &namespace.Manager{Backend: backend2, Clock: e.Clock, Registry: namespace.NewMemoryRegistry()}, e.Clock, zerolog.Nop(), Config{Dimension: 32})
	n, err := e2.ImportMemories(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConsolidationSchedulerStartStop(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartConsolidationScheduler(ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	e.StopConsolidationScheduler()
}

func TestAcquireSharesAndReleasesByRefCount(t *testing.T) {
	factory := func() *Engine { return newEngine(t) }
	e1, release1 := Acquire("key-a", factory)
	e2, release2 := Acquire("key-a", factory)
	assert.Same(t, e1, e2)
	assert.Equal(t, 1, ActiveInstanceCount())

	release1()
	assert.Equal(t, 1, ActiveInstanceCount())
	release2()
	assert.Equal(t, 0, ActiveInstanceCount())
}

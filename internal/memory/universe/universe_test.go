package universe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/namespace"
	"hindsight/internal/memory/storage"
)

func newController(t *testing.T) (*Controller, storage.Backend) {
	t.Helper()
	backend := storage.NewMemoryBackend(nil)
	require.NoError(t, backend.Initialize(context.Background()))
	mgr := &namespace.Manager{
		Backend:  backend,
		Clock:    &fragment.FixedClock{MS: 1},
		Registry: namespace.NewMemoryRegistry(),
	}
	return NewController(mgr, &fragment.FixedClock{MS: 1}), backend
}

func TestCreateUniverseForksAndCaptures(t *testing.T) {
	ctx := context.Background()
	ctrl, backend := newController(t)

	require.NoError(t, backend.Write(ctx, fragment.Fragment{
		ID: "f1", Content: "seed", Namespace: "proj:main", ProjectID: "proj", AgentID: "main",
		Embedding: []float32{1, 0}, Relevance: 0.5, Tags: []string{},
	}))

	h, err := ctrl.CreateUniverse(ctx, "u1", "proj", "experiment-1")
	require.NoError(t, err)
	assert.Equal(t, "proj:u1", h.Namespace)
	assert.Len(t, h.Fragments, 1)
	assert.NotEqual(t, "f1", h.Fragments[0].ID)
}

func TestGetAndListUniverse(t *testing.T) {
	ctx := context.Background()
	ctrl, backend := newController(t)
	require.NoError(t, backend.Write(ctx, fragment.Fragment{
		ID: "f1", Content: "seed", Namespace: "proj:main", ProjectID: "proj", AgentID: "main",
		Embedding: []float32{1, 0}, Tags: []string{},
	}))
	_, err := ctrl.CreateUniverse(ctx, "u1", "proj", "experiment-1")
	require.NoError(t, err)

	got, err := ctrl.GetUniverse("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UniverseID)
	assert.Len(t, ctrl.ListUniverses(), 1)

	_, err = ctrl.GetUniverse("missing")
	assert.Error(t, err)
}

func TestMergeUniverseBackRemovesHandle(t *testing.T) {
	ctx := context.Background()
	ctrl, backend := newController(t)
	require.NoError(t, backend.Write(ctx, fragment.Fragment{
		ID: "f1", Content: "seed", Namespace: "proj:main", ProjectID: "proj", AgentID: "main",
		Embedding: []float32{1, 0}, Tags: []string{},
	}))
	_, err := ctrl.CreateUniverse(ctx, "u1", "proj", "experiment-1")
	require.NoError(t, err)

	report, err := ctrl.MergeUniverseBack(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "proj:u1", report.Source)
	assert.Equal(t, "proj:main", report.Target)

	_, err = ctrl.GetUniverse("u1")
	assert.Error(t, err)
}

func TestSyncUniverseUnknownIsError(t *testing.T) {
	ctrl, _ := newController(t)
	_, err := ctrl.SyncUniverse(context.Background(), "nope")
	assert.Error(t, err)
}

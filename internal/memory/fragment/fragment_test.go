package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hindsight/internal/memory/herrors"
)

func TestMaterializeDefaults(t *testing.T) {
	clock := &FixedClock{MS: 1000}
	f, err := Materialize(Input{
		Content:   "hello world",
		Namespace: "proj:agent-a",
	}, make([]float32, 4), 4, clock)
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, Semantic, f.Type)
	assert.Equal(t, "proj:agent-a", f.Namespace)
	assert.Equal(t, "proj", f.ProjectID)
	assert.Equal(t, "agent-a", f.AgentID)
	assert.Equal(t, 0.5, f.Relevance)
	assert.Equal(t, 0.5, f.Confidence)
	assert.Equal(t, int64(0), f.AccessCount)
	assert.False(t, f.IsPinned)
	assert.False(t, f.IsArchived)
	assert.Equal(t, []string{}, f.Tags)
	assert.Equal(t, SourceSystem, f.Provenance.SourceType)
	assert.Equal(t, int64(1000), f.CreatedAt)
	assert.Equal(t, int64(1000), f.UpdatedAt)
	assert.Equal(t, int64(1000), f.LastAccessedAt)
}

func TestMaterializeRejectsBadDimension(t *testing.T) {
	_, err := Materialize(Input{Content: "x", Namespace: "p:a"}, make([]float32, 3), 4, &FixedClock{})
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.KindInvalidInput))
}

func TestMaterializeRejectsNamespaceDisagreement(t *testing.T) {
	_, err := Materialize(Input{
		Content:   "x",
		Namespace: "p:a",
		ProjectID: "other",
	}, make([]float32, 2), 2, &FixedClock{})
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.KindInvalidInput))
}

func TestMaterializeRejectsOutOfRangeRelevance(t *testing.T) {
	bad := 1.5
	_, err := Materialize(Input{Content: "x", Namespace: "p:a", Relevance: &bad}, make([]float32, 2), 2, &FixedClock{})
	require.Error(t, err)
}

func TestDedupTagsPreservesOrder(t *testing.T) {
	got := dedupTags([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestGenerateIDUnique(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	assert.NotEqual(t, a, b)
}

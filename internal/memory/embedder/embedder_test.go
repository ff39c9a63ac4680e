package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicIsStableAcrossInstances(t *testing.T) {
	e1 := NewDeterministic(32, true)
	e2 := NewDeterministic(32, true)
	v1, err := e1.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	v2, err := e2.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "same content must embed identically regardless of construction order")
}

func TestDeterministicDiffersByContent(t *testing.T) {
	e := NewDeterministic(32, false)
	v, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, v[0], v[1])
}

func TestDeterministicDimension(t *testing.T) {
	e := NewDeterministic(16, false)
	v, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, v[0], 16)
}

package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"hindsight/internal/memory/fragment"
)

// TestBuildLogFailureScenario is spec scenario E1.
func TestBuildLogFailureScenario(t *testing.T) {
	in := FromBuildLog(BuildLog{
		BuildID: "bld-1", Success: false,
		Errors: []string{"TypeError: undefined is not a function"},
		Output: "bootstrap failed",
	})
	assert.Equal(t, fragment.Procedural, in.Type)
	assert.Equal(t, 0.9, *in.Relevance)
	assert.Contains(t, in.Tags, "build")
	assert.Contains(t, in.Tags, "failure")
	assert.True(t, strings.HasPrefix(in.Content, "Build bld-1: FAILURE"))
	assert.Equal(t, fragment.SourceBuild, in.Provenance.SourceType)
}

func TestBuildLogSuccessPath(t *testing.T) {
	in := FromBuildLog(BuildLog{BuildID: "bld-2", Success: true, Output: "ok"})
	assert.Equal(t, fragment.Episodic, in.Type)
	assert.Equal(t, 0.6, *in.Relevance)
	assert.Contains(t, in.Tags, "success")
}

func TestRetrospectiveProducesOneFragmentPerInsight(t *testing.T) {
	ins := FromRetrospective([]string{"a", "b", "c"}, "agent", "proj")
	assert.Len(t, ins, 3)
	for _, f := range ins {
		assert.Equal(t, fragment.Semantic, f.Type)
		assert.Equal(t, 0.8, *f.Relevance)
		assert.Contains(t, f.Tags, "retrospective")
	}
}

func TestNamespaceTagsRewriteAndDedup(t *testing.T) {
	got := NamespaceTags([]string{"agent:bob", "project:x", "domain:y", "agent:bob", "plain"})
	assert.Equal(t, []string{"agent-bob", "project-x", "domain-y", "plain"}, got)
}

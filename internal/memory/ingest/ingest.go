// Package ingest implements the two ingestion converters (C8): build logs
// and retrospective insights into fragment inputs, plus tag namespacing.
package ingest

import (
	"fmt"
	"strings"

	"hindsight/internal/memory/fragment"
)

// BuildLog is the raw payload from spec §4.8.
type BuildLog struct {
	BuildID    string
	AgentID    string
	ProjectID  string
	Success    bool
	Output     string
	Errors     []string
	DurationMS int64
	Timestamp  int64
}

// FromBuildLog renders a build log into a fragment.Input per spec §4.8,
// scenario E1.
func FromBuildLog(b BuildLog) fragment.Input {
	status := "FAILURE"
	relevance := 0.9
	confidence := 0.95
	typ := fragment.Procedural
	if b.Success {
		status = "SUCCESS"
		relevance = 0.6
		confidence = 0.8
		typ = fragment.Episodic
	}
	output := b.Output
	if len(output) > 500 {
		output = output[:500]
	}
	content := fmt.Sprintf("Build %s: %s\nOutput: %s\nErrors: %s", b.BuildID, status, output, strings.Join(b.Errors, ", "))

	tags := NamespaceTags([]string{"build", statusTag(b.Success)})
	rel := relevance
	conf := confidence

	return fragment.Input{
		Content:   content,
		Type:      typ,
		ProjectID: b.ProjectID,
		AgentID:   b.AgentID,
		Relevance: &rel,
		Confidence: &conf,
		Tags:      tags,
		Provenance: &fragment.Provenance{
			SourceType:    fragment.SourceBuild,
			SourceID:      b.BuildID,
			Timestamp:     b.Timestamp,
			OriginAgentID: b.AgentID,
			OriginProject: b.ProjectID,
		},
		Extra: map[string]any{"duration_ms": b.DurationMS},
	}
}

func statusTag(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// FromRetrospective renders a list of insight strings into one fragment
// input per insight, per spec §4.8.
func FromRetrospective(insights []string, agentID, projectID string) []fragment.Input {
	out := make([]fragment.Input, 0, len(insights))
	rel := 0.8
	conf := 0.7
	for _, insight := range insights {
		out = append(out, fragment.Input{
			Content:    insight,
			Type:       fragment.Semantic,
			ProjectID:  projectID,
			AgentID:    agentID,
			Relevance:  &rel,
			Confidence: &conf,
			Tags:       NamespaceTags([]string{"retrospective", "insight"}),
			Provenance: &fragment.Provenance{
				SourceType:    fragment.SourceRetrospective,
				OriginAgentID: agentID,
				OriginProject: projectID,
			},
		})
	}
	return out
}

// NamespaceTags rewrites tags of the form "agent:X", "project:Y", "domain:Z"
// to "agent-X", "project-Y", "domain-Z" and collapses duplicates (spec
// §4.8 "Tag namespacing").
func NamespaceTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		rewritten := t
		for _, prefix := range []string{"agent:", "project:", "domain:"} {
			if strings.HasPrefix(t, prefix) {
				rewritten = strings.Replace(t, prefix, strings.TrimSuffix(prefix, ":")+"-", 1)
				break
			}
		}
		if _, ok := seen[rewritten]; ok {
			continue
		}
		seen[rewritten] = struct{}{}
		out = append(out, rewritten)
	}
	return out
}

package namespace

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
	"hindsight/internal/memory/storage"
	"hindsight/internal/memory/vectorindex"
)

// mergedSourcesKey is the reserved Extra key recording which source
// fragment ids a merge target has already absorbed, so re-running merge
// after a crash skips them instead of double-counting (spec §4.5, §8
// property 11, Open Question 2).
const mergedSourcesKey = "_merged_sources"

// ConflictRecord describes one fragment merge skipped due to a collision, or
// a fork/merge-level failure.
type ConflictRecord struct {
	SourceID string
	Reason   string
}

// MergeReport is the derived "merge report" entity from spec §3.
type MergeReport struct {
	Source       string
	Target       string
	MergedCount  int
	SkippedCount int
	Conflicts    []ConflictRecord
}

// Manager implements fork/merge/cross_agent_retrieve (C5).
type Manager struct {
	Backend       storage.Backend
	Clock         fragment.Clock
	Registry      Registry
	Index         vectorindex.Index
	MaxNamespaces int     // default 100
	DedupThreshold float64 // τ_dedup, default 0.95

	mu sync.Mutex // serializes fork/merge per manager instance
}

func (m *Manager) maxNamespaces() int {
	if m.MaxNamespaces <= 0 {
		return 100
	}
	return m.MaxNamespaces
}

func (m *Manager) dedupThreshold() float64 {
	if m.DedupThreshold <= 0 {
		return 0.95
	}
	return m.DedupThreshold
}

func splitNamespace(ns string) (project, agent string, err error) {
	parts := strings.SplitN(ns, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", herrors.New(herrors.KindInvalidInput, "namespace must be \"<project>:<agent>\"")
	}
	return parts[0], parts[1], nil
}

// Fork copies every fragment in source into target, rewriting namespace
// fields and assigning fresh ids.
func (m *Manager) Fork(ctx context.Context, source, target string, overwrite bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	project, agent, err := splitNamespace(target)
	if err != nil {
		return 0, err
	}

	targetNS := target
	existing, err := m.Backend.Count(ctx, storage.Filter{Namespace: &targetNS, IncludeExpired: true})
	if err != nil {
		return 0, err
	}
	if existing > 0 && !overwrite {
		return 0, herrors.ErrNamespaceExists.WithField("namespace", target)
	}

	if existing == 0 {
		activeCount, err := m.Registry.ActiveNamespaceCount(ctx)
		if err != nil {
			return 0, err
		}
		if int(activeCount)+1 > m.maxNamespaces() {
			return 0, herrors.ErrNamespaceLimitExceeded.WithField("namespace", target)
		}
	}

	sourceNS := source
	sourceFragments, err := m.Backend.Query(ctx, storage.Filter{Namespace: &sourceNS, IncludeExpired: true})
	if err != nil {
		return 0, err
	}

	now := m.Clock.NowMS()
	copies := make([]fragment.Fragment, 0, len(sourceFragments))
	for _, f := range sourceFragments {
		cp := f.Clone()
		cp.ID = fragment.GenerateID()
		cp.Namespace = targetNS
		cp.ProjectID = project
		cp.AgentID = agent
		cp.UpdatedAt = now
		copies = append(copies, cp)
	}
	if err := m.Backend.BulkWrite(ctx, copies); err != nil {
		return 0, err
	}
	if err := m.Registry.Touch(ctx, targetNS, int64(len(copies))); err != nil {
		return 0, err
	}
	return len(copies), nil
}

// Merge attempts to insert every source fragment into target, resolving
// colliding content (cosine >= τ_dedup against an existing target fragment)
// by keeping the target's fragment and folding in the source's signal.
// Merge is not transactional across fragments; idempotence is achieved by
// recording absorbed source ids on the target fragment so re-running after
// a crash never double-counts (spec §4.5, §8 property 11).
func (m *Manager) Merge(ctx context.Context, source, target string) (MergeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := MergeReport{Source: source, Target: target}

	sourceNS, targetNS := source, target
	sourceFragments, err := m.Backend.Query(ctx, storage.Filter{Namespace: &sourceNS, IncludeExpired: true})
	if err != nil {
		return report, err
	}
	targetFragments, err := m.Backend.Query(ctx, storage.Filter{Namespace: &targetNS, IncludeExpired: true})
	if err != nil {
		return report, err
	}

	project, agent, err := splitNamespace(target)
	if err != nil {
		return report, err
	}

	now := m.Clock.NowMS()
	for _, sf := range sourceFragments {
		collision, collisionIdx := findCollision(targetFragments, sf, m.dedupThreshold())
		if collision == nil {
			cp := sf.Clone()
			cp.ID = fragment.GenerateID()
			cp.Namespace = targetNS
			cp.ProjectID = project
			cp.AgentID = agent
			cp.UpdatedAt = now
			cp.Extra = setAbsorbedSources(cp.Extra, map[string]struct{}{sf.ID: {}})
			if err := m.Backend.Write(ctx, cp); err != nil {
				report.Conflicts = append(report.Conflicts, ConflictRecord{SourceID: sf.ID, Reason: err.Error()})
				report.SkippedCount++
				continue
			}
			targetFragments = append(targetFragments, cp)
			report.MergedCount++
			continue
		}

		absorbed := absorbedSources(*collision)
		if _, already := absorbed[sf.ID]; already {
			// Idempotence: this source fragment was already folded into the
			// target in a prior (possibly crashed) run.
			report.SkippedCount++
			report.Conflicts = append(report.Conflicts, ConflictRecord{SourceID: sf.ID, Reason: "already merged"})
			continue
		}

		merged := collision.Clone()
		merged.AccessCount += sf.AccessCount
		merged.Tags = unionTags(merged.Tags, sf.Tags)
		if sf.Confidence > merged.Confidence {
			merged.Confidence = sf.Confidence
		}
		if sf.LastAccessedAt > merged.LastAccessedAt {
			merged.LastAccessedAt = sf.LastAccessedAt
		}
		absorbed[sf.ID] = struct{}{}
		merged.Extra = setAbsorbedSources(merged.Extra, absorbed)
		merged.UpdatedAt = now
		if err := m.Backend.Write(ctx, merged); err != nil {
			report.Conflicts = append(report.Conflicts, ConflictRecord{SourceID: sf.ID, Reason: err.Error()})
			report.SkippedCount++
			continue
		}
		targetFragments[collisionIdx] = merged
		report.SkippedCount++
		report.Conflicts = append(report.Conflicts, ConflictRecord{SourceID: sf.ID, Reason: "merged into existing fragment " + collision.ID})
	}
	return report, nil
}

func findCollision(targetFragments []fragment.Fragment, src fragment.Fragment, threshold float64) (*fragment.Fragment, int) {
	for i, tf := range targetFragments {
		sim, err := vectorindex.Cosine(src.Embedding, tf.Embedding)
		if err != nil {
			continue
		}
		if sim >= threshold {
			return &targetFragments[i], i
		}
	}
	return nil, -1
}

func absorbedSources(f fragment.Fragment) map[string]struct{} {
	out := make(map[string]struct{})
	if f.Extra == nil {
		return out
	}
	raw, ok := f.Extra[mergedSourcesKey]
	if !ok {
		return out
	}
	switch v := raw.(type) {
	case []string:
		for _, id := range v {
			out[id] = struct{}{}
		}
	case []any:
		for _, id := range v {
			if s, ok := id.(string); ok {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func setAbsorbedSources(extra map[string]any, absorbed map[string]struct{}) map[string]any {
	out := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	ids := make([]string, 0, len(absorbed))
	for id := range absorbed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out[mergedSourcesKey] = ids
	return out
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// CrossAgentRetrieve fans out a similarity search across the listed agent
// namespaces concurrently, merges the result sets by fragment id, and sorts
// by composite score descending.
func (m *Manager) CrossAgentRetrieve(ctx context.Context, query []float32, project string, agentIDs []string, topK int, floor float64, w vectorindex.Weights, nowMS int64) ([]vectorindex.Scored, error) {
	results := make([][]vectorindex.Scored, len(agentIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, agentID := range agentIDs {
		i, agentID := i, agentID
		g.Go(func() error {
			ns := project + ":" + agentID
			scored, err := m.Backend.SearchByVector(gctx, query, topK, storage.Filter{Namespace: &ns}, floor, w, nowMS)
			if err != nil {
				return err
			}
			results[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]vectorindex.Scored)
	for _, rs := range results {
		for _, s := range rs {
			if existing, ok := seen[s.Fragment.ID]; !ok || s.Composite > existing.Composite {
				seen[s.Fragment.ID] = s
			}
		}
	}
	out := make([]vectorindex.Scored, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Composite > out[j].Composite })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

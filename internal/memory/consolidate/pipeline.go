// Package consolidate implements the four-phase consolidation pipeline
// (C4): deduplication, forgetting-curve decay, archival, and hard delete.
package consolidate

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/storage"
	"hindsight/internal/memory/vectorindex"
)

const msPerDay = 86_400_000

// Config holds the tunables from spec §6 relevant to consolidation.
type Config struct {
	DedupSimilarityThreshold float64 // τ_dedup, default 0.95
	DecayRate                float64 // D, default 0.01
	ArchiveThreshold         float64 // default 0.1
	MinArchiveAgeDays        float64 // default 7
	HardDeleteFloor          float64 // default 0.01
	MinDeleteAgeDays         float64 // default 30
	ChunkSize                int     // K, default 100
	Concurrency              int     // per-chunk worker count, default 8
}

// DefaultConfig matches spec §4.4/§6 defaults.
func DefaultConfig() Config {
	return Config{
		DedupSimilarityThreshold: 0.95,
		DecayRate:                0.01,
		ArchiveThreshold:         0.1,
		MinArchiveAgeDays:        7,
		HardDeleteFloor:          0.01,
		MinDeleteAgeDays:         30,
		ChunkSize:                100,
		Concurrency:              8,
	}
}

// ClusterRecord describes one dedup cluster for the report.
type ClusterRecord struct {
	SurvivorID string
	MergedIDs  []string
}

// Report summarizes one consolidation run (spec §3 "consolidation report").
type Report struct {
	Merged      int
	Compressed  int // number of clusters that had >= 2 members
	Archived    int
	Decayed     int
	Deleted     int
	DurationMS  int64
	Timestamp   int64
	Truncated   bool
	Clusters    []ClusterRecord
	PhaseErrors map[string][]string
}

// Sink optionally records consolidation reports to external history (e.g.
// ClickHouse). A nil Sink is a no-op.
type Sink interface {
	Record(ctx context.Context, namespace string, report Report) error
}

// Pipeline runs the four ordered phases against a Backend.
type Pipeline struct {
	Backend storage.Backend
	Clock   fragment.Clock
	Config  Config
	Sink    Sink
}

// Run executes phases 1->2->3->4 in strict order across every fragment
// in the backend (all namespaces), yielding at phase and chunk
// boundaries so pending reads observe consistent intermediate snapshots.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := p.Clock.NowMS()
	report := Report{Timestamp: start, PhaseErrors: map[string][]string{}}

	phases := []func(context.Context, *Report) error{
		p.dedupPhase,
		p.decayPhase,
		p.archivePhase,
		p.hardDeletePhase,
	}
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			report.Truncated = true
			break
		}
		if err := phase(ctx, &report); err != nil {
			return report, err
		}
	}
	report.DurationMS = p.Clock.NowMS() - start

	if p.Sink != nil {
		if err := p.Sink.Record(ctx, "", report); err != nil {
			report.PhaseErrors["sink"] = append(report.PhaseErrors["sink"], err.Error())
		}
	}
	return report, nil
}

// nonPinnedCandidates fetches every fragment not exempt from consolidation
// (spec §4.4: "pinned fragments are exempt from every phase").
func (p *Pipeline) nonPinnedCandidates(ctx context.Context) ([]fragment.Fragment, error) {
	notPinned := false
	return p.Backend.Query(ctx, storage.Filter{Pinned: &notPinned, IncludeExpired: true})
}

// eachChunk walks items in chunks of Config.ChunkSize, running fn over each
// chunk with bounded concurrency via errgroup, yielding between chunks by
// virtue of Wait() blocking until the chunk drains, and aborting early on
// context cancellation between chunks (spec §5 cooperative suspension).
func eachChunk[T any](ctx context.Context, items []T, chunkSize, concurrency int, fn func(context.Context, T) error) error {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	for start := 0; start < len(items); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, item := range chunk {
			item := item
			g.Go(func() error { return fn(gctx, item) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// --- Phase 1: Deduplication ---

func (p *Pipeline) dedupPhase(ctx context.Context, report *Report) error {
	candidates, err := p.nonPinnedCandidates(ctx)
	if err != nil {
		return err
	}
	clusters := clusterBySimilarity(candidates, p.Config.DedupSimilarityThreshold)
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Truncated = true
			return nil
		}
		survivor, merged := mergeDedupCluster(cluster)
		if err := p.Backend.Write(ctx, survivor); err != nil {
			report.PhaseErrors["dedup"] = append(report.PhaseErrors["dedup"], err.Error())
			continue
		}
		rec := ClusterRecord{SurvivorID: survivor.ID}
		for _, loser := range merged {
			if _, err := p.Backend.Delete(ctx, loser.ID); err != nil {
				report.PhaseErrors["dedup"] = append(report.PhaseErrors["dedup"], err.Error())
				continue
			}
			rec.MergedIDs = append(rec.MergedIDs, loser.ID)
			report.Merged++
		}
		report.Compressed++
		report.Clusters = append(report.Clusters, rec)
	}
	return nil
}

// clusterBySimilarity groups fragments where intra-cluster cosine similarity
// is >= threshold, using union-find over pairwise comparisons.
func clusterBySimilarity(fragments []fragment.Fragment, threshold float64) [][]fragment.Fragment {
	n := len(fragments)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim, err := vectorindex.Cosine(fragments[i].Embedding, fragments[j].Embedding)
			if err != nil {
				continue
			}
			if sim >= threshold {
				union(i, j)
			}
		}
	}
	groups := make(map[int][]fragment.Fragment)
	for i, f := range fragments {
		root := find(i)
		groups[root] = append(groups[root], f)
	}
	out := make([][]fragment.Fragment, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return out
}

// mergeDedupCluster picks the survivor per spec §4.4 and folds the rest into
// it: tags union, summed access_count, max last_accessed_at, max confidence.
func mergeDedupCluster(cluster []fragment.Fragment) (survivor fragment.Fragment, losers []fragment.Fragment) {
	sorted := append([]fragment.Fragment(nil), cluster...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.CreatedAt < b.CreatedAt
	})
	survivor = sorted[0].Clone()
	losers = sorted[1:]

	tagSet := make(map[string]struct{})
	for _, t := range survivor.Tags {
		tagSet[t] = struct{}{}
	}
	var totalAccess int64
	maxLastAccessed := survivor.LastAccessedAt
	maxConfidence := survivor.Confidence
	for _, l := range losers {
		for _, t := range l.Tags {
			tagSet[t] = struct{}{}
		}
		totalAccess += l.AccessCount
		if l.LastAccessedAt > maxLastAccessed {
			maxLastAccessed = l.LastAccessedAt
		}
		if l.Confidence > maxConfidence {
			maxConfidence = l.Confidence
		}
	}
	totalAccess += survivor.AccessCount
	survivor.AccessCount = totalAccess
	survivor.LastAccessedAt = maxLastAccessed
	survivor.Confidence = maxConfidence
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	survivor.Tags = tags
	return survivor, losers
}

// --- Phase 2: Forgetting-curve decay ---

func (p *Pipeline) decayPhase(ctx context.Context, report *Report) error {
	candidates, err := p.nonPinnedCandidates(ctx)
	if err != nil {
		return err
	}
	now := p.Clock.NowMS()
	return eachChunk(ctx, candidates, p.Config.ChunkSize, p.Config.Concurrency, func(ctx context.Context, f fragment.Fragment) error {
		ageDays := float64(now-f.LastAccessedAt) / msPerDay
		if ageDays < 0 {
			ageDays = 0
		}
		next := f.Relevance * math.Exp(-p.Config.DecayRate*ageDays)
		next = clamp01(next)
		if next == f.Relevance {
			return nil
		}
		f.Relevance = next
		if err := p.Backend.Write(ctx, f); err != nil {
			report.PhaseErrors["decay"] = append(report.PhaseErrors["decay"], err.Error())
			return nil
		}
		report.Decayed++
		return nil
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// --- Phase 3: Archival ---

func (p *Pipeline) archivePhase(ctx context.Context, report *Report) error {
	notPinned, notArchived := false, false
	candidates, err := p.Backend.Query(ctx, storage.Filter{Pinned: &notPinned, Archived: &notArchived, IncludeExpired: true})
	if err != nil {
		return err
	}
	now := p.Clock.NowMS()
	return eachChunk(ctx, candidates, p.Config.ChunkSize, p.Config.Concurrency, func(ctx context.Context, f fragment.Fragment) error {
		ageDays := float64(now-f.LastAccessedAt) / msPerDay
		if f.Relevance >= p.Config.ArchiveThreshold || ageDays <= p.Config.MinArchiveAgeDays {
			return nil
		}
		f.IsArchived = true
		if err := p.Backend.Write(ctx, f); err != nil {
			report.PhaseErrors["archive"] = append(report.PhaseErrors["archive"], err.Error())
			return nil
		}
		report.Archived++
		return nil
	})
}

// --- Phase 4: Hard delete ---

func (p *Pipeline) hardDeletePhase(ctx context.Context, report *Report) error {
	notPinned, archived := false, true
	candidates, err := p.Backend.Query(ctx, storage.Filter{Pinned: &notPinned, Archived: &archived, IncludeExpired: true})
	if err != nil {
		return err
	}
	now := p.Clock.NowMS()
	return eachChunk(ctx, candidates, p.Config.ChunkSize, p.Config.Concurrency, func(ctx context.Context, f fragment.Fragment) error {
		ageDays := float64(now-f.CreatedAt) / msPerDay
		if f.Relevance >= p.Config.HardDeleteFloor || ageDays <= p.Config.MinDeleteAgeDays {
			return nil
		}
		if _, err := p.Backend.Delete(ctx, f.ID); err != nil {
			report.PhaseErrors["delete"] = append(report.PhaseErrors["delete"], err.Error())
			return nil
		}
		report.Deleted++
		return nil
	})
}

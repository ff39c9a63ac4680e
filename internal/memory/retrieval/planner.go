// Package retrieval implements the retrieval planner (C6): token-budgeted
// context assembly atop the vector index.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/storage"
	"hindsight/internal/memory/vectorindex"
)

// Context is the derived "retrieval context" entity from spec §3.
type Context struct {
	Fragments     []fragment.Fragment
	FormattedText string
	TokenCount    int
	RelevanceByID map[string]float64
	Truncated     bool
}

// Planner wraps a Backend to produce ranked, budgeted retrieval contexts.
type Planner struct {
	Backend storage.Backend
	Clock   fragment.Clock
}

// Request bundles the inputs from spec §4.6, with defaults applied by the
// engine façade before calling Retrieve.
type Request struct {
	Embedding    []float32
	Filter       storage.Filter
	TokenBudget  int
	TopK         int
	Floor        float64
	Weights      vectorindex.Weights
}

// estimateTokens approximates token count as ceil(len(content)/4) per spec §4.6.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// Retrieve fetches scored candidates, greedily packs them under the token
// budget, bumps access_count/last_accessed_at on every surfaced fragment,
// and renders a formatted context. A zero-fragment result is valid, not an
// error. If ctx is cancelled mid-assembly, Retrieve returns whatever it has
// assembled so far with Truncated=true (spec §5 cancellation contract).
func (p *Planner) Retrieve(ctx context.Context, req Request) (Context, error) {
	now := p.Clock.NowMS()
	scored, err := p.Backend.SearchByVector(ctx, req.Embedding, req.TopK, req.Filter, req.Floor, req.Weights, now)
	if err != nil {
		return Context{}, err
	}

	result := Context{RelevanceByID: make(map[string]float64)}
	var tokens int
	var parts []string

	for _, s := range scored {
		if ctx.Err() != nil {
			result.Truncated = true
			break
		}
		cost := estimateTokens(s.Fragment.Content)
		if tokens+cost > req.TokenBudget {
			break
		}
		tokens += cost

		f, ok, err := p.Backend.IncrementAccess(ctx, s.Fragment.ID, now)
		if err != nil {
			return result, err
		}
		if !ok {
			// Fragment was deleted between SearchByVector and the bump; skip
			// it rather than surfacing a stale pre-increment copy.
			continue
		}

		result.Fragments = append(result.Fragments, f)
		result.RelevanceByID[f.ID] = s.Composite
		parts = append(parts, formatFragment(f))
	}
	result.TokenCount = tokens
	result.FormattedText = strings.Join(parts, "\n\n")
	return result, nil
}

// formatFragment renders a fragment with a short header showing type and
// tags, matching the plain, unadorned style the engine uses elsewhere (no
// markdown, no box-drawing).
func formatFragment(f fragment.Fragment) string {
	return fmt.Sprintf("[%s] (%s)\n%s", f.Type, strings.Join(f.Tags, ", "), f.Content)
}

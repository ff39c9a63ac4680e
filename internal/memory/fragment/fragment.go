// Package fragment defines the Hindsight engine's central entity: the memory
// fragment, its validation rules, and id generation. Fragments are created
// by materialize and afterwards mutated only by the components the engine
// grants write access to (retrieval access-count bumps, consolidation
// decay/archival, namespace fork/merge rewrites).
package fragment

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"hindsight/internal/memory/herrors"
)

// Type is the closed sum of fragment kinds. Go has no sum types, so this is
// an enum-valued field plus the validator in Validate.
type Type string

const (
	Episodic   Type = "episodic"
	Procedural Type = "procedural"
	Semantic   Type = "semantic"
)

func (t Type) valid() bool {
	switch t {
	case Episodic, Procedural, Semantic:
		return true
	}
	return false
}

// SourceType is the closed sum of provenance origins.
type SourceType string

const (
	SourceTask         SourceType = "task"
	SourceRetrospective SourceType = "retrospective"
	SourceBuild        SourceType = "build"
	SourcePattern      SourceType = "pattern"
	SourceUser         SourceType = "user"
	SourceSystem       SourceType = "system"
)

// Provenance records where a fragment came from.
type Provenance struct {
	SourceType     SourceType `json:"source_type"`
	SourceID       string     `json:"source_id,omitempty"`
	Timestamp      int64      `json:"timestamp"`
	OriginAgentID  string     `json:"origin_agent_id,omitempty"`
	OriginProject  string     `json:"origin_project,omitempty"`
}

// Fragment is the single central entity of the engine (spec §3).
type Fragment struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Type           Type           `json:"type"`
	Namespace      string         `json:"namespace"`
	AgentID        string         `json:"agent_id"`
	ProjectID      string         `json:"project_id"`
	Embedding      []float32      `json:"embedding"`
	Relevance      float64        `json:"relevance"`
	Confidence     float64        `json:"confidence"`
	AccessCount    int64          `json:"access_count"`
	LastAccessedAt int64          `json:"last_accessed_at"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	ExpiresAt      *int64         `json:"expires_at,omitempty"`
	IsPinned       bool           `json:"is_pinned"`
	IsArchived     bool           `json:"is_archived"`
	Tags           []string       `json:"tags"`
	Provenance     Provenance     `json:"provenance"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep-enough copy safe to mutate without aliasing slices or
// maps with the original.
func (f Fragment) Clone() Fragment {
	cp := f
	cp.Embedding = append([]float32(nil), f.Embedding...)
	cp.Tags = append([]string(nil), f.Tags...)
	if f.ExpiresAt != nil {
		v := *f.ExpiresAt
		cp.ExpiresAt = &v
	}
	if f.Extra != nil {
		cp.Extra = make(map[string]any, len(f.Extra))
		for k, v := range f.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// Input is the caller-supplied payload materialize turns into a Fragment.
type Input struct {
	Content    string
	Type       Type
	Namespace  string
	AgentID    string
	ProjectID  string
	Embedding  []float32
	Relevance  *float64
	Confidence *float64
	Tags       []string
	Provenance *Provenance
	Extra      map[string]any
	ExpiresAt  *int64
	IsPinned   bool
}

// Clock is the injectable monotonic epoch-ms source (spec §6).
type Clock interface {
	NowMS() int64
}

// GenerateID returns a fresh, globally unique fragment id. IDs are never
// reused (spec §3 invariant 4).
func GenerateID() string {
	return uuid.NewString()
}

// Validate checks the structural invariants materialize relies on before
// filling defaults. It does not check the embedding dimension against the
// store-wide D; that check happens in materialize, which knows D.
func Validate(in Input) error {
	if strings.TrimSpace(in.Content) == "" {
		return herrors.New(herrors.KindInvalidInput, "content must not be empty")
	}
	if in.Type != "" && !in.Type.valid() {
		return herrors.New(herrors.KindInvalidInput, "unrecognized fragment type: "+string(in.Type))
	}
	ns, proj, agent, err := resolveNamespace(in.Namespace, in.ProjectID, in.AgentID)
	if err != nil {
		return err
	}
	if in.Relevance != nil && (*in.Relevance < 0 || *in.Relevance > 1) {
		return herrors.New(herrors.KindInvalidInput, "relevance out of range [0,1]")
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return herrors.New(herrors.KindInvalidInput, "confidence out of range [0,1]")
	}
	_ = ns
	_ = proj
	_ = agent
	return nil
}

// resolveNamespace enforces invariant 1: namespace == project_id + ":" + agent_id.
// Either the combined namespace or the two parts may be supplied; both must agree
// when both are present.
func resolveNamespace(namespace, projectID, agentID string) (ns, proj, agent string, err error) {
	if namespace != "" {
		parts := strings.SplitN(namespace, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", "", herrors.New(herrors.KindInvalidInput, "namespace must be \"<project>:<agent>\"")
		}
		proj, agent = parts[0], parts[1]
		if projectID != "" && projectID != proj {
			return "", "", "", herrors.New(herrors.KindInvalidInput, "project_id disagrees with namespace")
		}
		if agentID != "" && agentID != agent {
			return "", "", "", herrors.New(herrors.KindInvalidInput, "agent_id disagrees with namespace")
		}
		return namespace, proj, agent, nil
	}
	if projectID == "" || agentID == "" {
		return "", "", "", herrors.New(herrors.KindInvalidInput, "namespace or project_id+agent_id is required")
	}
	return projectID + ":" + agentID, projectID, agentID, nil
}

// Materialize fills defaults and produces a persisted-shape Fragment. The
// caller must supply an embedding of exactly dimension d; inputs lacking one
// should be embedded upstream (the engine façade owns embedding procurement).
func Materialize(in Input, embedding []float32, d int, clock Clock) (Fragment, error) {
	if err := Validate(in); err != nil {
		return Fragment{}, err
	}
	if len(embedding) != d {
		return Fragment{}, herrors.New(herrors.KindInvalidInput, "embedding dimension mismatch").
			WithField("want", strconv.Itoa(d)).WithField("got", strconv.Itoa(len(embedding)))
	}
	ns, proj, agent, err := resolveNamespace(in.Namespace, in.ProjectID, in.AgentID)
	if err != nil {
		return Fragment{}, err
	}

	now := clock.NowMS()
	relevance := 0.5
	if in.Relevance != nil {
		relevance = *in.Relevance
	}
	confidence := 0.5
	if in.Confidence != nil {
		confidence = *in.Confidence
	}
	typ := in.Type
	if typ == "" {
		typ = Semantic
	}

	prov := Provenance{SourceType: SourceSystem, Timestamp: now}
	if in.Provenance != nil {
		prov = *in.Provenance
		if prov.Timestamp == 0 {
			prov.Timestamp = now
		}
	}

	tags := dedupTags(in.Tags)

	f := Fragment{
		ID:             GenerateID(),
		Content:        in.Content,
		Type:           typ,
		Namespace:      ns,
		AgentID:        agent,
		ProjectID:      proj,
		Embedding:      append([]float32(nil), embedding...),
		Relevance:      relevance,
		Confidence:     confidence,
		AccessCount:    0,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      in.ExpiresAt,
		IsPinned:       in.IsPinned,
		IsArchived:     false,
		Tags:           tags,
		Provenance:     prov,
		Extra:          in.Extra,
	}
	return f, nil
}

// dedupTags preserves insertion order while collapsing duplicates, keeping
// output deterministic (tags are an unordered set per spec, but a stable
// order makes exports and tests diffable).
func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

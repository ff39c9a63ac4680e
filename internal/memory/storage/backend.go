// Package storage defines the pluggable storage backend (C2) the engine
// consumes, plus the in-memory reference implementation every other backend
// is tested against, a durable single-file backend, and a Postgres+pgvector
// backend for the "network-like" storage_type.
package storage

import (
	"context"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/vectorindex"
)

// TagMode selects "any" (union) or "all" (intersection) tag-filter semantics.
type TagMode string

const (
	TagAny TagMode = "any"
	TagAll TagMode = "all"
)

// Filter is the conjunctive predicate set from spec §6. All non-nil/non-empty
// fields must match; a nil field means "don't filter on this".
type Filter struct {
	Namespace      *string
	AgentID        *string
	ProjectID      *string
	Type           *fragment.Type
	RelevanceMin   *float64
	RelevanceMax   *float64
	Archived       *bool
	Pinned         *bool
	CreatedAfter   *int64
	CreatedBefore  *int64
	Tags           []string
	TagMode        TagMode
	// IncludeExpired bypasses the default "expired fragments are invisible"
	// rule, for consolidation and export paths that need to see everything.
	IncludeExpired bool
}

// Matches reports whether f satisfies the filter. Shared by every backend so
// in-process filtering stays consistent regardless of how a given backend
// narrows candidates up front (e.g. SQL WHERE clauses that still get a final
// Go-side check for fields that aren't indexed columns).
func (fl Filter) Matches(f fragment.Fragment, nowMS int64) bool {
	if !fl.IncludeExpired && f.ExpiresAt != nil && *f.ExpiresAt <= nowMS {
		return false
	}
	if fl.Namespace != nil && f.Namespace != *fl.Namespace {
		return false
	}
	if fl.AgentID != nil && f.AgentID != *fl.AgentID {
		return false
	}
	if fl.ProjectID != nil && f.ProjectID != *fl.ProjectID {
		return false
	}
	if fl.Type != nil && f.Type != *fl.Type {
		return false
	}
	if fl.RelevanceMin != nil && f.Relevance < *fl.RelevanceMin {
		return false
	}
	if fl.RelevanceMax != nil && f.Relevance > *fl.RelevanceMax {
		return false
	}
	if fl.Archived != nil && f.IsArchived != *fl.Archived {
		return false
	}
	if fl.Pinned != nil && f.IsPinned != *fl.Pinned {
		return false
	}
	if fl.CreatedAfter != nil && f.CreatedAt < *fl.CreatedAfter {
		return false
	}
	if fl.CreatedBefore != nil && f.CreatedAt > *fl.CreatedBefore {
		return false
	}
	if len(fl.Tags) > 0 {
		have := make(map[string]struct{}, len(f.Tags))
		for _, t := range f.Tags {
			have[t] = struct{}{}
		}
		switch fl.TagMode {
		case TagAll:
			for _, want := range fl.Tags {
				if _, ok := have[want]; !ok {
					return false
				}
			}
		default: // TagAny
			matched := false
			for _, want := range fl.Tags {
				if _, ok := have[want]; ok {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}

// DefaultRetrievalFilter excludes archived fragments, matching "ordinary
// retrieval" per spec §3 invariant 3. Expired fragments are always excluded
// unless IncludeExpired is set explicitly.
func DefaultRetrievalFilter() Filter {
	notArchived := false
	return Filter{Archived: &notArchived}
}

// Stats summarizes backend state for health checks and observability.
type Stats struct {
	FragmentCount   int64
	NamespaceCount  int64
	ArchivedCount   int64
	PinnedCount     int64
}

// Backend is the capability set the engine consumes (spec §4.2). The
// in-memory backend is the oracle every other implementation's conformance
// test runs against.
type Backend interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
	IsAvailable(ctx context.Context) bool

	Write(ctx context.Context, f fragment.Fragment) error
	Read(ctx context.Context, id string) (fragment.Fragment, bool, error)
	BulkWrite(ctx context.Context, fragments []fragment.Fragment) error
	BulkRead(ctx context.Context, ids []string) ([]fragment.Fragment, error)
	Delete(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, filter Filter) ([]fragment.Fragment, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	SearchByVector(ctx context.Context, embedding []float32, topK int, filter Filter, floor float64, w vectorindex.Weights, nowMS int64) ([]vectorindex.Scored, error)

	// IncrementAccess bumps a fragment's access_count by one and sets
	// last_accessed_at to nowMS, atomically with respect to concurrent
	// IncrementAccess/Write calls on the same id, and returns the updated
	// fragment. Callers must use this instead of a read-modify-write cycle
	// through Write so concurrent retrievals of the same fragment don't lose
	// an update (spec §5 ordering guarantee 3).
	IncrementAccess(ctx context.Context, id string, nowMS int64) (fragment.Fragment, bool, error)

	ExportAll(ctx context.Context, namespace string) ([]fragment.Fragment, error)
	ImportAll(ctx context.Context, fragments []fragment.Fragment) (int, error)

	GetStats(ctx context.Context) (Stats, error)
}

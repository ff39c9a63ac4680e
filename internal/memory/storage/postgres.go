package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
	"hindsight/internal/memory/vectorindex"
)

// PostgresBackend is the durable, pgvector-indexed Backend for
// storage_type "postgres" (the spec's "network-like" category), grounded on
// the teacher's agentic-memory ingest path and its pgvector similarity
// search helper.
type PostgresBackend struct {
	pool       *pgxpool.Pool
	table      string
	dimension  int
	index      vectorindex.Index
}

// NewPostgresBackend wraps an already-configured pgxpool.Pool. table
// defaults to "hindsight_fragments".
func NewPostgresBackend(pool *pgxpool.Pool, table string, dimension int, idx vectorindex.Index) *PostgresBackend {
	if table == "" {
		table = "hindsight_fragments"
	}
	if idx == nil {
		idx = vectorindex.BruteForce{}
	}
	return &PostgresBackend{pool: pool, table: table, dimension: dimension, index: idx}
}

func (b *PostgresBackend) Initialize(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	namespace TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	embedding vector(%[2]d) NOT NULL,
	relevance DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	access_count BIGINT NOT NULL DEFAULT 0,
	last_accessed_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	expires_at BIGINT,
	is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	tags TEXT[] NOT NULL DEFAULT '{}',
	provenance JSONB NOT NULL DEFAULT '{}',
	extra JSONB
);
CREATE INDEX IF NOT EXISTS %[1]s_namespace_idx ON %[1]s (namespace);
`, b.table, b.dimension)
	_, err := b.pool.Exec(ctx, ddl)
	if err != nil {
		return herrors.Wrap(herrors.KindBackendUnavailable, "initialize postgres schema", err)
	}
	return nil
}

func (b *PostgresBackend) Close(context.Context) error {
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) IsAvailable(ctx context.Context) bool {
	return b.pool.Ping(ctx) == nil
}

func (b *PostgresBackend) Write(ctx context.Context, f fragment.Fragment) error {
	return b.upsert(ctx, f)
}

func (b *PostgresBackend) upsert(ctx context.Context, f fragment.Fragment) error {
	prov, err := json.Marshal(f.Provenance)
	if err != nil {
		return herrors.Wrap(herrors.KindInvalidInput, "marshal provenance", err)
	}
	var extra []byte
	if f.Extra != nil {
		extra, err = json.Marshal(f.Extra)
		if err != nil {
			return herrors.Wrap(herrors.KindInvalidInput, "marshal extra", err)
		}
	}
	q := fmt.Sprintf(`
INSERT INTO %[1]s (id, content, type, namespace, agent_id, project_id, embedding, relevance,
	confidence, access_count, last_accessed_at, created_at, updated_at, expires_at, is_pinned,
	is_archived, tags, provenance, extra)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO UPDATE SET
	content=EXCLUDED.content, type=EXCLUDED.type, namespace=EXCLUDED.namespace,
	agent_id=EXCLUDED.agent_id, project_id=EXCLUDED.project_id, embedding=EXCLUDED.embedding,
	relevance=EXCLUDED.relevance, confidence=EXCLUDED.confidence, access_count=EXCLUDED.access_count,
	last_accessed_at=EXCLUDED.last_accessed_at, updated_at=EXCLUDED.updated_at,
	expires_at=EXCLUDED.expires_at, is_pinned=EXCLUDED.is_pinned, is_archived=EXCLUDED.is_archived,
	tags=EXCLUDED.tags, provenance=EXCLUDED.provenance, extra=EXCLUDED.extra
`, b.table)
	_, err = b.pool.Exec(ctx, q, f.ID, f.Content, string(f.Type), f.Namespace, f.AgentID, f.ProjectID,
		pgvector.NewVector(f.Embedding), f.Relevance, f.Confidence, f.AccessCount, f.LastAccessedAt,
		f.CreatedAt, f.UpdatedAt, f.ExpiresAt, f.IsPinned, f.IsArchived, f.Tags, prov, extra)
	if err != nil {
		return herrors.Wrap(herrors.KindBackendUnavailable, "upsert fragment", err)
	}
	return nil
}

const selectColumns = `id, content, type, namespace, agent_id, project_id, embedding, relevance,
	confidence, access_count, last_accessed_at, created_at, updated_at, expires_at, is_pinned,
	is_archived, tags, provenance, extra`

func (b *PostgresBackend) scanFragment(row pgx.Row) (fragment.Fragment, error) {
	var f fragment.Fragment
	var typ string
	var vec pgvector.Vector
	var prov []byte
	var extra []byte
	err := row.Scan(&f.ID, &f.Content, &typ, &f.Namespace, &f.AgentID, &f.ProjectID, &vec,
		&f.Relevance, &f.Confidence, &f.AccessCount, &f.LastAccessedAt, &f.CreatedAt, &f.UpdatedAt,
		&f.ExpiresAt, &f.IsPinned, &f.IsArchived, &f.Tags, &prov, &extra)
	if err != nil {
		return fragment.Fragment{}, err
	}
	f.Type = fragment.Type(typ)
	f.Embedding = vec.Slice()
	if len(prov) > 0 {
		_ = json.Unmarshal(prov, &f.Provenance)
	}
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &f.Extra)
	}
	return f, nil
}

// IncrementAccess issues a single atomic UPDATE ... SET access_count =
// access_count + 1 so concurrent retrievals of the same fragment both
// commit their increment instead of one clobbering the other via a
// read-modify-write Write call.
func (b *PostgresBackend) IncrementAccess(ctx context.Context, id string, nowMS int64) (fragment.Fragment, bool, error) {
	q := fmt.Sprintf(`
UPDATE %[1]s SET access_count = access_count + 1, last_accessed_at = $2
WHERE id = $1
RETURNING %[2]s
`, b.table, selectColumns)
	row := b.pool.QueryRow(ctx, q, id, nowMS)
	f, err := b.scanFragment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fragment.Fragment{}, false, nil
		}
		return fragment.Fragment{}, false, herrors.Wrap(herrors.KindBackendUnavailable, "increment access", err)
	}
	return f, true, nil
}

func (b *PostgresBackend) Read(ctx context.Context, id string) (fragment.Fragment, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, selectColumns, b.table)
	row := b.pool.QueryRow(ctx, q, id)
	f, err := b.scanFragment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fragment.Fragment{}, false, nil
		}
		return fragment.Fragment{}, false, herrors.Wrap(herrors.KindBackendUnavailable, "read fragment", err)
	}
	return f, true, nil
}

func (b *PostgresBackend) BulkWrite(ctx context.Context, fragments []fragment.Fragment) error {
	for _, f := range fragments {
		if err := b.upsert(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (b *PostgresBackend) BulkRead(ctx context.Context, ids []string) ([]fragment.Fragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, selectColumns, b.table)
	rows, err := b.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "bulk read", err)
	}
	defer rows.Close()
	var out []fragment.Fragment
	for rows.Next() {
		f, err := b.scanFragment(rows)
		if err != nil {
			return nil, herrors.Wrap(herrors.KindBackendUnavailable, "scan bulk read row", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := b.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, b.table), id)
	if err != nil {
		return false, herrors.Wrap(herrors.KindBackendUnavailable, "delete fragment", err)
	}
	return tag.RowsAffected() > 0, nil
}

// filterClause renders Filter into a SQL WHERE fragment and args. Only the
// indexed/column-backed predicates are pushed to SQL; Filter.Matches is
// still applied in Go afterward as a safety net (e.g. relevance range,
// expiry) so behavior matches MemoryBackend exactly.
func (b *PostgresBackend) filterClause(filter Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(expr string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if filter.Namespace != nil {
		add("namespace = $%d", *filter.Namespace)
	}
	if filter.AgentID != nil {
		add("agent_id = $%d", *filter.AgentID)
	}
	if filter.ProjectID != nil {
		add("project_id = $%d", *filter.ProjectID)
	}
	if filter.Type != nil {
		add("type = $%d", string(*filter.Type))
	}
	if filter.Archived != nil {
		add("is_archived = $%d", *filter.Archived)
	}
	if filter.Pinned != nil {
		add("is_pinned = $%d", *filter.Pinned)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (b *PostgresBackend) Query(ctx context.Context, filter Filter) ([]fragment.Fragment, error) {
	where, args := b.filterClause(filter)
	q := fmt.Sprintf(`SELECT %s FROM %s%s`, selectColumns, b.table, where)
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "query fragments", err)
	}
	defer rows.Close()
	now := wallNowMS()
	var out []fragment.Fragment
	for rows.Next() {
		f, err := b.scanFragment(rows)
		if err != nil {
			return nil, herrors.Wrap(herrors.KindBackendUnavailable, "scan query row", err)
		}
		if filter.Matches(f, now) {
			out = append(out, f)
		}
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Count(ctx context.Context, filter Filter) (int64, error) {
	fs, err := b.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(fs)), nil
}

// SearchByVector narrows via pgvector's cosine-distance operator then computes
// the exact composite score in Go, since recency/frequency aren't columns.
func (b *PostgresBackend) SearchByVector(ctx context.Context, embedding []float32, topK int, filter Filter, floor float64, w vectorindex.Weights, nowMS int64) ([]vectorindex.Scored, error) {
	where, args := b.filterClause(filter)
	args = append(args, pgvector.NewVector(embedding))
	limit := topK * 10
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY embedding <=> $%d LIMIT $%d`,
		selectColumns, b.table, where, len(args)-1, len(args))
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "vector search", err)
	}
	defer rows.Close()
	now := wallNowMS()
	var candidates []fragment.Fragment
	for rows.Next() {
		f, err := b.scanFragment(rows)
		if err != nil {
			return nil, herrors.Wrap(herrors.KindBackendUnavailable, "scan vector search row", err)
		}
		if filter.Matches(f, now) {
			candidates = append(candidates, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "iterate vector search", err)
	}
	return b.index.Rank(ctx, candidates, embedding, nowMS, topK, floor, w)
}

func (b *PostgresBackend) ExportAll(ctx context.Context, namespace string) ([]fragment.Fragment, error) {
	filter := Filter{IncludeExpired: true}
	if namespace != "" {
		filter.Namespace = &namespace
	}
	where, args := b.filterClause(filter)
	q := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY id`, selectColumns, b.table, where)
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "export all", err)
	}
	defer rows.Close()
	var out []fragment.Fragment
	for rows.Next() {
		f, err := b.scanFragment(rows)
		if err != nil {
			return nil, herrors.Wrap(herrors.KindBackendUnavailable, "scan export row", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) ImportAll(ctx context.Context, fragments []fragment.Fragment) (int, error) {
	n := 0
	for _, f := range fragments {
		if err := b.upsert(ctx, f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *PostgresBackend) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	q := fmt.Sprintf(`SELECT count(*), count(DISTINCT namespace), count(*) FILTER (WHERE is_archived), count(*) FILTER (WHERE is_pinned) FROM %s`, b.table)
	err := b.pool.QueryRow(ctx, q).Scan(&stats.FragmentCount, &stats.NamespaceCount, &stats.ArchivedCount, &stats.PinnedCount)
	if err != nil {
		return Stats{}, herrors.Wrap(herrors.KindBackendUnavailable, "get stats", err)
	}
	return stats, nil
}

// Package engine is the C7 façade: the single entry point agents and the
// ingest bridge call, wiring together embedding procurement, storage,
// retrieval, consolidation, namespace algebra, and the universe controller
// behind one API surface with a uniform retry and error-reporting contract.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hindsight/internal/memory/archive"
	"hindsight/internal/memory/consolidate"
	"hindsight/internal/memory/embedder"
	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
	"hindsight/internal/memory/namespace"
	"hindsight/internal/memory/retrieval"
	"hindsight/internal/memory/storage"
	"hindsight/internal/memory/universe"
	"hindsight/internal/memory/vectorindex"
	"hindsight/internal/observability"
)

// Config tunes the engine beyond what its collaborators already default.
// Zero values fall back to the same defaults the underlying packages use.
type Config struct {
	Dimension       int
	DefaultTopK     int
	DefaultFloor    float64
	Weights         vectorindex.Weights
	TokenBudget     int
	ConsolidationConfig consolidate.Config
	RetryBaseDelay  time.Duration // default 200ms
	RetryMaxDelay   time.Duration // default 2s
	RetryAttempts   int           // default 1 (one retry beyond the initial attempt)

	// LogPayloads enables debug-level logging of a stored fragment's
	// extra/provenance payload, redacted via observability.RedactJSON so
	// secrets pasted into fragment content don't leak into logs.
	LogPayloads bool
}

func (c Config) withDefaults() Config {
	if c.Dimension <= 0 {
		c.Dimension = 384
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 10
	}
	if c.DefaultFloor <= 0 {
		c.DefaultFloor = vectorindex.DefaultSimilarityFloor
	}
	if (c.Weights == vectorindex.Weights{}) {
		c.Weights = vectorindex.DefaultWeights()
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 4000
	}
	if (c.ConsolidationConfig == consolidate.Config{}) {
		c.ConsolidationConfig = consolidate.DefaultConfig()
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	return c
}

// Engine is the process-facing façade. Construct one via New and reuse it;
// it is safe for concurrent use.
type Engine struct {
	cfg Config

	Backend  storage.Backend
	Embedder embedder.Embedder
	Manager  *namespace.Manager
	Planner  *retrieval.Planner
	Pipeline *consolidate.Pipeline
	Universe *universe.Controller
	Archive  archive.Sink
	Clock    fragment.Clock
	Logger   zerolog.Logger

	warnedFallbackOnce sync.Once

	schedMu    sync.Mutex
	schedStop  chan struct{}
	schedDone  chan struct{}
}

// New wires an Engine from its collaborators. embed may be nil, in which
// case a content-seeded deterministic embedder is used for every call and a
// one-time warning is logged (spec §9 "embedding procurement fallback").
func New(backend storage.Backend, embed embedder.Embedder, manager *namespace.Manager, clock fragment.Clock, logger zerolog.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	if embed == nil {
		embed = embedder.NewDeterministic(cfg.Dimension, true)
	}
	e := &Engine{
		cfg:      cfg,
		Backend:  backend,
		Embedder: embed,
		Manager:  manager,
		Planner:  &retrieval.Planner{Backend: backend, Clock: clock},
		Pipeline: &consolidate.Pipeline{Backend: backend, Clock: clock, Config: cfg.ConsolidationConfig},
		Universe: universe.NewController(manager, clock),
		Clock:    clock,
		Logger:   logger,
	}
	return e
}

// warnIfFallback logs once, the first time a deterministic fallback embedder
// is used in place of a real one, so operators notice misconfiguration
// without it flooding logs on every call.
func (e *Engine) warnIfFallback() {
	if _, ok := e.Embedder.(*embedder.Deterministic); !ok {
		return
	}
	e.warnedFallbackOnce.Do(func() {
		e.Logger.Warn().Msg("memory engine: no embedder configured, falling back to deterministic content-hash embeddings")
	})
}

func (e *Engine) embedOne(ctx context.Context, text string) ([]float32, error) {
	e.warnIfFallback()
	var vecs [][]float32
	err := withRetry(ctx, e.cfg, func() error {
		var embedErr error
		vecs, embedErr = e.Embedder.EmbedBatch(ctx, []string{text})
		return embedErr
	})
	if err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "embed text", err)
	}
	if len(vecs) != 1 {
		return nil, herrors.New(herrors.KindBackendUnavailable, "embedder returned unexpected batch size")
	}
	return vecs[0], nil
}

// Store materializes and persists one fragment, embedding its content first
// if the caller did not already supply a vector.
func (e *Engine) Store(ctx context.Context, in fragment.Input) (fragment.Fragment, error) {
	ctx, span := observability.Tracer().Start(ctx, "memory.Store")
	defer span.End()

	embedding := in.Embedding
	if len(embedding) == 0 {
		vec, err := e.embedOne(ctx, in.Content)
		if err != nil {
			return fragment.Fragment{}, err
		}
		embedding = vec
	}
	f, err := fragment.Materialize(in, embedding, e.cfg.Dimension, e.Clock)
	if err != nil {
		return fragment.Fragment{}, err
	}
	if err := withRetry(ctx, e.cfg, func() error { return e.Backend.Write(ctx, f) }); err != nil {
		return fragment.Fragment{}, herrors.Wrap(herrors.KindBackendUnavailable, "write fragment", err)
	}
	e.logPayload(f)
	return f, nil
}

// logPayload emits a redacted debug-level dump of a stored fragment's
// provenance and extra fields, gated by cfg.LogPayloads the way the teacher
// gates its LOG_PAYLOADS option.
func (e *Engine) logPayload(f fragment.Fragment) {
	if !e.cfg.LogPayloads {
		return
	}
	raw, err := json.Marshal(map[string]any{"provenance": f.Provenance, "extra": f.Extra})
	if err != nil {
		return
	}
	e.Logger.Debug().RawJSON("payload", observability.RedactJSON(raw)).Str("fragment_id", f.ID).Msg("memory engine: stored fragment payload")
}

// RetrieveOptions bundles the optional overrides to DefaultRetrievalFilter
// and the planner's budget/ranking knobs.
type RetrieveOptions struct {
	Filter      storage.Filter
	TokenBudget int
	TopK        int
	Floor       float64
	Weights     vectorindex.Weights
}

func (o RetrieveOptions) withDefaults(cfg Config) RetrieveOptions {
	if o.TokenBudget <= 0 {
		o.TokenBudget = cfg.TokenBudget
	}
	if o.TopK <= 0 {
		o.TopK = cfg.DefaultTopK
	}
	if o.Floor <= 0 {
		o.Floor = cfg.DefaultFloor
	}
	if (o.Weights == vectorindex.Weights{}) {
		o.Weights = cfg.Weights
	}
	if o.Filter.Archived == nil {
		notArchived := false
		o.Filter.Archived = &notArchived
	}
	return o
}

// Retrieve embeds the query text and assembles a token-budgeted retrieval
// context via the planner.
func (e *Engine) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (retrieval.Context, error) {
	ctx, span := observability.Tracer().Start(ctx, "memory.Retrieve")
	defer span.End()

	opts = opts.withDefaults(e.cfg)
	vec, err := e.embedOne(ctx, query)
	if err != nil {
		return retrieval.Context{}, err
	}
	return e.Planner.Retrieve(ctx, retrieval.Request{
		Embedding: vec, Filter: opts.Filter, TokenBudget: opts.TokenBudget,
		TopK: opts.TopK, Floor: opts.Floor, Weights: opts.Weights,
	})
}

// Search returns a raw ranked list without token-budget packing or
// access-count bumps, for programmatic callers that just want scores.
func (e *Engine) Search(ctx context.Context, query string, filter storage.Filter, topK int, floor float64) ([]vectorindex.Scored, error) {
	ctx, span := observability.Tracer().Start(ctx, "memory.Search")
	defer span.End()

	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	if floor <= 0 {
		floor = e.cfg.DefaultFloor
	}
	vec, err := e.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	now := e.Clock.NowMS()
	var scored []vectorindex.Scored
	err = withRetry(ctx, e.cfg, func() error {
		var searchErr error
		scored, searchErr = e.Backend.SearchByVector(ctx, vec, topK, filter, floor, e.cfg.Weights, now)
		return searchErr
	})
	if err != nil {
		return nil, herrors.Wrap(herrors.KindBackendUnavailable, "search by vector", err)
	}
	return scored, nil
}

// Consolidate runs the four-phase pipeline once.
func (e *Engine) Consolidate(ctx context.Context) (consolidate.Report, error) {
	ctx, span := observability.Tracer().Start(ctx, "memory.Consolidate")
	defer span.End()
	return e.Pipeline.Run(ctx)
}

// ExportMemories wraps every fragment in namespace into a versioned
// envelope, optionally handing it to an archive sink for durable storage.
func (e *Engine) ExportMemories(ctx context.Context, ns string) (archive.Envelope, error) {
	frags, err := e.Backend.ExportAll(ctx, ns)
	if err != nil {
		return archive.Envelope{}, herrors.Wrap(herrors.KindBackendUnavailable, "export namespace", err)
	}
	env := archive.NewEnvelope(ns, e.Clock.NowMS(), frags)
	if e.Archive != nil {
		if err := e.Archive.Put(ctx, archive.KeyFor(ns, env.ExportedAtMS), env); err != nil {
			return env, fmt.Errorf("archive sink put: %w", err)
		}
	}
	return env, nil
}

// ImportMemories writes every fragment in env back into the backend,
// rejecting a version it doesn't understand.
func (e *Engine) ImportMemories(ctx context.Context, env archive.Envelope) (int, error) {
	if env.Version != archive.EnvelopeVersion {
		return 0, herrors.New(herrors.KindInvalidInput, fmt.Sprintf("unsupported envelope version %d", env.Version))
	}
	n, err := e.Backend.ImportAll(ctx, env.Fragments)
	if err != nil {
		return n, herrors.Wrap(herrors.KindBackendUnavailable, "import envelope", err)
	}
	return n, nil
}

// ForkNamespace and MergeNamespaces delegate to the namespace manager.
func (e *Engine) ForkNamespace(ctx context.Context, source, target string, overwrite bool) (int, error) {
	return e.Manager.Fork(ctx, source, target, overwrite)
}

func (e *Engine) MergeNamespaces(ctx context.Context, source, target string) (namespace.MergeReport, error) {
	return e.Manager.Merge(ctx, source, target)
}

// HealthStatus reports backend reachability and the embedder in use.
type HealthStatus struct {
	BackendAvailable bool
	EmbedderName     string
	EmbedderReady    bool
}

// HealthCheck probes backend availability and embedder reachability without
// mutating any state.
func (e *Engine) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		BackendAvailable: e.Backend.IsAvailable(ctx),
		EmbedderName:     e.Embedder.Name(),
	}
	status.EmbedderReady = e.Embedder.Ping(ctx) == nil
	return status
}

// Shutdown stops any running consolidation scheduler and closes the backend.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.StopConsolidationScheduler()
	return e.Backend.Close(ctx)
}

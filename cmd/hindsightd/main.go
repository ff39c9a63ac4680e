// Command hindsightd runs one Hindsight memory engine process: an HTTP
// surface with health/readiness probes, store and retrieve on /v1/memories
// and a consolidation trigger on /v1/consolidate, and an optional Kafka
// consumer feeding the build-log ingest bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hindsight/internal/config"
	"hindsight/internal/memory/archive"
	"hindsight/internal/memory/consolidate"
	"hindsight/internal/memory/embedder"
	"hindsight/internal/memory/engine"
	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/ingest"
	"hindsight/internal/memory/namespace"
	"hindsight/internal/memory/storage"
	"hindsight/internal/memory/vectorindex"
	"hindsight/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("hindsightd failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if otlp := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); otlp != "" {
		shutdown, err := observability.InitOTel(ctx, observability.OTelConfig{
			ServiceName:  "hindsightd",
			OTLPEndpoint: otlp,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("otel init failed, continuing without tracing/metrics")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}
	if err := backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize storage backend: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build namespace registry: %w", err)
	}

	idx, err := buildVectorIndex(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build vector index: %w", err)
	}

	embed, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}

	clock := fragment.WallClock{}
	manager := &namespace.Manager{
		Backend:        backend,
		Clock:          clock,
		Registry:       registry,
		Index:          idx,
		MaxNamespaces:  cfg.MaxNamespaces,
		DedupThreshold: cfg.DedupThreshold,
	}

	eng := engine.New(backend, embed, manager, clock, logger, engine.Config{
		Dimension:           cfg.Embedding.Dimension,
		DefaultTopK:         cfg.DefaultTopK,
		DefaultFloor:        cfg.DefaultFloor,
		Weights:             vectorindex.Weights{Similarity: cfg.Ranking.Similarity, Recency: cfg.Ranking.Recency, Frequency: cfg.Ranking.Frequency},
		TokenBudget:         cfg.TokenBudget,
		ConsolidationConfig: cfg.Consolidation,
		RetryBaseDelay:      time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		RetryMaxDelay:       time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		RetryAttempts:       cfg.Retry.Attempts,
		LogPayloads:         cfg.LogPayloads,
	})

	if sink, err := buildConsolidationSink(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("clickhouse consolidation sink unavailable, reports won't be archived")
	} else if sink != nil {
		eng.Pipeline.Sink = sink
	}

	if sink, err := buildArchiveSink(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("s3 archive sink unavailable, export will not be persisted remotely")
	} else if sink != nil {
		eng.Archive = sink
	}

	if cfg.Scheduler.Enabled {
		eng.StartConsolidationScheduler(ctx, time.Duration(cfg.Scheduler.IntervalMins)*time.Minute)
		defer eng.StopConsolidationScheduler()
	}

	var kafkaConsumer *ingest.KafkaBuildLogConsumer
	if cfg.Ingest.Brokers != "" {
		kafkaConsumer = ingest.NewKafkaBuildLogConsumer(
			strings.Split(cfg.Ingest.Brokers, ","), cfg.Ingest.Topic, cfg.Ingest.GroupID,
			func(ctx context.Context, bl ingest.BuildLog) error {
				_, err := eng.Store(ctx, ingest.FromBuildLog(bl))
				return err
			}, logger)
		go func() {
			if err := kafkaConsumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("kafka ingest consumer exited")
			}
		}()
		defer kafkaConsumer.Close()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: newMux(eng, logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = eng.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Msg("hindsightd listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func buildBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case "file":
		return storage.NewFileBackend(cfg.Storage.Path, nil), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return storage.NewPostgresBackend(pool, cfg.Storage.Table, cfg.Embedding.Dimension, nil), nil
	default:
		return storage.NewMemoryBackend(nil), nil
	}
}

func buildRegistry(cfg config.Config) (namespace.Registry, error) {
	if client, ok := redisRegistryFromEnv(); ok {
		return namespace.NewRedisRegistry(client, "hindsight:namespaces"), nil
	}
	return namespace.NewMemoryRegistry(), nil
}

func buildVectorIndex(ctx context.Context, cfg config.Config) (vectorindex.Index, error) {
	if cfg.VectorIndex.Backend != "qdrant" {
		return nil, nil
	}
	ann, err := vectorindex.NewQdrantANN(ctx, cfg.VectorIndex.DSN, cfg.VectorIndex.Collection, cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}
	return vectorindex.ANNAccelerated{ANN: ann}, nil
}

func buildEmbedder(ctx context.Context, cfg config.Config) (embedder.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimension), nil
	case "gemini":
		return embedder.NewGeminiEmbedder(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	default:
		return nil, nil
	}
}

func buildConsolidationSink(ctx context.Context, cfg config.Config) (*consolidate.ClickHouseSink, error) {
	dsn := strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN"))
	if dsn == "" {
		return nil, nil
	}
	table := firstNonEmptyLocal(os.Getenv("CLICKHOUSE_CONSOLIDATION_TABLE"), "hindsight_consolidation_reports")
	return consolidate.NewClickHouseSink(ctx, dsn, table)
}

func buildArchiveSink(ctx context.Context, cfg config.Config) (archive.Sink, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	return archive.NewS3Sink(ctx, archive.S3Config{
		Region:       cfg.Archive.Region,
		Bucket:       cfg.Archive.Bucket,
		Prefix:       cfg.Archive.Prefix,
		Endpoint:     cfg.Archive.Endpoint,
		AccessKey:    cfg.Archive.AccessKey,
		SecretKey:    cfg.Archive.SecretKey,
		UsePathStyle: cfg.Archive.UsePathStyle,
	})
}

func firstNonEmptyLocal(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

// redisRegistryFromEnv builds a Redis client from REDIS_ADDR/REDIS_PASSWORD
// when set, so namespace registration survives process restarts; falls back
// to the in-memory registry when unset.
func redisRegistryFromEnv() (*redis.Client, bool) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, false
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")}), true
}

func newMux(eng *engine.Engine, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := eng.HealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})
	mux.HandleFunc("/v1/memories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleStore(eng, logger, w, r)
		case http.MethodGet:
			handleRetrieve(eng, logger, w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/v1/consolidate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		report, err := eng.Consolidate(r.Context())
		writeJSON(w, report, err)
	})
	return mux
}

func handleStore(eng *engine.Engine, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	var in fragment.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	f, err := eng.Store(r.Context(), in)
	if err != nil {
		logger.Error().Err(err).Msg("store failed")
	}
	writeJSON(w, f, err)
}

func handleRetrieve(eng *engine.Engine, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	result, err := eng.Retrieve(r.Context(), query, engine.RetrieveOptions{})
	if err != nil {
		logger.Error().Err(err).Msg("retrieve failed")
	}
	writeJSON(w, result, err)
}

func writeJSON(w http.ResponseWriter, v any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

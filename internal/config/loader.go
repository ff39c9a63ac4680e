package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"hindsight/internal/memory/consolidate"
)

// Load reads configuration from environment variables, optionally
// overridden by a .env file, then overlays a tuning YAML file (HINDSIGHT_TUNING_CONFIG,
// default "hindsight.yaml") for the handful of values too structured to
// comfortably live in an env var (consolidation thresholds, ranking weights).
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables,
	// letting a repository-local .env deterministically control runtime
	// behavior in development unless explicitly overridden.
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.LogPayloads = truthy(strings.TrimSpace(os.Getenv("LOG_PAYLOADS")))

	cfg.Storage.Type = strings.TrimSpace(os.Getenv("STORAGE_TYPE"))
	cfg.Storage.Path = strings.TrimSpace(os.Getenv("STORAGE_PATH"))
	cfg.Storage.DSN = firstNonEmpty(os.Getenv("STORAGE_DSN"), os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN"))
	cfg.Storage.Table = strings.TrimSpace(os.Getenv("STORAGE_TABLE"))

	cfg.VectorIndex.Backend = strings.TrimSpace(os.Getenv("VECTOR_INDEX_BACKEND"))
	cfg.VectorIndex.DSN = strings.TrimSpace(os.Getenv("QDRANT_DSN"))
	cfg.VectorIndex.Collection = strings.TrimSpace(os.Getenv("QDRANT_COLLECTION"))

	cfg.Embedding.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER")))
	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBEDDING_MODEL"))
	if n, ok := intFromEnv("EMBEDDING_DIMENSION"); ok {
		cfg.Embedding.Dimension = n
	}
	switch cfg.Embedding.Provider {
	case "openai":
		cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case "gemini":
		cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY"))
	}

	if v := strings.TrimSpace(os.Getenv("ARCHIVE_ENABLED")); v != "" {
		cfg.Archive.Enabled = truthy(v)
	}
	cfg.Archive.Region = strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION"))
	cfg.Archive.Bucket = strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET"))
	cfg.Archive.Prefix = strings.TrimSpace(os.Getenv("ARCHIVE_S3_PREFIX"))
	cfg.Archive.Endpoint = strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
	cfg.Archive.AccessKey = strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY"))
	cfg.Archive.SecretKey = strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY"))
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_PATH_STYLE")); v != "" {
		cfg.Archive.UsePathStyle = truthy(v)
	}

	cfg.Ingest.Brokers = firstNonEmpty(os.Getenv("KAFKA_BROKERS"), os.Getenv("KAFKA_BOOTSTRAP_SERVERS"))
	cfg.Ingest.Topic = strings.TrimSpace(os.Getenv("INGEST_TOPIC"))
	cfg.Ingest.GroupID = strings.TrimSpace(os.Getenv("INGEST_GROUP_ID"))

	cfg.Server.Host = strings.TrimSpace(os.Getenv("SERVER_HOST"))
	if n, ok := intFromEnv("SERVER_PORT"); ok {
		cfg.Server.Port = n
	}

	if n, ok := intFromEnv("RETRY_BASE_DELAY_MS"); ok {
		cfg.Retry.BaseDelayMS = n
	}
	if n, ok := intFromEnv("RETRY_MAX_DELAY_MS"); ok {
		cfg.Retry.MaxDelayMS = n
	}
	if n, ok := intFromEnv("RETRY_ATTEMPTS"); ok {
		cfg.Retry.Attempts = n
	}

	if v := strings.TrimSpace(os.Getenv("CONSOLIDATION_SCHEDULER_ENABLED")); v != "" {
		cfg.Scheduler.Enabled = truthy(v)
	}
	if n, ok := intFromEnv("CONSOLIDATION_INTERVAL_MINUTES"); ok {
		cfg.Scheduler.IntervalMins = n
	}

	if n, ok := intFromEnv("DEFAULT_TOP_K"); ok {
		cfg.DefaultTopK = n
	}
	if f, ok := floatFromEnv("DEFAULT_SIMILARITY_FLOOR"); ok {
		cfg.DefaultFloor = f
	}
	if n, ok := intFromEnv("TOKEN_BUDGET"); ok {
		cfg.TokenBudget = n
	}
	if n, ok := intFromEnv("MAX_NAMESPACES"); ok {
		cfg.MaxNamespaces = n
	}
	if f, ok := floatFromEnv("DEDUP_THRESHOLD"); ok {
		cfg.DedupThreshold = f
	}

	if err := loadTuning(&cfg); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// tuningYAML is the optional on-disk shape for values better expressed as a
// document than a flat env var: ranking weights and the consolidation
// pipeline's thresholds. Every field is optional; absent fields keep
// whatever the env/defaults already set.
type tuningYAML struct {
	Ranking       *RankingConfig `yaml:"ranking"`
	Consolidation *struct {
		DedupSimilarityThreshold float64 `yaml:"dedupSimilarityThreshold"`
		DecayRate                float64 `yaml:"decayRate"`
		ArchiveThreshold         float64 `yaml:"archiveThreshold"`
		MinArchiveAgeDays        float64 `yaml:"minArchiveAgeDays"`
		HardDeleteFloor          float64 `yaml:"hardDeleteFloor"`
		MinDeleteAgeDays         float64 `yaml:"minDeleteAgeDays"`
		ChunkSize                int     `yaml:"chunkSize"`
		Concurrency              int     `yaml:"concurrency"`
	} `yaml:"consolidation"`
}

// loadTuning reads HINDSIGHT_TUNING_CONFIG (default "hindsight.yaml") if it
// exists. A missing file is not an error; the file is optional.
func loadTuning(cfg *Config) error {
	path := strings.TrimSpace(os.Getenv("HINDSIGHT_TUNING_CONFIG"))
	if path == "" {
		path = "hindsight.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var t tuningYAML
	if err := yaml.Unmarshal(data, &t); err != nil {
		return err
	}
	if t.Ranking != nil {
		cfg.Ranking = *t.Ranking
	}
	if t.Consolidation != nil {
		c := t.Consolidation
		cfg.Consolidation = consolidate.Config{
			DedupSimilarityThreshold: c.DedupSimilarityThreshold,
			DecayRate:                c.DecayRate,
			ArchiveThreshold:         c.ArchiveThreshold,
			MinArchiveAgeDays:        c.MinArchiveAgeDays,
			HardDeleteFloor:          c.HardDeleteFloor,
			MinDeleteAgeDays:         c.MinDeleteAgeDays,
			ChunkSize:                c.ChunkSize,
			Concurrency:              c.Concurrency,
		}
	}
	return nil
}

// applyDefaults fills in every field Load left zero-valued, matching the
// defaults the underlying memory packages already apply on their own so a
// directly-constructed Config{} and a Load()-ed one behave the same.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "hindsight_fragments"
	}
	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Provider == "gemini" && cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-004"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "hindsight"
	}
	if cfg.Ingest.Topic == "" {
		cfg.Ingest.Topic = "hindsight.memory.write"
	}
	if cfg.Ingest.GroupID == "" {
		cfg.Ingest.GroupID = "hindsight-ingest"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8099
	}
	if cfg.Retry.BaseDelayMS <= 0 {
		cfg.Retry.BaseDelayMS = 200
	}
	if cfg.Retry.MaxDelayMS <= 0 {
		cfg.Retry.MaxDelayMS = 2000
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 1
	}
	if cfg.Scheduler.IntervalMins <= 0 {
		cfg.Scheduler.IntervalMins = 60
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.DefaultFloor <= 0 {
		cfg.DefaultFloor = 0.7
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 4000
	}
	if cfg.MaxNamespaces <= 0 {
		cfg.MaxNamespaces = 100
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.95
	}
	if (cfg.Ranking == RankingConfig{}) {
		cfg.Ranking = RankingConfig{Similarity: 0.5, Recency: 0.3, Frequency: 0.2}
	}
	if (cfg.Consolidation == consolidate.Config{}) {
		cfg.Consolidation = consolidate.DefaultConfig()
	}
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func floatFromEnv(key string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Package config loads Hindsight engine configuration from environment
// variables (with .env overlay) and an optional tuning YAML file, mirroring
// the teacher's env-first config.Load with a YAML escape hatch for values
// too structured to comfortably live in an env var.
package config

import "hindsight/internal/memory/consolidate"

// StorageConfig selects and configures the fragment storage backend (spec
// §4's storage_type/storage_path option pair).
type StorageConfig struct {
	Type  string `yaml:"type"` // "memory", "file", or "postgres"
	Path  string `yaml:"path"` // file journal path, when Type == "file"
	DSN   string `yaml:"dsn"`  // Postgres DSN, when Type == "postgres"
	Table string `yaml:"table"`
}

// VectorIndexConfig optionally builds an ANN index (Qdrant). hindsightd
// hands the index to the namespace manager only; storage backends are
// constructed without it, so search_by_vector uses their brute-force scan.
type VectorIndexConfig struct {
	Backend    string `yaml:"backend"` // "", or "qdrant"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig selects the embedding provider used when a caller does
// not supply its own vector.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "gemini", or "" for the deterministic fallback
	APIKey    string `yaml:"-"`
	BaseURL   string `yaml:"baseURL"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// ArchiveConfig configures the optional S3-compatible export/import sink.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"-"`
	SecretKey    string `yaml:"-"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// IngestConfig configures the Kafka-backed ingest bridge (spec §8).
type IngestConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"groupID"`
}

// ServerConfig controls the HTTP surface of cmd/hindsightd.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RetryConfig tunes the engine's bounded retry policy for transient backend
// errors.
type RetryConfig struct {
	BaseDelayMS int `yaml:"baseDelayMS"`
	MaxDelayMS  int `yaml:"maxDelayMS"`
	Attempts    int `yaml:"attempts"`
}

// SchedulerConfig controls the background consolidation ticker.
type SchedulerConfig struct {
	Enabled      bool `yaml:"enabled"`
	IntervalMins int  `yaml:"intervalMins"`
}

// RankingConfig mirrors vectorindex.Weights so the YAML tuning file doesn't
// need to import that package's types directly.
type RankingConfig struct {
	Similarity float64 `yaml:"similarity"`
	Recency    float64 `yaml:"recency"`
	Frequency  float64 `yaml:"frequency"`
}

// Config is the fully-resolved configuration for one Hindsight engine
// process. Zero-valued nested fields are filled in by Load with the same
// defaults the underlying packages already apply.
type Config struct {
	LogPath  string
	LogLevel string

	Storage       StorageConfig
	VectorIndex   VectorIndexConfig
	Embedding     EmbeddingConfig
	Archive       ArchiveConfig
	Ingest        IngestConfig
	Server        ServerConfig
	Retry         RetryConfig
	Scheduler     SchedulerConfig
	Ranking       RankingConfig
	Consolidation consolidate.Config `yaml:"-"`

	DefaultTopK  int     `yaml:"defaultTopK"`
	DefaultFloor float64 `yaml:"defaultFloor"`
	TokenBudget  int     `yaml:"tokenBudget"`

	MaxNamespaces  int     `yaml:"maxNamespaces"`
	DedupThreshold float64 `yaml:"dedupThreshold"`

	// LogPayloads enables redacted debug logging of stored fragment payloads.
	LogPayloads bool `yaml:"-"`
}

package config

import (
	"os"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "foo", "bar"); v != "foo" {
		t.Fatalf("expected 'foo', got %q", v)
	}
	if v := firstNonEmpty(); v != "" {
		t.Fatalf("expected empty, got %q", v)
	}
}

func TestIntFromEnv(t *testing.T) {
	key := "HINDSIGHT_TEST_INT"
	if _, ok := intFromEnv(key); ok {
		t.Fatalf("expected no value for unset env var")
	}
	t.Setenv(key, "123")
	n, ok := intFromEnv(key)
	if !ok || n != 123 {
		t.Fatalf("expected 123, got %d ok=%v", n, ok)
	}
	t.Setenv(key, "not-an-int")
	if _, ok := intFromEnv(key); ok {
		t.Fatalf("expected no value for invalid int")
	}
}

func TestFloatFromEnv(t *testing.T) {
	key := "HINDSIGHT_TEST_FLOAT"
	t.Setenv(key, "0.75")
	f, ok := floatFromEnv(key)
	if !ok || f != 0.75 {
		t.Fatalf("expected 0.75, got %v ok=%v", f, ok)
	}
}

func TestLoadAppliesDefaultsWithNoEnv(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Type != "memory" {
		t.Fatalf("expected default storage type memory, got %q", cfg.Storage.Type)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Fatalf("expected default dimension 384, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Ranking.Similarity != 0.5 || cfg.Ranking.Recency != 0.3 || cfg.Ranking.Frequency != 0.2 {
		t.Fatalf("unexpected default ranking weights: %+v", cfg.Ranking)
	}
	if cfg.Consolidation.ChunkSize != 100 {
		t.Fatalf("expected consolidation defaults applied, got %+v", cfg.Consolidation)
	}
}

func TestLoadHonorsStorageEnv(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("STORAGE_DSN", "postgres://localhost/hindsight")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Type != "postgres" {
		t.Fatalf("expected postgres, got %q", cfg.Storage.Type)
	}
	if cfg.Storage.DSN != "postgres://localhost/hindsight" {
		t.Fatalf("expected DSN passthrough, got %q", cfg.Storage.DSN)
	}
}

func TestLoadReadsTuningYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/hindsight.yaml"
	yamlDoc := "ranking:\n  similarity: 0.6\n  recency: 0.25\n  frequency: 0.15\nconsolidation:\n  chunkSize: 50\n  concurrency: 4\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	t.Setenv("HINDSIGHT_TUNING_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ranking.Similarity != 0.6 {
		t.Fatalf("expected ranking override applied, got %+v", cfg.Ranking)
	}
	if cfg.Consolidation.ChunkSize != 50 || cfg.Consolidation.Concurrency != 4 {
		t.Fatalf("expected consolidation override applied, got %+v", cfg.Consolidation)
	}
}

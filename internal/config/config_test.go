package config

import "testing"

func TestRankingConfigZeroValueDetection(t *testing.T) {
	var z RankingConfig
	if z != (RankingConfig{}) {
		t.Fatalf("expected zero value comparison to hold")
	}
	nz := RankingConfig{Similarity: 0.5, Recency: 0.3, Frequency: 0.2}
	if nz == (RankingConfig{}) {
		t.Fatalf("expected populated RankingConfig to differ from zero value")
	}
}

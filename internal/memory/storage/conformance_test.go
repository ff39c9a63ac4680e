package storage

import (
	"context"
	"testing"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/vectorindex"
)

// runConformance exercises the subset of spec §8's universal properties that
// are backend-shaped (write/read, export/import round-trip fidelity,
// similarity floor, access-count increments, delete) against any Backend
// implementation, the same way
// the teacher's databases_test.go drives each VectorStore/FullTextSearch
// implementation through one shared set of assertions.
func runConformance(t *testing.T, newBackend func() Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("write then read", func(t *testing.T) {
		b := newBackend()
		if err := b.Initialize(ctx); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		defer b.Close(ctx)

		f := fragment.Fragment{
			ID: "f1", Content: "hello", Type: fragment.Semantic,
			Namespace: "p:a", ProjectID: "p", AgentID: "a",
			Embedding: []float32{1, 0, 0}, Relevance: 0.5, Confidence: 0.5,
			CreatedAt: 100, UpdatedAt: 100, LastAccessedAt: 100,
			Tags: []string{},
		}
		if err := b.Write(ctx, f); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, ok, err := b.Read(ctx, "f1")
		if err != nil || !ok {
			t.Fatalf("read: ok=%v err=%v", ok, err)
		}
		if got.Content != "hello" {
			t.Fatalf("content mismatch: %q", got.Content)
		}
	})

	t.Run("round trip export import", func(t *testing.T) {
		src := newBackend()
		src.Initialize(ctx)
		defer src.Close(ctx)
		want := []fragment.Fragment{
			{ID: "a", Content: "x", Type: fragment.Episodic, Namespace: "p:a", ProjectID: "p", AgentID: "a",
				Embedding: []float32{1, 0}, Tags: []string{}, CreatedAt: 1, UpdatedAt: 1, LastAccessedAt: 1},
			{ID: "b", Content: "y", Type: fragment.Procedural, Namespace: "p:a", ProjectID: "p", AgentID: "a",
				Embedding: []float32{0, 1}, Tags: []string{"t1"}, CreatedAt: 2, UpdatedAt: 2, LastAccessedAt: 2},
		}
		if err := src.BulkWrite(ctx, want); err != nil {
			t.Fatalf("bulk write: %v", err)
		}
		exported, err := src.ExportAll(ctx, "")
		if err != nil {
			t.Fatalf("export: %v", err)
		}

		dst := newBackend()
		dst.Initialize(ctx)
		defer dst.Close(ctx)
		n, err := dst.ImportAll(ctx, exported)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		if n != len(want) {
			t.Fatalf("imported %d, want %d", n, len(want))
		}
		for _, f := range want {
			got, ok, err := dst.Read(ctx, f.ID)
			if err != nil || !ok {
				t.Fatalf("read back %s: ok=%v err=%v", f.ID, ok, err)
			}
			if got.Content != f.Content {
				t.Fatalf("round trip mismatch for %s: got %q want %q", f.ID, got.Content, f.Content)
			}
		}
	})

	t.Run("similarity floor excludes low sim", func(t *testing.T) {
		b := newBackend()
		b.Initialize(ctx)
		defer b.Close(ctx)
		b.BulkWrite(ctx, []fragment.Fragment{
			{ID: "close", Namespace: "p:a", ProjectID: "p", AgentID: "a", Embedding: []float32{1, 0}, Tags: []string{}, CreatedAt: 1, UpdatedAt: 1, LastAccessedAt: 1},
			{ID: "far", Namespace: "p:a", ProjectID: "p", AgentID: "a", Embedding: []float32{0, 1}, Tags: []string{}, CreatedAt: 1, UpdatedAt: 1, LastAccessedAt: 1},
		})
		scored, err := b.SearchByVector(ctx, []float32{1, 0}, 10, Filter{}, 0.9, vectorindex.DefaultWeights(), 1)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, s := range scored {
			if s.Fragment.ID == "far" {
				t.Fatalf("fragment below floor surfaced: %+v", s)
			}
		}
	})

	t.Run("increment access bumps count and timestamp", func(t *testing.T) {
		b := newBackend()
		b.Initialize(ctx)
		defer b.Close(ctx)
		if err := b.Write(ctx, fragment.Fragment{
			ID: "inc", Namespace: "p:a", ProjectID: "p", AgentID: "a",
			Embedding: []float32{1}, Tags: []string{}, AccessCount: 1, LastAccessedAt: 1,
		}); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, ok, err := b.IncrementAccess(ctx, "inc", 42)
		if err != nil || !ok {
			t.Fatalf("increment access: ok=%v err=%v", ok, err)
		}
		if got.AccessCount != 2 || got.LastAccessedAt != 42 {
			t.Fatalf("unexpected fragment after increment: %+v", got)
		}
		reread, ok, err := b.Read(ctx, "inc")
		if err != nil || !ok {
			t.Fatalf("reread: ok=%v err=%v", ok, err)
		}
		if reread.AccessCount != 2 {
			t.Fatalf("increment not persisted: %+v", reread)
		}
	})

	t.Run("increment access on missing id is not found", func(t *testing.T) {
		b := newBackend()
		b.Initialize(ctx)
		defer b.Close(ctx)
		_, ok, err := b.IncrementAccess(ctx, "missing", 1)
		if err != nil || ok {
			t.Fatalf("expected not found, ok=%v err=%v", ok, err)
		}
	})

	t.Run("delete removes fragment", func(t *testing.T) {
		b := newBackend()
		b.Initialize(ctx)
		defer b.Close(ctx)
		b.Write(ctx, fragment.Fragment{ID: "gone", Namespace: "p:a", ProjectID: "p", AgentID: "a", Embedding: []float32{1}, Tags: []string{}, CreatedAt: 1, UpdatedAt: 1, LastAccessedAt: 1})
		ok, err := b.Delete(ctx, "gone")
		if err != nil || !ok {
			t.Fatalf("delete: ok=%v err=%v", ok, err)
		}
		_, ok, err = b.Read(ctx, "gone")
		if err != nil || ok {
			t.Fatalf("expected not found after delete, ok=%v err=%v", ok, err)
		}
	})
}

func TestMemoryBackendConformance(t *testing.T) {
	t.Parallel()
	runConformance(t, func() Backend { return NewMemoryBackend(nil) })
}

func TestFileBackendConformance(t *testing.T) {
	t.Parallel()
	runConformance(t, func() Backend {
		return NewFileBackend(t.TempDir()+"/journal.json", nil)
	})
}

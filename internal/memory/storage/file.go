package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
	"hindsight/internal/memory/vectorindex"
)

// FileBackend is a single-file, durable Backend for storage_type "file" (the
// spec's "sqlite-like" category). The example pack carries no embedded SQL
// driver, so the idiomatic substitute is a JSON journal: an in-memory mirror
// backed by MemoryBackend, flushed atomically to disk on every mutating
// call using the same record shape as export_all/import_all.
type FileBackend struct {
	path string
	mu   sync.Mutex // serializes flushes; MemoryBackend guards its own map
	mem  *MemoryBackend
}

// NewFileBackend constructs a FileBackend rooted at path. The file is loaded
// (if present) during Initialize.
func NewFileBackend(path string, idx vectorindex.Index) *FileBackend {
	return &FileBackend{path: path, mem: NewMemoryBackend(idx)}
}

func (b *FileBackend) Initialize(ctx context.Context) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return herrors.Wrap(herrors.KindBackendUnavailable, "read journal file", err)
	}
	var fragments []fragment.Fragment
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fragments); err != nil {
			return herrors.Wrap(herrors.KindBackendUnavailable, "parse journal file", err)
		}
	}
	_, err = b.mem.ImportAll(ctx, fragments)
	return err
}

func (b *FileBackend) Close(context.Context) error { return nil }

func (b *FileBackend) IsAvailable(ctx context.Context) bool { return b.mem.IsAvailable(ctx) }

func (b *FileBackend) flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.mem.ExportAll(ctx, "")
	if err != nil {
		return err
	}
	data, err := json.Marshal(all)
	if err != nil {
		return herrors.Wrap(herrors.KindBackendUnavailable, "marshal journal", err)
	}
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".hindsight-journal-*")
	if err != nil {
		return herrors.Wrap(herrors.KindBackendUnavailable, "create temp journal", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return herrors.Wrap(herrors.KindBackendUnavailable, "write temp journal", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return herrors.Wrap(herrors.KindBackendUnavailable, "close temp journal", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return herrors.Wrap(herrors.KindBackendUnavailable, "rename temp journal", err)
	}
	return nil
}

func (b *FileBackend) Write(ctx context.Context, f fragment.Fragment) error {
	if err := b.mem.Write(ctx, f); err != nil {
		return err
	}
	return b.flush(ctx)
}

func (b *FileBackend) Read(ctx context.Context, id string) (fragment.Fragment, bool, error) {
	return b.mem.Read(ctx, id)
}

// IncrementAccess delegates to the in-memory mirror (atomic under its own
// lock) then flushes, matching the write-then-persist shape of every other
// mutating method on FileBackend.
func (b *FileBackend) IncrementAccess(ctx context.Context, id string, nowMS int64) (fragment.Fragment, bool, error) {
	f, ok, err := b.mem.IncrementAccess(ctx, id, nowMS)
	if err != nil || !ok {
		return f, ok, err
	}
	return f, true, b.flush(ctx)
}

func (b *FileBackend) BulkWrite(ctx context.Context, fragments []fragment.Fragment) error {
	if err := b.mem.BulkWrite(ctx, fragments); err != nil {
		return err
	}
	return b.flush(ctx)
}

func (b *FileBackend) BulkRead(ctx context.Context, ids []string) ([]fragment.Fragment, error) {
	return b.mem.BulkRead(ctx, ids)
}

func (b *FileBackend) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := b.mem.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	return ok, b.flush(ctx)
}

func (b *FileBackend) Query(ctx context.Context, filter Filter) ([]fragment.Fragment, error) {
	return b.mem.Query(ctx, filter)
}

func (b *FileBackend) Count(ctx context.Context, filter Filter) (int64, error) {
	return b.mem.Count(ctx, filter)
}

func (b *FileBackend) SearchByVector(ctx context.Context, embedding []float32, topK int, filter Filter, floor float64, w vectorindex.Weights, nowMS int64) ([]vectorindex.Scored, error) {
	return b.mem.SearchByVector(ctx, embedding, topK, filter, floor, w, nowMS)
}

func (b *FileBackend) ExportAll(ctx context.Context, namespace string) ([]fragment.Fragment, error) {
	return b.mem.ExportAll(ctx, namespace)
}

func (b *FileBackend) ImportAll(ctx context.Context, fragments []fragment.Fragment) (int, error) {
	n, err := b.mem.ImportAll(ctx, fragments)
	if err != nil {
		return n, err
	}
	return n, b.flush(ctx)
}

func (b *FileBackend) GetStats(ctx context.Context) (Stats, error) {
	return b.mem.GetStats(ctx)
}

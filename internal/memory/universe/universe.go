// Package universe implements the parallel-universe controller (C9): a
// friendlier fork/merge UX atop the namespace manager.
package universe

import (
	"context"
	"sync"

	"hindsight/internal/memory/fragment"
	"hindsight/internal/memory/herrors"
	"hindsight/internal/memory/namespace"
)

// Handle is the local context structure capturing one universe's fragment
// set, returned by CreateUniverse and refreshed by SyncUniverse.
type Handle struct {
	UniverseID    string
	BaseProjectID string
	BranchName    string
	Namespace     string
	Fragments     []fragment.Fragment
	CreatedAt     int64
}

// Controller offers create/sync/merge-back/list/get over namespace fork and
// merge.
type Controller struct {
	Manager *namespace.Manager
	Clock   fragment.Clock

	mu      sync.Mutex
	handles map[string]Handle
}

// NewController constructs a Controller with an empty handle table.
func NewController(manager *namespace.Manager, clock fragment.Clock) *Controller {
	return &Controller{Manager: manager, Clock: clock, handles: make(map[string]Handle)}
}

// CreateUniverse forks "{base}:main" into "{base}:{universeID}" and captures
// the resulting fragment set in a local handle.
func (c *Controller) CreateUniverse(ctx context.Context, universeID, baseProjectID, branchName string) (Handle, error) {
	source := baseProjectID + ":main"
	target := baseProjectID + ":" + universeID
	if _, err := c.Manager.Fork(ctx, source, target, false); err != nil {
		return Handle{}, err
	}
	fragments, err := c.Manager.Backend.ExportAll(ctx, target)
	if err != nil {
		return Handle{}, err
	}
	h := Handle{
		UniverseID: universeID, BaseProjectID: baseProjectID, BranchName: branchName,
		Namespace: target, Fragments: fragments, CreatedAt: c.Clock.NowMS(),
	}
	c.mu.Lock()
	c.handles[universeID] = h
	c.mu.Unlock()
	return h, nil
}

// SyncUniverse refreshes the captured fragment set by re-exporting the
// target namespace.
func (c *Controller) SyncUniverse(ctx context.Context, universeID string) (Handle, error) {
	c.mu.Lock()
	h, ok := c.handles[universeID]
	c.mu.Unlock()
	if !ok {
		return Handle{}, herrors.ErrUniverseNotFound.WithField("universe_id", universeID)
	}
	fragments, err := c.Manager.Backend.ExportAll(ctx, h.Namespace)
	if err != nil {
		return Handle{}, err
	}
	h.Fragments = fragments
	c.mu.Lock()
	c.handles[universeID] = h
	c.mu.Unlock()
	return h, nil
}

// MergeUniverseBack merges "{base}:{universeID}" into "{base}:main" and
// removes the universe handle on success.
func (c *Controller) MergeUniverseBack(ctx context.Context, universeID string) (namespace.MergeReport, error) {
	c.mu.Lock()
	h, ok := c.handles[universeID]
	c.mu.Unlock()
	if !ok {
		return namespace.MergeReport{}, herrors.ErrUniverseNotFound.WithField("universe_id", universeID)
	}
	report, err := c.Manager.Merge(ctx, h.Namespace, h.BaseProjectID+":main")
	if err != nil {
		return report, err
	}
	c.mu.Lock()
	delete(c.handles, universeID)
	c.mu.Unlock()
	return report, nil
}

// ListUniverses returns every known universe handle.
func (c *Controller) ListUniverses() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Handle, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, h)
	}
	return out
}

// GetUniverse looks up a single handle by id.
func (c *Controller) GetUniverse(universeID string) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[universeID]
	if !ok {
		return Handle{}, herrors.ErrUniverseNotFound.WithField("universe_id", universeID)
	}
	return h, nil
}

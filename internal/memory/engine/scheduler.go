package engine

import (
	"context"
	"time"
)

// StartConsolidationScheduler runs Consolidate every interval until
// StopConsolidationScheduler is called or ctx is cancelled. Calling it again
// while a scheduler is already running is a no-op; stop the existing one
// first. Errors from individual runs are logged, not surfaced, since nothing
// is waiting on them synchronously.
func (e *Engine) StartConsolidationScheduler(ctx context.Context, interval time.Duration) {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.schedStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	e.schedStop = stop
	e.schedDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				report, err := e.Consolidate(ctx)
				if err != nil {
					e.Logger.Error().Err(err).Msg("memory engine: scheduled consolidation failed")
					continue
				}
				e.Logger.Info().
					Int("merged", report.Merged).
					Int("archived", report.Archived).
					Int("decayed", report.Decayed).
					Int("deleted", report.Deleted).
					Bool("truncated", report.Truncated).
					Msg("memory engine: consolidation run complete")
			}
		}
	}()
}

// StopConsolidationScheduler stops a running scheduler, if any, and waits
// for its goroutine to exit.
func (e *Engine) StopConsolidationScheduler() {
	e.schedMu.Lock()
	stop, done := e.schedStop, e.schedDone
	e.schedStop, e.schedDone = nil, nil
	e.schedMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

package engine

import (
	"context"
	"time"

	"hindsight/internal/memory/herrors"
)

// withRetry runs fn once, and if it fails with a BackendUnavailable error,
// retries up to cfg.RetryAttempts more times with exponential backoff
// starting at RetryBaseDelay and capped at RetryMaxDelay (spec §7 "transient
// backend errors get one bounded retry before surfacing to the caller").
// Any other error kind, or a cancelled ctx, returns immediately.
func withRetry(ctx context.Context, cfg Config, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	delay := cfg.RetryBaseDelay
	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		if !herrors.Is(err, herrors.KindBackendUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err = fn()
		if err == nil {
			return nil
		}
		delay *= 2
		if delay > cfg.RetryMaxDelay {
			delay = cfg.RetryMaxDelay
		}
	}
	return err
}

// Package cleanup runs a background task on a fixed interval until its
// context is cancelled, with an immediate first pass so state left over
// from a previous crash or restart is flushed at startup rather than
// waiting out a full interval. Proof retention and the replication
// resweep are both driven by this shape.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// RunPeriodic runs fn immediately, then again on every tick of interval,
// until ctx is cancelled. The returned channel closes once the final
// pass (the one racing shutdown) has returned, so callers that need to
// wait for in-flight work to settle can block on it.
func RunPeriodic(ctx context.Context, interval time.Duration, label string, fn func(context.Context), logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				logger.Info("cleanup: stopping periodic task", "task", label)
				return
			}
		}
	}()
	return done
}

package kv

import (
	"context"
	"time"

	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/metrics"
)

// DefaultSweepInterval is how often expired keys are purged
const DefaultSweepInterval = 300 * time.Second

// errorBackoff is the pause after a failed sweep before the loop
// resumes.
const errorBackoff = 60 * time.Second

// Sweep runs the TTL sweeper until ctx is cancelled. Each tick deletes
// every expired row; errors are logged and the loop continues after a
// short back-off.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	logger := log.WithComponent("kv-sweeper")
	logger.Info().Dur("interval", interval).Msg("Starting KV cleanup task")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("KV cleanup task stopped")
			return
		case <-ticker.C:
		}

		start := time.Now()
		deleted, err := s.CleanupExpired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("KV cleanup failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		metrics.KVSweepsTotal.Inc()
		metrics.KVExpiredDeleted.Add(float64(deleted))

		if deleted > 0 {
			logger.Info().
				Int64("deleted", deleted).
				Dur("elapsed", time.Since(start)).
				Msg("KV cleanup removed expired keys")
		} else {
			logger.Debug().Dur("elapsed", time.Since(start)).Msg("KV cleanup: nothing expired")
		}
	}
}

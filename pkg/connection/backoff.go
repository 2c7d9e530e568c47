package connection

import (
	"context"
	"time"

	"github.com/grobertson/rosey/pkg/log"
)

// Backoff computes reconnect delays: initial doubled per attempt,
// capped at max. Attempt numbering starts at 1.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff matches the platform reconnect policy: 1s initial,
// 60s cap.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 60 * time.Second}

// Delay returns the delay before the given attempt
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Reconnect retries adapter.Connect with exponential backoff until it
// succeeds or ctx is cancelled.
func Reconnect(ctx context.Context, adapter Adapter, b Backoff) error {
	logger := log.WithComponent("connection")

	for attempt := 1; ; attempt++ {
		if err := adapter.Connect(ctx); err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Reconnected")
			}
			return nil
		} else {
			delay := b.Delay(attempt)
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("Connect failed")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

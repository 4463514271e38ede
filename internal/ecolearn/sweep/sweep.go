// Package sweep removes expired KV entries in the background.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is how often long-running commands sweep.
const DefaultInterval = 5 * time.Minute

// Sweeper deletes expired entries and reports how many it removed.
// *stores.KVStore implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Start sweeps every interval until ctx is cancelled. onSwept, when non-nil,
// receives the count of every successful sweep.
func Start(ctx context.Context, s Sweeper, interval time.Duration, onSwept func(int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("kv sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("kv sweep")
			}
			if onSwept != nil {
				onSwept(n)
			}
		}
	}
}

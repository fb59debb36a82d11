package noncestore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper purges aged-out nonce records on a fixed ticker. It runs on its
// own goroutine and never blocks launch-path calls: the stores only delete
// rows strictly older than the horizon, so an in-flight validation cannot
// race the sweep.
type Sweeper struct {
	Store  Store
	MaxAge time.Duration
	Every  time.Duration
	Log    zerolog.Logger
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	every := s.Every
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Store.PurgeOlderThan(ctx, s.MaxAge)
			if err != nil {
				s.Log.Error().Err(err).Msg("nonce sweep failed")
				continue
			}
			if n > 0 {
				s.Log.Debug().Int64("purged", n).Msg("nonce sweep")
			}
		}
	}
}

package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper drops one-use token records well past any plausible expiry.
// Retention runs much longer than the token lifetime so a late replay
// still hits the consumed path, not an absent row.
type Sweeper struct {
	Store     OneUseStore
	Retention time.Duration
	Every     time.Duration
	Log       zerolog.Logger
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	every := s.Every
	if every <= 0 {
		every = time.Hour
	}
	retention := s.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Store.PurgeOlderThan(ctx, retention)
			if err != nil {
				s.Log.Error().Err(err).Msg("one-use token sweep failed")
				continue
			}
			if n > 0 {
				s.Log.Debug().Int64("purged", n).Msg("one-use token sweep")
			}
		}
	}
}

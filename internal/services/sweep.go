package services

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StalePendingSweeper reports donations that never left pending. It only logs; there is no
// failed or expired status to move them to.
type StalePendingSweeper struct {
	store     DonationStore
	olderThan time.Duration
	now       func() time.Time
}

func NewStalePendingSweeper(store DonationStore, olderThan time.Duration) *StalePendingSweeper {
	return &StalePendingSweeper{store: store, olderThan: olderThan, now: time.Now}
}

// Run returns the number of stale pending donations found.
func (s *StalePendingSweeper) Run(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.olderThan)
	stale, err := s.store.ListStalePending(ctx, cutoff)
	if err != nil {
		log.Printf("Stale pending sweep failed: %v", err)
		return 0, err
	}

	for _, d := range stale {
		log.Printf("Stale pending donation: order=%s amount=%.2f purpose=%s created=%s",
			d.OrderID, d.Amount, d.Purpose, d.CreatedAt.Format(time.RFC3339))
	}
	if len(stale) > 0 {
		log.Printf("Stale pending sweep: %d donations pending longer than %s", len(stale), s.olderThan)
	}
	return len(stale), nil
}

// Schedule registers the sweep on c using a standard cron spec or descriptor such as @hourly.
func (s *StalePendingSweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Run(ctx)
	})
}

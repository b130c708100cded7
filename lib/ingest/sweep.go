package ingest

import (
	"context"
	"time"
)

type SweepResult struct {
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}

// Sweep expires deals past their expiry or older than DealMaxAge, then deletes
// expired deals older than ExpiredRetention.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	var err error

	res.Expired, err = s.store.ExpireDeals(ctx, now, now.Add(-s.cfg.DealMaxAge))
	if err != nil {
		s.log.Sugar().Errorw("Failed to expire deals", "err", err)
		return res, err
	}
	res.Purged, err = s.store.PurgeExpired(ctx, now.Add(-s.cfg.ExpiredRetention))
	if err != nil {
		s.log.Sugar().Errorw("Failed to purge expired deals", "err", err)
	}

	s.metrics.Swept("expired", res.Expired)
	s.metrics.Swept("purged", res.Purged)
	if res.Expired > 0 {
		s.invalidateFeed(ctx)
	}
	if res.Expired > 0 || res.Purged > 0 {
		s.log.Sugar().Infow("Swept deals", "expired", res.Expired, "purged", res.Purged)
	}
	return res, err
}

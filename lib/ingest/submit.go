package ingest

import (
	"context"

	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/normalizer"
)

// SubmitDeal pushes an operator-submitted deal through the same pipeline as a
// polled item.
func (s *Scheduler) SubmitDeal(ctx context.Context, sub models.ManualSubmission) (*models.Deal, dedup.Action, error) {
	now := s.now()
	deal, err := normalizer.Normalize(nil, sub, now)
	if err != nil {
		return nil, dedup.ActionDiscard, err
	}
	if err := normalizer.CheckFresh(deal, sub.Kind(), now, s.cfg.DealMaxAge); err != nil {
		return nil, dedup.ActionDiscard, err
	}
	deal.Fingerprint = dedup.Fingerprint(deal)
	deal.Score = s.scorer.Score(deal)

	action, err := s.store.UpsertDeal(ctx, deal, now)
	if err != nil {
		return nil, action, err
	}
	if action != dedup.ActionDiscard {
		s.invalidateFeed(ctx)
	}

	stored, err := s.store.GetDeal(ctx, deal.ID)
	if err != nil {
		return nil, action, err
	}
	return stored, action, nil
}

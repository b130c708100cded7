package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/metrics"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/normalizer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunSource performs one ingestion attempt for src and records it in the run
// ledger. A fetch failure counts against the source's health; a store failure
// aborts the run without blaming the source. Either way last_polled_at moves
// to the start of this attempt.
func (s *Scheduler) RunSource(ctx context.Context, src models.Source) (*models.IngestionRun, error) {
	startedAt := s.now()
	traceID := uuid.NewString()
	log := s.log.With(zap.String("source", src.Name), zap.String("trace_id", traceID))

	s.metrics.RunStarted()
	defer s.metrics.RunFinished()

	run, err := s.store.OpenRun(ctx, src.ID, traceID, startedAt)
	if err != nil {
		log.Sugar().Errorw("Failed to open ingestion run", "err", err)
		s.recordOutcome(ctx, &src, startedAt, false, false, err)
		return nil, err
	}

	runErr := s.ingest(ctx, log, &src, run)
	if runErr != nil {
		run.Status = models.RunStatusFailure
		run.Error = runErr.Error()
	} else {
		run.Status = models.RunStatusSuccess
	}

	// The ledger is closed even when the scheduler is shutting down.
	closeCtx := context.WithoutCancel(ctx)
	finishedAt := s.now()
	if err := s.store.CloseRun(closeCtx, run, finishedAt); err != nil {
		log.Sugar().Errorw("Failed to close ingestion run", "run_id", run.ID, "err", err)
	}

	var fetchErr *fetchFailure
	countFailure := errors.As(runErr, &fetchErr)
	s.recordOutcome(closeCtx, &src, startedAt, runErr == nil, countFailure, runErr)

	s.metrics.ObserveRun(src.Name, string(run.Status), finishedAt.Sub(startedAt), metrics.RunCounts{
		Fetched:   run.ItemsFetched,
		Created:   run.ItemsCreated,
		Updated:   run.ItemsUpdated,
		Duplicate: run.ItemsDiscardedDuplicate,
		Stale:     run.ItemsDiscardedStale,
		Failed:    run.ItemsFailed,
	})

	if runErr != nil {
		log.Sugar().Warnw("Ingestion run failed", "run_id", run.ID, "err", runErr)
	} else {
		log.Sugar().Infow("Ingestion run completed",
			"run_id", run.ID,
			"fetched", run.ItemsFetched,
			"created", run.ItemsCreated,
			"updated", run.ItemsUpdated,
			"duplicates", run.ItemsDiscardedDuplicate,
			"stale", run.ItemsDiscardedStale,
			"failed", run.ItemsFailed,
			"elapsed_msecs", finishedAt.Sub(startedAt).Milliseconds(),
		)
	}
	return run, runErr
}

// fetchFailure marks errors that are the source's fault.
type fetchFailure struct{ err error }

func (f *fetchFailure) Error() string { return f.err.Error() }
func (f *fetchFailure) Unwrap() error { return f.err }

func (s *Scheduler) ingest(ctx context.Context, log *zap.Logger, src *models.Source, run *models.IngestionRun) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	result, err := s.fetcher.Fetch(fetchCtx, src)
	cancel()
	if err != nil {
		return &fetchFailure{err}
	}

	run.ItemsFetched = result.Count() + result.Skipped
	run.ItemsFailed = result.Skipped

	fetchedAt := s.now()
	deals := make([]*models.Deal, 0, result.Count())
	for _, rec := range result.Records {
		deal, err := normalizer.Normalize(src, rec, fetchedAt)
		if err != nil {
			run.ItemsFailed++
			log.Sugar().Debugw("Discarded item", "err", err)
			continue
		}
		if err := normalizer.CheckFresh(deal, src.Type, fetchedAt, s.cfg.DealMaxAge); err != nil {
			run.ItemsDiscardedStale++
			continue
		}
		deal.Fingerprint = dedup.Fingerprint(deal)
		deal.Score = s.scorer.Score(deal)
		deals = append(deals, deal)
	}

	deals, collapsed := dedup.Collapse(deals)
	run.ItemsDiscardedDuplicate += collapsed

	defer func() {
		if run.ItemsCreated+run.ItemsUpdated > 0 {
			s.invalidateFeed(context.WithoutCancel(ctx))
		}
	}()
	for _, deal := range deals {
		action, err := s.store.UpsertDeal(ctx, deal, fetchedAt)
		if err != nil {
			return err
		}
		switch action {
		case dedup.ActionInsert:
			run.ItemsCreated++
		case dedup.ActionUpdate:
			run.ItemsUpdated++
		case dedup.ActionDiscard:
			run.ItemsDiscardedDuplicate++
		}
	}
	return nil
}

func (s *Scheduler) recordOutcome(ctx context.Context, src *models.Source, polledAt time.Time, success, countFailure bool, cause error) {
	prev, next, err := s.store.RecordPollOutcome(ctx, src.ID, polledAt, success, countFailure)
	if err != nil {
		s.log.Sugar().Errorw("Failed to record poll outcome", "source", src.Name, "err", err)
		return
	}
	s.metrics.SetFailCount(src.Name, next)

	transition := s.policy.Between(prev, next)
	if !transition.Changed() {
		return
	}
	s.log.Sugar().Warnw("Source health changed",
		"source", src.Name, "from", transition.From, "to", transition.To, "fail_count", next)

	if s.alerter == nil {
		return
	}
	alert := HealthAlert{
		Source:     *src,
		Transition: transition,
		FailCount:  next,
		At:         polledAt,
	}
	if cause != nil {
		alert.LastError = cause.Error()
	}
	if err := s.alerter.SourceHealthChanged(ctx, alert); err != nil {
		s.log.Sugar().Errorw("Failed to send health alert", "source", src.Name, "err", err)
	}
}

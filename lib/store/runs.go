package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
)

func (s *Store) OpenRun(ctx context.Context, sourceID uint, traceID string, startedAt time.Time) (*models.IngestionRun, error) {
	run := &models.IngestionRun{
		SourceID:  sourceID,
		StartedAt: startedAt,
		Status:    models.RunStatusRunning,
		TraceID:   traceID,
	}
	err := s.db.WithContext(ctx).Create(run).Error
	return run, persistence("open run", err)
}

// CloseRun writes the run's outcome and counts. A run is closed exactly once;
// later attempts get ErrRunClosed.
func (s *Store) CloseRun(ctx context.Context, run *models.IngestionRun, finishedAt time.Time) error {
	tx := s.db.WithContext(ctx).
		Model(&models.IngestionRun{}).
		Where("id = ? AND finished_at IS NULL", run.ID).
		Updates(map[string]any{
			"finished_at":               finishedAt,
			"status":                    run.Status,
			"items_fetched":             run.ItemsFetched,
			"items_created":             run.ItemsCreated,
			"items_updated":             run.ItemsUpdated,
			"items_discarded_duplicate": run.ItemsDiscardedDuplicate,
			"items_discarded_stale":     run.ItemsDiscardedStale,
			"items_failed":              run.ItemsFailed,
			"error":                     run.Error,
		})
	if tx.Error != nil {
		return persistence("close run", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrRunClosed
	}
	run.FinishedAt = sql.NullTime{Time: finishedAt, Valid: true}
	return nil
}

func (s *Store) RecentRuns(ctx context.Context, sourceID uint, limit int) (models.IngestionRuns, error) {
	if limit <= 0 || limit > MaxFeedLimit {
		limit = DefaultFeedLimit
	}
	runs := make(models.IngestionRuns, 0)
	err := s.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, persistence("recent runs", err)
}

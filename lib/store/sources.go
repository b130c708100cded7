package store

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) ListSources(ctx context.Context) (models.Sources, error) {
	var sources models.Sources
	err := s.db.WithContext(ctx).Order("id").Find(&sources).Error
	return sources, persistence("list sources", err)
}

func (s *Store) GetSource(ctx context.Context, id uint) (*models.Source, error) {
	var src models.Source
	err := s.db.WithContext(ctx).First(&src, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistence("get source", err)
	}
	return &src, nil
}

// SeedSources creates configured sources that do not exist yet. Sources already
// present by name keep their stored state, including operator edits.
func (s *Store) SeedSources(ctx context.Context, sources models.Sources) (int64, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&sources)
	return tx.RowsAffected, persistence("seed sources", tx.Error)
}

// UpdateSource applies an operator patch and returns the updated row.
func (s *Store) UpdateSource(ctx context.Context, id uint, patch models.SourcePatch) (*models.Source, error) {
	updates := map[string]any{}
	if patch.Enabled != nil {
		updates["enabled"] = *patch.Enabled
	}
	if patch.PollInterval != nil {
		updates["poll_interval"] = *patch.PollInterval
	}
	if patch.Endpoint != nil {
		updates["endpoint"] = *patch.Endpoint
	}
	if patch.ResetLastPolled {
		updates["last_polled_at"] = nil
	}

	if len(updates) > 0 {
		tx := s.db.WithContext(ctx).
			Model(&models.Source{}).
			Where("id = ?", id).
			Updates(updates)
		if tx.Error != nil {
			return nil, persistence("update source", tx.Error)
		}
		if tx.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetSource(ctx, id)
}

// RecordPollOutcome stamps last_polled_at and moves fail_count: reset on
// success, incremented on a counted failure, untouched otherwise. It returns
// the fail count before and after.
func (s *Store) RecordPollOutcome(ctx context.Context, id uint, polledAt time.Time, success, countFailure bool) (prev, next int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src models.Source
		if err := tx.Select("id", "fail_count").First(&src, id).Error; err != nil {
			return err
		}
		prev = src.FailCount

		updates := map[string]any{"last_polled_at": polledAt}
		switch {
		case success:
			updates["fail_count"] = 0
		case countFailure:
			updates["fail_count"] = gorm.Expr("fail_count + 1")
		}
		if err := tx.Model(&models.Source{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&models.Source{}).Select("fail_count").Where("id = ?", id).Scan(&next).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, ErrNotFound
	}
	return prev, next, persistence("record poll outcome", err)
}

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/models"
	"gorm.io/gorm"
)

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// UpsertDeal looks up the active deal with d's fingerprint and inserts, updates
// or discards d accordingly, all in one transaction. When only an expired row
// carries the fingerprint, that row is reactivated as an update. If a concurrent writer
// inserts the same fingerprint first, the lookup is retried once so d lands as
// an update instead of a second row.
//
// d must already carry its fingerprint and score. On insert and update d.ID is
// set to the stored row's id.
func (s *Store) UpsertDeal(ctx context.Context, d *models.Deal, now time.Time) (dedup.Action, error) {
	action, err := s.upsertDeal(ctx, d, now)
	if isUniqueViolation(err) {
		action, err = s.upsertDeal(ctx, d, now)
	}
	return action, persistence("upsert deal", err)
}

func (s *Store) upsertDeal(ctx context.Context, d *models.Deal, now time.Time) (dedup.Action, error) {
	var action dedup.Action
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Deal
		res := tx.
			Where("fingerprint = ? AND status = ?", d.Fingerprint, models.DealStatusActive).
			Limit(1).
			Find(&existing)
		if res.Error != nil {
			return res.Error
		}

		var stored *models.Deal
		if res.RowsAffected > 0 {
			stored = &existing
		} else {
			revived, err := reviveExpired(tx, d, now)
			if err != nil {
				return err
			}
			if revived {
				action = dedup.ActionUpdate
				return nil
			}
		}

		action = dedup.Decide(stored, d)
		switch action {
		case dedup.ActionInsert:
			d.ID = 0
			d.Status = models.DealStatusActive
			d.UpdatedAt = now
			return tx.Create(d).Error

		case dedup.ActionUpdate:
			dedup.ApplyUpdate(stored, d)
			stored.UpdatedAt = now
			if err := tx.Save(stored).Error; err != nil {
				return err
			}
			d.ID = stored.ID

		case dedup.ActionDiscard:
			d.ID = stored.ID
		}
		return nil
	})
	return action, err
}

// reviveExpired reactivates the latest expired row with d's fingerprint, if any.
func reviveExpired(tx *gorm.DB, d *models.Deal, now time.Time) (bool, error) {
	var expired models.Deal
	res := tx.
		Where("fingerprint = ? AND status = ?", d.Fingerprint, models.DealStatusExpired).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&expired)
	if res.Error != nil || res.RowsAffected == 0 {
		return false, res.Error
	}

	dedup.Revive(&expired, d)
	expired.UpdatedAt = now
	if err := tx.Save(&expired).Error; err != nil {
		return false, err
	}
	d.ID = expired.ID
	return true, nil
}

func (s *Store) GetDeal(ctx context.Context, id uint) (*models.Deal, error) {
	var d models.Deal
	err := s.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistence("get deal", err)
	}
	return &d, nil
}

// GetDealFeed pages through active deals, newest first and then highest score.
func (s *Store) GetDealFeed(ctx context.Context, q models.FeedQuery) (models.Deals, error) {
	q = ClampFeedQuery(q)

	tx := s.db.WithContext(ctx).
		Model(&models.Deal{}).
		Where("status = ?", models.DealStatusActive)

	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		tx = tx.Where("LOWER(title) LIKE ? ESCAPE '\\'", "%"+escapeLike(search)+"%")
	}
	if merchant := strings.TrimSpace(q.Merchant); merchant != "" {
		tx = tx.Where("LOWER(merchant) = ?", strings.ToLower(merchant))
	}
	if category := strings.TrimSpace(q.Category); category != "" {
		tx = tx.Where("category = ?", strings.ToLower(category))
	}
	if q.MinScore > 0 {
		tx = tx.Where("score >= ?", q.MinScore)
	}

	deals := make(models.Deals, 0)
	err := tx.
		Order("posted_at DESC").
		Order("score DESC").
		Order("id DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&deals).Error
	if err != nil {
		return nil, persistence("get deal feed", err)
	}
	return deals, nil
}

// ClampFeedQuery applies the default page size and bounds.
func ClampFeedQuery(q models.FeedQuery) models.FeedQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultFeedLimit
	case q.Limit > MaxFeedLimit:
		q.Limit = MaxFeedLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ExpireDeals marks active deals expired once expires_at has passed or they
// were posted before postedBefore.
func (s *Store) ExpireDeals(ctx context.Context, now, postedBefore time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Model(&models.Deal{}).
		Where("status = ?", models.DealStatusActive).
		Where("((expires_at IS NOT NULL AND expires_at <= ?) OR posted_at < ?)", now, postedBefore).
		Updates(map[string]any{
			"status":     models.DealStatusExpired,
			"updated_at": now,
		})
	return tx.RowsAffected, persistence("expire deals", tx.Error)
}

// PurgeExpired deletes expired deals last touched before cutoff.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.DealStatusExpired, cutoff).
		Delete(&models.Deal{})
	return tx.RowsAffected, persistence("purge expired deals", tx.Error)
}

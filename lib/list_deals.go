package lib

import (
	"context"
	"errors"

	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/metrics"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/store"
	"go.uber.org/zap"
)

type dealFeed struct {
	log     *zap.Logger
	store   *store.Store
	feed    *cache.FeedCache
	metrics *metrics.Metrics
}

// ListDeals serves a feed page from cache when it can and from the store
// otherwise. A cache outage degrades to a store read; it is never an error.
func (svc *dealFeed) ListDeals(ctx context.Context, q models.FeedQuery) (models.Deals, bool, error) {
	q = store.ClampFeedQuery(q)

	var pageKey string
	if svc.feed != nil {
		deals, key, err := svc.feed.Get(ctx, q)
		pageKey = key
		switch {
		case err == nil:
			svc.metrics.FeedServed(true)
			return deals, true, nil
		case errors.Is(err, cache.ErrUnavailable):
			svc.log.Sugar().Warnw("Feed cache unavailable, reading from store", "err", err)
		}
	}

	deals, err := svc.store.GetDealFeed(ctx, q)
	if err != nil {
		return nil, false, err
	}
	svc.metrics.FeedServed(false)

	if pageKey != "" {
		if err := svc.feed.Set(ctx, pageKey, deals); err != nil {
			svc.log.Sugar().Debugw("Failed to fill feed cache", "err", err)
		}
	}
	return deals, false, nil
}

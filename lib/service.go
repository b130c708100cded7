package lib

import (
	"context"

	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/ingest"
	"github.com/fiffu/dealwatch/lib/metrics"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/search"
	"github.com/fiffu/dealwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is what the API talks to.
type Service struct {
	log    *zap.Logger
	store  *store.Store
	sched  *ingest.Scheduler
	search *search.Orchestrator

	*dealFeed
	*sourceAdmin
}

func NewService(lc fx.Lifecycle, log *zap.Logger, st *store.Store, sched *ingest.Scheduler, orch *search.Orchestrator, feed *cache.FeedCache, m *metrics.Metrics) *Service {
	return &Service{
		log, st, sched, orch,
		&dealFeed{log, st, feed, m},
		&sourceAdmin{log, st, sched.Policy()},
	}
}

func (svc *Service) GetDeal(ctx context.Context, id uint) (*models.Deal, error) {
	return svc.store.GetDeal(ctx, id)
}

func (svc *Service) SubmitDeal(ctx context.Context, sub models.ManualSubmission) (*models.Deal, dedup.Action, error) {
	deal, action, err := svc.sched.SubmitDeal(ctx, sub)
	if err != nil {
		return nil, action, err
	}
	svc.log.Sugar().Infow("Accepted manual deal", "deal_id", deal.ID, "action", action)
	return deal, action, nil
}

func (svc *Service) Search(ctx context.Context, query, country string, providers []string) (*search.Response, error) {
	return svc.search.Search(ctx, query, country, providers)
}

func (svc *Service) FlushSearch(ctx context.Context, query, country string, providers []string) (int64, error) {
	n, err := svc.search.Flush(ctx, query, country, providers)
	if err != nil {
		return 0, err
	}
	svc.log.Sugar().Infow("Flushed search cache", "query", query, "country", country, "deleted", n)
	return n, nil
}

func (svc *Service) SearchProviders() []string {
	return svc.search.Providers()
}

func (svc *Service) Budgets() []search.BudgetStatus {
	return svc.search.Budgets()
}

package app

import (
	"context"
	"net/http"

	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib/budget"
	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/fetcher"
	"github.com/fiffu/dealwatch/lib/ingest"
	"github.com/fiffu/dealwatch/lib/metrics"
	"github.com/fiffu/dealwatch/lib/scorer"
	"github.com/fiffu/dealwatch/lib/search"
	"github.com/fiffu/dealwatch/lib/store"
	"github.com/fiffu/dealwatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewFetcher(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) fetcher.Fetcher {
	return fetcher.NewRegistry(transport, log, cfg.FetcherOptions())
}

func NewScorer(cfg *config.Config) *scorer.Scorer {
	return scorer.New(cfg.Catalog().ScoringPolicy())
}

func NewScheduler(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	st *store.Store,
	f fetcher.Fetcher,
	sc *scorer.Scorer,
	feed *cache.FeedCache,
	alerter *senders.Alerter,
	m *metrics.Metrics,
) *ingest.Scheduler {
	sched := ingest.NewScheduler(cfg.IngestConfig(), ingest.Deps{
		Store:   st,
		Fetcher: f,
		Scorer:  sc,
		Feed:    feed,
		Alerter: alerter,
		Metrics: m,
		Log:     log,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The start context ends with startup; the scheduler lives until OnStop.
			sched.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop scheduler")
			sched.Stop()
			return nil
		},
	})
	return sched
}

func NewGuard(cfg *config.Config) *budget.Guard {
	return budget.NewGuard(cfg.Catalog().Budgets(), cfg.Search.BudgetWindow, nil)
}

func NewProviders(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) []search.Provider {
	confs := cfg.Catalog().Providers
	providers := make([]search.Provider, 0, len(confs))
	for _, pc := range confs {
		providers = append(providers, search.NewHTTPProvider(pc, transport, log))
	}
	if len(providers) == 0 {
		log.Sugar().Info("Search is disabled since no providers are configured")
	}
	return providers
}

func NewOrchestrator(cfg *config.Config, log *zap.Logger, providers []search.Provider, c cache.Cache, guard *budget.Guard, m *metrics.Metrics) *search.Orchestrator {
	return search.NewOrchestrator(providers, c, guard, cfg.SearchOptions(), log, m)
}

package lib

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fiffu/dealwatch/lib/budget"
	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/ingest"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/registry"
	"github.com/fiffu/dealwatch/lib/search"
	"github.com/fiffu/dealwatch/lib/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *store.Store, *miniredis.Miniredis) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "service.sqlite") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard, TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, store.Migrate(db))
	st := store.New(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	kv := cache.NewRedisCache(client)
	feed := cache.NewFeedCache(kv, time.Minute)

	sched := ingest.NewScheduler(ingest.Config{DegradedAfter: 3}, ingest.Deps{Store: st, Feed: feed, Log: zap.NewNop()})
	provider := search.ProviderFunc{
		ProviderName: "shopfinder",
		Fn: func(ctx context.Context, query, country string) (models.SearchResults, error) {
			return models.SearchResults{{Title: "Kindle", URL: "https://shop.example.com/kindle", Price: decimal.NewFromInt(90)}}, nil
		},
	}
	orch := search.NewOrchestrator([]search.Provider{provider}, kv,
		budget.NewGuard(map[string]int{"shopfinder": 2}, time.Hour, nil), search.Options{}, zap.NewNop(), nil)

	svc := NewService(fxtest.NewLifecycle(t), zap.NewNop(), st, sched, orch, feed, nil)
	return svc, st, mr
}

func submission(title, price string) models.ManualSubmission {
	return models.ManualSubmission{
		Title: title,
		URL:   "https://shop.example.com/" + title,
		Price: price,
	}
}

func TestListDeals_CacheFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, action, err := svc.SubmitDeal(ctx, submission("lamp", "$25"))
	require.NoError(t, err)
	assert.Equal(t, dedup.ActionInsert, action)

	deals, hit, err := svc.ListDeals(ctx, models.FeedQuery{})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, deals, 1)

	deals, hit, err = svc.ListDeals(ctx, models.FeedQuery{})
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, deals, 1)
	assert.Equal(t, first.ID, deals[0].ID)
	assert.True(t, deals[0].Price.Equal(decimal.NewFromInt(25)))

	_, _, err = svc.SubmitDeal(ctx, submission("desk", "$120"))
	require.NoError(t, err)

	deals, hit, err = svc.ListDeals(ctx, models.FeedQuery{})
	require.NoError(t, err)
	assert.False(t, hit, "a new deal invalidates cached pages")
	assert.Len(t, deals, 2)
}

func TestListDeals_CacheDownFallsBackToStore(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.SubmitDeal(ctx, submission("lamp", "$25"))
	require.NoError(t, err)
	mr.Close()

	deals, hit, err := svc.ListDeals(ctx, models.FeedQuery{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, deals, 1)
}

func TestSourceAdmin(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := st.SeedSources(ctx, models.Sources{{
		Name: "slickdeals", Type: models.SourceTypeRSS, Enabled: true,
		Endpoint: "https://slickdeals.net/rss", PollInterval: time.Hour,
	}})
	require.NoError(t, err)
	_, _, err = st.RecordPollOutcome(ctx, 1, time.Now().UTC(), false, true)
	require.NoError(t, err)

	sources, err := svc.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, registry.Healthy, sources[0].Health)
	assert.True(t, sources[0].LastPolledAt.Valid)

	disabled := false
	interval := 30 * time.Minute
	updated, err := svc.UpdateSource(ctx, 1, models.SourcePatch{Enabled: &disabled, PollInterval: &interval})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, interval, updated.PollInterval)
	assert.Equal(t, 1, updated.FailCount)

	repolled, err := svc.Repoll(ctx, 1)
	require.NoError(t, err)
	assert.False(t, repolled.LastPolledAt.Valid)

	_, err = svc.UpdateSource(ctx, 1, models.SourcePatch{})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	short := time.Second
	_, err = svc.UpdateSource(ctx, 1, models.SourcePatch{PollInterval: &short})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	bad := "ftp://slickdeals.net"
	_, err = svc.UpdateSource(ctx, 1, models.SourcePatch{Endpoint: &bad})
	assert.ErrorIs(t, err, ErrInvalidPatch)

	_, err = svc.UpdateSource(ctx, 99, models.SourcePatch{Enabled: &disabled})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.SourceRuns(ctx, 99, 10)
	assert.ErrorIs(t, err, store.ErrNotFound)

	runs, err := svc.SourceRuns(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSearchAndFlush(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Search(ctx, "kindle", "", nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, search.OutcomeFetched, resp.Providers[0].Outcome)

	resp, err = svc.Search(ctx, "Kindle ", "us", nil)
	require.NoError(t, err)
	assert.Equal(t, search.OutcomeCacheHit, resp.Providers[0].Outcome)

	n, err := svc.FlushSearch(ctx, "kindle", "US", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Equal(t, []string{"shopfinder"}, svc.SearchProviders())
	budgets := svc.Budgets()
	require.Len(t, budgets, 1)
	assert.Equal(t, 1, budgets[0].Used)
}

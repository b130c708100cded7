package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib"
	"github.com/fiffu/dealwatch/lib/budget"
	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/ingest"
	"github.com/fiffu/dealwatch/lib/models"
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

type apiFixture struct {
	srv   *httptest.Server
	store *store.Store
	redis *miniredis.Miniredis
}

func newAPIFixture(t *testing.T, cfg *config.Config, providerErr error) *apiFixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "api.sqlite") + "?_busy_timeout=5000"
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

	reg := NewMetricsRegistry()
	m := NewMetrics(reg)

	sched := ingest.NewScheduler(ingest.Config{}, ingest.Deps{Store: st, Feed: feed, Metrics: m, Log: zap.NewNop()})
	provider := search.ProviderFunc{
		ProviderName: "shopfinder",
		Fn: func(ctx context.Context, query, country string) (models.SearchResults, error) {
			if providerErr != nil {
				return nil, providerErr
			}
			return models.SearchResults{{Title: "Kindle Paperwhite", URL: "https://shop.example.com/kindle", Price: decimal.NewFromInt(90)}}, nil
		},
	}
	orch := search.NewOrchestrator([]search.Provider{provider}, kv,
		budget.NewGuard(map[string]int{"shopfinder": 10}, time.Hour, nil), search.Options{}, zap.NewNop(), m)
	svc := lib.NewService(fxtest.NewLifecycle(t), zap.NewNop(), st, sched, orch, feed, m)

	if cfg == nil {
		cfg = &config.Config{}
	}
	srv := httptest.NewServer(router(cfg, zap.NewNop(), svc, reg))
	t.Cleanup(srv.Close)
	return &apiFixture{srv, st, mr}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	status, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestAPI_Deals(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	submission := `{"title": "Anker 737 power bank", "url": "https://shop.example.com/anker-737", "price": "$89.99", "original_price": "$149.99", "category": "Electronics"}`

	status, body := f.do(t, http.MethodPost, "/api/deals", submission)
	require.Equal(t, http.StatusCreated, status, body)
	var created struct {
		Action string   `json:"action"`
		Deal   DealView `json:"deal"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.Equal(t, "insert", created.Action)
	assert.Equal(t, "89.99", created.Deal.Price)
	require.NotNil(t, created.Deal.OriginalPrice)
	assert.Equal(t, "149.99", *created.Deal.OriginalPrice)
	require.NotNil(t, created.Deal.DiscountPercentage)
	assert.EqualValues(t, 40, *created.Deal.DiscountPercentage)
	assert.Equal(t, "manual", created.Deal.Source)
	assert.Equal(t, "electronics", created.Deal.Category)

	status, body = f.do(t, http.MethodPost, "/api/deals", submission)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"action":"discard"`)

	status, _ = f.do(t, http.MethodPost, "/api/deals", `{"title": "Free stuff", "url": "https://x.example.com", "price": "free"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/deals", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/deals?category=electronics&limit=500", "")
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Deals    []DealView `json:"deals"`
		Limit    int        `json:"limit"`
		CacheHit bool       `json:"cache_hit"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	require.Len(t, page.Deals, 1)
	assert.Equal(t, created.Deal.ID, page.Deals[0].ID)
	assert.Equal(t, store.MaxFeedLimit, page.Limit)
	assert.False(t, page.CacheHit)

	status, body = f.do(t, http.MethodGet, "/api/deals?category=electronics&limit=500", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"cache_hit":true`)

	status, _ = f.do(t, http.MethodGet, "/api/deals/999", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/api/deals/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_Search(t *testing.T) {
	f := newAPIFixture(t, nil, nil)

	status, body := f.do(t, http.MethodGet, "/api/search?q=kindle&country=us", "")
	require.Equal(t, http.StatusOK, status, body)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "US", resp.Country)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, search.OutcomeFetched, resp.Providers[0].Outcome)

	status, _ = f.do(t, http.MethodGet, "/api/search?q=%20", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/search/budgets", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"used":1`)

	status, body = f.do(t, http.MethodDelete, "/api/search/cache?q=kindle&country=US", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"deleted": 1}`, body)
}

func TestAPI_SearchUnavailable(t *testing.T) {
	f := newAPIFixture(t, nil, errors.New("provider down"))
	f.redis.Close()

	status, _ := f.do(t, http.MethodGet, "/api/search?q=kindle", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAPI_Sources(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	_, err := f.store.SeedSources(context.Background(), models.Sources{{
		Name: "slickdeals", Type: models.SourceTypeRSS, Enabled: true,
		Endpoint: "https://slickdeals.net/rss", PollInterval: 15 * time.Minute,
	}})
	require.NoError(t, err)

	status, body := f.do(t, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, status)
	var sources []SourceView
	require.NoError(t, json.Unmarshal([]byte(body), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "15m0s", sources[0].PollInterval)
	assert.Equal(t, "healthy", sources[0].Health)

	status, body = f.do(t, http.MethodPatch, "/api/sources/1", `{"enabled": false, "poll_interval": "1h"}`)
	require.Equal(t, http.StatusOK, status, body)
	var updated SourceView
	require.NoError(t, json.Unmarshal([]byte(body), &updated))
	assert.False(t, updated.Enabled)
	assert.Equal(t, "1h0m0s", updated.PollInterval)

	status, _ = f.do(t, http.MethodPatch, "/api/sources/1", `{"poll_interval": "soon"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPatch, "/api/sources/1", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPatch, "/api/sources/42", `{"enabled": true}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/api/sources/1/repoll", "")
	assert.Equal(t, http.StatusAccepted, status)

	status, body = f.do(t, http.MethodGet, "/api/sources/1/runs", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, body)
}

func TestAPI_Metrics(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.do(t, http.MethodGet, "/api/deals", "")

	status, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "dealwatch_ingest_runs_in_flight")
	assert.Contains(t, body, `dealwatch_feed_requests_total{cache="miss"} 1`)
}

func TestAPI_BasicAuth(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("BASIC_AUTH_CREDS", "ops:hunter2")
	t.Setenv("CATALOG_FILE", filepath.Join(t.TempDir(), "none.yaml"))
	cfg, err := config.Load(zap.NewNop())
	require.NoError(t, err)
	f := newAPIFixture(t, cfg, nil)

	status, _ := f.do(t, http.MethodGet, "/api/sources", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/sources", nil)
	require.NoError(t, err)
	req.SetBasicAuth("ops", "hunter2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
}

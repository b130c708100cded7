package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fiffu/dealwatch/lib/budget"
	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingProvider struct {
	name  string
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Search(ctx context.Context, query, country string) (models.SearchResults, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return models.SearchResults{{
		Provider: p.name,
		Title:    "Fluval 307 for " + query,
		URL:      fmt.Sprintf("https://%s.example.com/%s/fluval", p.name, country),
		Price:    decimal.NewFromInt(180),
	}}, nil
}

func newTestCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedisCache(client), mr
}

func newOrchestrator(c cache.Cache, limits map[string]int, providers ...Provider) *Orchestrator {
	guard := budget.NewGuard(limits, 24*time.Hour, nil)
	return NewOrchestrator(providers, c, guard, Options{
		CacheVersion:    1,
		CacheTTL:        time.Hour,
		ProviderTimeout: 200 * time.Millisecond,
	}, zap.NewNop(), nil)
}

func TestSearch_BudgetExhaustedProviderIsSkipped(t *testing.T) {
	c, mr := newTestCache(t)
	a := &countingProvider{name: "a"}
	b := &countingProvider{name: "b"}
	o := newOrchestrator(c, map[string]int{"a": 0, "b": 10}, a, b)
	ctx := context.Background()

	resp, err := o.Search(ctx, "Fluval filter", "US", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].Provider)
	assert.Equal(t, []ProviderReport{
		{Provider: "a", Outcome: OutcomeBudgetExhausted},
		{Provider: "b", Outcome: OutcomeFetched, Results: 1},
	}, resp.Providers)
	assert.EqualValues(t, 0, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())

	assert.True(t, mr.Exists(cache.SearchKey(1, "b", "US", "fluval filter")))
	assert.False(t, mr.Exists(cache.SearchKey(1, "a", "US", "fluval filter")))

	again, err := o.Search(ctx, "  fluval   FILTER ", "us", []string{"a", "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.calls.Load(), "served from cache")
	assert.Equal(t, OutcomeCacheHit, again.Providers[1].Outcome)
	assert.Equal(t, resp.Results[0].URL, again.Results[0].URL)
	assert.Equal(t, 9, o.guard.Remaining("b"))
}

func TestSearch_ConcurrentCallsNeverExceedBudget(t *testing.T) {
	c, _ := newTestCache(t)
	p := &countingProvider{name: "p", delay: 10 * time.Millisecond}
	o := newOrchestrator(c, map[string]int{"p": 3}, p)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Search(context.Background(), fmt.Sprintf("query %d", i), "US", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 3, p.calls.Load())
	assert.Equal(t, 0, o.guard.Remaining("p"))
}

func TestSearch_IdenticalMissesAreCoalesced(t *testing.T) {
	c, _ := newTestCache(t)
	p := &countingProvider{name: "p", delay: 50 * time.Millisecond}
	o := newOrchestrator(c, map[string]int{"p": 10}, p)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := o.Search(context.Background(), "fluval filter", "US", nil)
			assert.NoError(t, err)
			assert.Len(t, resp.Results, 1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.calls.Load(), int32(5))
	assert.Equal(t, 10-int(p.calls.Load()), o.guard.Remaining("p"))
}

func TestSearch_FailuresReleaseBudget(t *testing.T) {
	c, _ := newTestCache(t)
	slow := &countingProvider{name: "slow", delay: time.Second}
	broken := &countingProvider{name: "broken", err: errors.New("boom")}
	ok := &countingProvider{name: "ok"}
	o := newOrchestrator(c, map[string]int{"slow": 1, "broken": 1, "ok": 1}, slow, broken, ok)

	resp, err := o.Search(context.Background(), "fluval", "US", nil)
	require.NoError(t, err)
	require.Len(t, resp.Providers, 3)
	assert.Equal(t, OutcomeTimeout, resp.Providers[0].Outcome)
	assert.Equal(t, OutcomeFailed, resp.Providers[1].Outcome)
	assert.Equal(t, OutcomeFetched, resp.Providers[2].Outcome)
	require.Len(t, resp.Results, 1)

	assert.Equal(t, 1, o.guard.Remaining("slow"))
	assert.Equal(t, 1, o.guard.Remaining("broken"))
	assert.Equal(t, 0, o.guard.Remaining("ok"))
}

func TestSearch_CacheDown(t *testing.T) {
	c, mr := newTestCache(t)
	ok := &countingProvider{name: "ok"}
	broken := &countingProvider{name: "broken", err: errors.New("boom")}
	mr.Close()

	o := newOrchestrator(c, map[string]int{"ok": 5, "broken": 5}, ok, broken)
	resp, err := o.Search(context.Background(), "fluval", "US", []string{"ok"})
	require.NoError(t, err, "a provider answered, so the cache outage is invisible")
	assert.Len(t, resp.Results, 1)

	_, err = o.Search(context.Background(), "fluval", "US", []string{"broken"})
	assert.ErrorIs(t, err, ErrTemporarilyUnavailable)
}

func TestSearch_NoBudgetAnywhereIsEmptyNotUnavailable(t *testing.T) {
	c, _ := newTestCache(t)
	o := newOrchestrator(c, map[string]int{"a": 0}, &countingProvider{name: "a"})

	resp, err := o.Search(context.Background(), "fluval", "", []string{"a", "ghost"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, DefaultCountry, resp.Country)
	assert.Equal(t, OutcomeUnknown, resp.Providers[1].Outcome)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, _ := newTestCache(t)
	o := newOrchestrator(c, nil)
	_, err := o.Search(context.Background(), "   ", "US", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestFlush(t *testing.T) {
	c, mr := newTestCache(t)
	p := &countingProvider{name: "p"}
	o := newOrchestrator(c, map[string]int{"p": 5}, p)
	ctx := context.Background()

	_, err := o.Search(ctx, "Fluval Filter", "US", nil)
	require.NoError(t, err)
	key := cache.SearchKey(1, "p", "US", "fluval filter")
	require.True(t, mr.Exists(key))

	n, err := o.Flush(ctx, "  FLUVAL filter", "us", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.False(t, mr.Exists(key))

	_, err = o.Search(ctx, "fluval filter", "US", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fluval filter", r.URL.Query().Get("keywords"))
		assert.Equal(t, "US", r.URL.Query().Get("country"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"title":"Fluval 307","url":"https://shop.example.com/fluval","price":"$179.99","original_price":"229.99","currency":"usd"},
			{"title":"No price","url":"https://shop.example.com/x"},
			{"title":"Cents","url":"https://shop.example.com/c","price_cents":4999}
		]}`)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(ProviderConfig{
		Name:       "shop",
		Endpoint:   srv.URL,
		QueryParam: "keywords",
		Headers:    map[string]string{"X-Api-Key": "secret"},
	}, http.DefaultTransport, zap.NewNop())

	results, err := p.Search(context.Background(), "fluval filter", "US")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "shop", results[0].Provider)
	assert.True(t, results[0].Price.Equal(decimal.RequireFromString("179.99")))
	require.NotNil(t, results[0].OriginalPrice)
	assert.Equal(t, "USD", results[0].Currency)
	assert.True(t, results[1].Price.Equal(decimal.RequireFromString("49.99")))
}

func TestHTTPProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(ProviderConfig{Name: "down", Endpoint: srv.URL}, http.DefaultTransport, zap.NewNop())
	_, err := p.Search(context.Background(), "x", "US")
	assert.Error(t, err)
}

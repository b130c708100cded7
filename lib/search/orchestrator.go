// Package search answers product searches from cache first and otherwise from
// providers that still have budget left in the current window.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/fiffu/dealwatch/lib/budget"
	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/metrics"
	"github.com/fiffu/dealwatch/lib/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmptyQuery = errors.New("search query is empty")
	// ErrTemporarilyUnavailable is returned when the cache is down and no
	// provider answered. It is distinct from an empty result.
	ErrTemporarilyUnavailable = errors.New("search temporarily unavailable")
)

const DefaultCountry = "US"

type Outcome string

const (
	OutcomeCacheHit        Outcome = "cache_hit"
	OutcomeFetched         Outcome = "fetched"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeFailed          Outcome = "failed"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeUnknown         Outcome = "unknown_provider"
)

type ProviderReport struct {
	Provider string  `json:"provider"`
	Outcome  Outcome `json:"outcome"`
	Results  int     `json:"results"`
	Error    string  `json:"error,omitempty"`
}

type Response struct {
	Query     string               `json:"query"`
	Country   string               `json:"country"`
	Results   models.SearchResults `json:"results"`
	Providers []ProviderReport     `json:"providers"`
}

type Options struct {
	CacheVersion    int
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
}

type Orchestrator struct {
	providers map[string]Provider
	order     []string
	cache     cache.Cache
	guard     *budget.Guard
	opts      Options
	group     singleflight.Group
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewOrchestrator searches providers in the order given when a request names
// none.
func NewOrchestrator(providers []Provider, c cache.Cache, guard *budget.Guard, opts Options, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.CacheVersion <= 0 {
		opts.CacheVersion = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 6 * time.Hour
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 5 * time.Second
	}
	o := &Orchestrator{
		providers: make(map[string]Provider, len(providers)),
		cache:     c,
		guard:     guard,
		opts:      opts,
		log:       log,
		metrics:   m,
	}
	for _, p := range providers {
		if _, dup := o.providers[p.Name()]; dup {
			continue
		}
		o.providers[p.Name()] = p
		o.order = append(o.order, p.Name())
	}
	return o
}

func (o *Orchestrator) Providers() []string {
	return append([]string(nil), o.order...)
}

// lookup is what happened for one provider during a search.
type lookup struct {
	report   ProviderReport
	results  models.SearchResults
	cacheErr bool
}

// Search answers from each provider's cache entry when present. On a miss the
// provider is called only if a unit of its budget can be reserved first.
func (o *Orchestrator) Search(ctx context.Context, query, country string, providers []string) (*Response, error) {
	q := cache.NormalizeQuery(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	country = cache.NormalizeCountry(country)
	if country == "" {
		country = DefaultCountry
	}
	if len(providers) == 0 {
		providers = o.order
	}
	providers = uniq(providers)

	lookups := make([]lookup, len(providers))
	var g errgroup.Group
	for i, name := range providers {
		g.Go(func() error {
			lookups[i] = o.lookup(ctx, name, q, country)
			return nil
		})
	}
	g.Wait()

	resp := &Response{Query: q, Country: country, Results: models.SearchResults{}}
	cacheDown, answered := false, false
	for _, l := range lookups {
		resp.Providers = append(resp.Providers, l.report)
		resp.Results = append(resp.Results, l.results...)
		cacheDown = cacheDown || l.cacheErr
		switch l.report.Outcome {
		case OutcomeCacheHit, OutcomeFetched:
			answered = true
		}
		o.metrics.ProviderOutcome(l.report.Provider, string(l.report.Outcome))
	}
	resp.Results = merge(resp.Results)

	if cacheDown && !answered {
		o.metrics.SearchServed("unavailable")
		return resp, ErrTemporarilyUnavailable
	}
	o.metrics.SearchServed("ok")
	return resp, nil
}

func (o *Orchestrator) lookup(ctx context.Context, name, query, country string) lookup {
	l := lookup{report: ProviderReport{Provider: name}}
	provider, ok := o.providers[name]
	if !ok {
		l.report.Outcome = OutcomeUnknown
		return l
	}
	key := cache.SearchKey(o.opts.CacheVersion, name, country, query)

	cached, err := o.cache.Get(ctx, key)
	switch {
	case err == nil:
		var results models.SearchResults
		if jsonErr := json.Unmarshal(cached, &results); jsonErr == nil {
			l.report.Outcome = OutcomeCacheHit
			l.report.Results = len(results)
			l.results = results
			return l
		}
	case errors.Is(err, cache.ErrUnavailable):
		l.cacheErr = true
		o.log.Sugar().Warnw("Search cache unavailable, treating as miss", "provider", name, "err", err)
	}

	// Concurrent misses on one key share a single reservation and provider call.
	v, _, _ := o.group.Do(key, func() (any, error) {
		return o.fetch(ctx, provider, key, query, country), nil
	})
	fetched := v.(lookup)
	fetched.cacheErr = fetched.cacheErr || l.cacheErr
	return fetched
}

func (o *Orchestrator) fetch(ctx context.Context, provider Provider, key, query, country string) lookup {
	name := provider.Name()
	l := lookup{report: ProviderReport{Provider: name}}

	reservation, err := o.guard.Reserve(name)
	if err != nil {
		l.report.Outcome = OutcomeBudgetExhausted
		if !errors.Is(err, budget.ErrBudgetExhausted) {
			l.report.Error = err.Error()
		}
		return l
	}
	defer func() { o.metrics.SetBudgetRemaining(name, o.guard.Remaining(name)) }()

	// The call outlives a caller that gives up, so coalesced waiters still get it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ProviderTimeout)
	defer cancel()

	started := time.Now()
	results, err := provider.Search(callCtx, query, country)
	o.metrics.ProviderCall(name, time.Since(started))
	if err != nil {
		reservation.Release()
		l.report.Outcome = OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			l.report.Outcome = OutcomeTimeout
		}
		l.report.Error = err.Error()
		o.log.Sugar().Warnw("Search provider call failed", "provider", name, "outcome", l.report.Outcome, "err", err)
		return l
	}
	reservation.Commit()

	if results == nil {
		results = models.SearchResults{}
	}
	l.report.Outcome = OutcomeFetched
	l.report.Results = len(results)
	l.results = results

	b, err := json.Marshal(results)
	if err == nil {
		err = o.cache.Set(ctx, key, b, o.opts.CacheTTL)
	}
	if err != nil {
		l.cacheErr = errors.Is(err, cache.ErrUnavailable)
		o.log.Sugar().Warnw("Failed to write search results through to cache", "provider", name, "err", err)
	}
	return l
}

// Flush drops the cached entries for a query by rebuilding their keys.
func (o *Orchestrator) Flush(ctx context.Context, query, country string, providers []string) (int64, error) {
	q := cache.NormalizeQuery(query)
	if q == "" {
		return 0, ErrEmptyQuery
	}
	country = cache.NormalizeCountry(country)
	if country == "" {
		country = DefaultCountry
	}
	if len(providers) == 0 {
		providers = o.order
	}
	keys := make([]string, 0, len(providers))
	for _, name := range uniq(providers) {
		keys = append(keys, cache.SearchKey(o.opts.CacheVersion, name, country, q))
	}
	return o.cache.Del(ctx, keys...)
}

type BudgetStatus = budget.Usage

func (o *Orchestrator) Budgets() []BudgetStatus {
	return o.guard.Usage()
}

// merge drops results pointing at the same product page, keeping the first
// seen, and orders the rest by price.
func merge(results models.SearchResults) models.SearchResults {
	seen := make(map[string]bool, len(results))
	out := make(models.SearchResults, 0, len(results))
	for _, r := range results {
		key := dedup.NormalizeURL(r.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Package ingest drives the poll loop: on every tick it picks the sources that
// are due and runs fetch, normalize, dedup, score and persist for each.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/fiffu/dealwatch/lib/fetcher"
	"github.com/fiffu/dealwatch/lib/metrics"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/registry"
	"github.com/fiffu/dealwatch/lib/scorer"
	"github.com/fiffu/dealwatch/lib/store"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	TickInterval      time.Duration
	SweepInterval     time.Duration
	FetchTimeout      time.Duration
	MaxConcurrentRuns int
	DegradedAfter     int
	DealMaxAge        time.Duration
	ExpiredRetention  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 8
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 5
	}
	if c.DealMaxAge <= 0 {
		c.DealMaxAge = 14 * 24 * time.Hour
	}
	if c.ExpiredRetention <= 0 {
		c.ExpiredRetention = 30 * 24 * time.Hour
	}
	return c
}

// HealthAlert reports a source crossing between healthy and degraded.
type HealthAlert struct {
	Source     models.Source
	Transition registry.Transition
	FailCount  int
	LastError  string
	At         time.Time
}

type Alerter interface {
	SourceHealthChanged(ctx context.Context, alert HealthAlert) error
}

type Deps struct {
	Store   *store.Store
	Fetcher fetcher.Fetcher
	Scorer  *scorer.Scorer
	Feed    *cache.FeedCache
	Alerter Alerter
	Metrics *metrics.Metrics
	Log     *zap.Logger
	Clock   func() time.Time
}

type Scheduler struct {
	cfg     Config
	store   *store.Store
	fetcher fetcher.Fetcher
	scorer  *scorer.Scorer
	feed    *cache.FeedCache
	alerter Alerter
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	policy  registry.HealthPolicy
	sem     *semaphore.Weighted
	alarm   *alarmClock

	mu       sync.Mutex
	inflight map[uint]bool
	runs     sync.WaitGroup
	consumed chan struct{}
	ctx      context.Context
	stop     context.CancelFunc
}

func NewScheduler(cfg Config, deps Deps) *Scheduler {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Scorer == nil {
		deps.Scorer = scorer.New(scorer.DefaultPolicy())
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		scorer:   deps.Scorer,
		feed:     deps.Feed,
		alerter:  deps.Alerter,
		metrics:  deps.Metrics,
		log:      deps.Log,
		now:      deps.Clock,
		policy:   registry.HealthPolicy{DegradedAfter: cfg.DegradedAfter},
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		alarm:    newAlarmClock(cfg.TickInterval, cfg.SweepInterval),
		inflight: make(map[uint]bool),
		ctx:      ctx,
		stop:     stop,
	}
}

func (s *Scheduler) Policy() registry.HealthPolicy { return s.policy }

// Start consumes alarm events until Stop. Runs launched by a tick outlive the
// tick; Stop cancels and waits for them.
func (s *Scheduler) Start(ctx context.Context) {
	c := s.alarm.Start(ctx)
	s.consumed = make(chan struct{})
	go func() {
		defer close(s.consumed)
		for evt := range c {
			s.handleEvent(evt)
		}
	}()
}

// Stop cancels in-flight work and returns once the event loop and every run it
// launched have finished.
func (s *Scheduler) Stop() {
	s.alarm.Stop()
	s.stop()
	if s.consumed != nil {
		<-s.consumed
	}
	s.runs.Wait()
	s.log.Sugar().Info("Scheduler stopped")
}

func (s *Scheduler) handleEvent(evt Event) {
	switch evt.(type) {
	case tickEvent:
		s.Tick(s.ctx, evt.Timestamp())
	case sweepEvent:
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		defer cancel()
		s.Sweep(ctx, evt.Timestamp())
	}
}

// Tick launches one run for every due source that is not already running and
// returns the ids it launched. It does not wait for the runs; see Wait.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []uint {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		s.log.Sugar().Errorw("Failed to load sources", "err", err)
		return nil
	}
	due := registry.NewSnapshot(sources).Due(now)

	launched := make([]uint, 0, len(due))
	for _, src := range due {
		if !s.claim(src.ID) {
			s.log.Sugar().Debugw("Source still running, skipping", "source", src.Name)
			continue
		}
		launched = append(launched, src.ID)

		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			defer s.release(src.ID)

			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			s.RunSource(ctx, src)
		}()
	}
	if len(launched) > 0 {
		s.log.Sugar().Infow("Launched ingestion runs", "due", len(due), "launched", len(launched))
	}
	return launched
}

// Wait blocks until every launched run has finished.
func (s *Scheduler) Wait() {
	s.runs.Wait()
}

func (s *Scheduler) claim(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *Scheduler) invalidateFeed(ctx context.Context) {
	if s.feed == nil {
		return
	}
	if _, err := s.feed.Invalidate(ctx); err != nil {
		s.log.Sugar().Warnw("Failed to invalidate feed cache", "err", err)
	}
}

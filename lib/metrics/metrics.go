// Package metrics holds the prometheus collectors for ingestion and search.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "dealwatch"

type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	ItemsTotal      *prometheus.CounterVec
	RunsInFlight    prometheus.Gauge
	SourceFailCount *prometheus.GaugeVec
	DealsSwept      *prometheus.CounterVec

	SearchRequests   *prometheus.CounterVec
	ProviderOutcomes *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	BudgetRemaining  *prometheus.GaugeVec

	FeedRequests *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initIngestMetrics(factory)
	m.initSearchMetrics(factory)
	return m
}

func (m *Metrics) initIngestMetrics(factory promauto.Factory) {
	m.RunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Ingestion runs by source and final status",
	}, []string{"source", "status"})

	m.RunDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one ingestion run",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"source"})

	m.ItemsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "items_total",
		Help:      "Fetched items by source and what became of them",
	}, []string{"source", "outcome"})

	m.RunsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "runs_in_flight",
		Help:      "Ingestion runs currently executing",
	})

	m.SourceFailCount = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "source_fail_count",
		Help:      "Consecutive failed polls per source",
	}, []string{"source"})

	m.DealsSwept = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "deals_swept_total",
		Help:      "Deals expired or purged by the sweep",
	}, []string{"action"})
}

func (m *Metrics) initSearchMetrics(factory promauto.Factory) {
	m.SearchRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Search requests by result",
	}, []string{"result"})

	m.ProviderOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "search",
		Name:      "provider_outcomes_total",
		Help:      "Per-provider outcome of each search",
	}, []string{"provider", "outcome"})

	m.ProviderLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "search",
		Name:      "provider_latency_seconds",
		Help:      "Latency of provider calls that reached the network",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	m.BudgetRemaining = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "search",
		Name:      "budget_remaining",
		Help:      "Provider calls left in the current budget window",
	}, []string{"provider"})

	m.FeedRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "requests_total",
		Help:      "Feed reads by cache result",
	}, []string{"cache"})
}

// RunCounts is the tally of one ingestion run.
type RunCounts struct {
	Fetched, Created, Updated, Duplicate, Stale, Failed int
}

func (m *Metrics) ObserveRun(source, status string, elapsed time.Duration, c RunCounts) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(source, status).Inc()
	m.RunDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	m.ItemsTotal.WithLabelValues(source, "fetched").Add(float64(c.Fetched))
	m.ItemsTotal.WithLabelValues(source, "created").Add(float64(c.Created))
	m.ItemsTotal.WithLabelValues(source, "updated").Add(float64(c.Updated))
	m.ItemsTotal.WithLabelValues(source, "duplicate").Add(float64(c.Duplicate))
	m.ItemsTotal.WithLabelValues(source, "stale").Add(float64(c.Stale))
	m.ItemsTotal.WithLabelValues(source, "failed").Add(float64(c.Failed))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
}

func (m *Metrics) SetFailCount(source string, n int) {
	if m == nil {
		return
	}
	m.SourceFailCount.WithLabelValues(source).Set(float64(n))
}

func (m *Metrics) Swept(action string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DealsSwept.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) SearchServed(result string) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ProviderOutcome(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderOutcomes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ProviderCall(provider string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) SetBudgetRemaining(provider string, n int) {
	if m == nil {
		return
	}
	m.BudgetRemaining.WithLabelValues(provider).Set(float64(n))
}

func (m *Metrics) FeedServed(cacheHit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.FeedRequests.WithLabelValues(result).Inc()
}

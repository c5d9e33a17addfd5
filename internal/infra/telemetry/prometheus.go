package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"catalogd/internal/domain"
)

type PrometheusMetrics struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge
	sweepRemoved   prometheus.Counter

	fetchDuration *prometheus.HistogramVec
	fetchAttempts prometheus.Histogram
	fallbacks     *prometheus.CounterVec

	syncDuration *prometheus.HistogramVec
	syncItems    prometheus.Histogram
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"key_class"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"key_class"},
		),
		cacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "catalogd_cache_evictions_total",
				Help: "Total number of capacity evictions",
			},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalogd_cache_entries",
				Help: "Current number of cached entries",
			},
		),
		sweepRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "catalogd_cache_sweep_removed_total",
				Help: "Total number of expired entries removed by the sweeper",
			},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogd_fetch_duration_seconds",
				Help:    "Duration of external catalog fetches in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		fetchAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalogd_fetch_attempts",
				Help:    "Attempts used per external catalog fetch",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_fallback_total",
				Help: "Total number of reads served from the relational fallback",
			},
			[]string{"op"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogd_sync_duration_seconds",
				Help:    "Duration of catalog synchronization attempts in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		syncItems: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalogd_sync_items",
				Help:    "Items processed per synchronization attempt",
				Buckets: []float64{0, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
	}
}

func (p *PrometheusMetrics) ObserveCacheHit(keyClass string) {
	p.cacheHits.WithLabelValues(keyClass).Inc()
}

func (p *PrometheusMetrics) ObserveCacheMiss(keyClass string) {
	p.cacheMisses.WithLabelValues(keyClass).Inc()
}

func (p *PrometheusMetrics) ObserveCacheEviction() {
	p.cacheEvictions.Inc()
}

func (p *PrometheusMetrics) ObserveSweep(removed int) {
	p.sweepRemoved.Add(float64(removed))
}

func (p *PrometheusMetrics) SetCacheEntries(count int) {
	p.cacheEntries.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveFetch(duration time.Duration, attempts int, err error) {
	p.fetchDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
	p.fetchAttempts.Observe(float64(attempts))
}

func (p *PrometheusMetrics) ObserveFallback(op string) {
	p.fallbacks.WithLabelValues(op).Inc()
}

func (p *PrometheusMetrics) ObserveSync(duration time.Duration, itemCount int, err error) {
	p.syncDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
	p.syncItems.Observe(float64(itemCount))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)

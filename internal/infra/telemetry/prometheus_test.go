package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.cacheHits)
	assert.NotNil(t, m.cacheMisses)
	assert.NotNil(t, m.cacheEvictions)
	assert.NotNil(t, m.cacheEntries)
	assert.NotNil(t, m.fetchDuration)
	assert.NotNil(t, m.syncDuration)
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveCacheHit("catalog")
	m.ObserveCacheMiss("service")
	m.ObserveCacheEviction()
	m.ObserveSweep(3)
	m.SetCacheEntries(42)
	m.ObserveFetch(120*time.Millisecond, 2, nil)
	m.ObserveFetch(time.Second, 3, errors.New("upstream returned status 503"))
	m.ObserveFallback("getAll")
	m.ObserveSync(2*time.Second, 46, nil)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, mf := range metrics {
		names = append(names, mf.GetName())
	}

	assert.Contains(t, names, "catalogd_cache_hits_total")
	assert.Contains(t, names, "catalogd_cache_misses_total")
	assert.Contains(t, names, "catalogd_cache_evictions_total")
	assert.Contains(t, names, "catalogd_cache_entries")
	assert.Contains(t, names, "catalogd_cache_sweep_removed_total")
	assert.Contains(t, names, "catalogd_fetch_duration_seconds")
	assert.Contains(t, names, "catalogd_fetch_attempts")
	assert.Contains(t, names, "catalogd_fallback_total")
	assert.Contains(t, names, "catalogd_sync_duration_seconds")
	assert.Contains(t, names, "catalogd_sync_items")
}

func TestNoopMetricsImplementsInterface(t *testing.T) {
	m := NewNoopMetrics()
	m.ObserveCacheHit("catalog")
	m.ObserveFetch(time.Second, 1, nil)
	m.ObserveSync(time.Second, 0, errors.New("ignored"))
}

package domain

import "time"

// Metrics receives operational measurements from the cache, source client
// and syncer. Implemented by telemetry.PrometheusMetrics and
// telemetry.NoopMetrics.
type Metrics interface {
	ObserveCacheHit(keyClass string)
	ObserveCacheMiss(keyClass string)
	ObserveCacheEviction()
	ObserveSweep(removed int)
	SetCacheEntries(count int)

	ObserveFetch(duration time.Duration, attempts int, err error)
	ObserveFallback(op string)
	ObserveSync(duration time.Duration, itemCount int, err error)
}

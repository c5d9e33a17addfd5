package telemetry

import (
	"time"

	"catalogd/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveCacheHit(_ string) {}

func (n *NoopMetrics) ObserveCacheMiss(_ string) {}

func (n *NoopMetrics) ObserveCacheEviction() {}

func (n *NoopMetrics) ObserveSweep(_ int) {}

func (n *NoopMetrics) SetCacheEntries(_ int) {}

func (n *NoopMetrics) ObserveFetch(_ time.Duration, _ int, _ error) {}

func (n *NoopMetrics) ObserveFallback(_ string) {}

func (n *NoopMetrics) ObserveSync(_ time.Duration, _ int, _ error) {}

var _ domain.Metrics = (*NoopMetrics)(nil)

// Package synchealth turns a stream of sync attempts into an operator-facing
// health signal: a bounded record buffer plus derived windowed metrics.
package synchealth

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalogd/internal/domain"
)

// Monitor keeps the most recent sync records (newest first) in a bounded
// buffer. Records age out by buffer size, never by time, so a quiet system
// retains history; only the derived metrics are windowed.
type Monitor struct {
	mu      sync.RWMutex
	records []domain.SyncRecord
	size    int
	window  time.Duration

	logger *zap.Logger
	now    func() time.Time
}

func New(window time.Duration, size int, logger *zap.Logger) *Monitor {
	if window <= 0 {
		window = domain.DefaultHealthWindow
	}
	if size <= 0 {
		size = domain.DefaultHealthBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		size:   size,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Record appends a sync outcome to the front of the buffer, dropping the
// oldest when the bound is exceeded. Records are immutable once stored.
func (m *Monitor) Record(rec domain.SyncRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}

	m.mu.Lock()
	m.records = append([]domain.SyncRecord{rec}, m.records...)
	if len(m.records) > m.size {
		m.records = m.records[:m.size]
	}
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("id", rec.ID),
		zap.Duration("duration", rec.Duration),
		zap.Int("items", rec.ItemCount),
		zap.Bool("success", rec.Success),
	}
	if rec.Success {
		m.logger.Info("sync recorded", fields...)
	} else {
		m.logger.Error("sync failed", append(fields, zap.String("error", rec.Error))...)
	}
}

// Metrics derives health metrics from records within the observation window.
// An empty window is healthy by default, not unknown.
func (m *Monitor) Metrics() domain.SyncHealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	windowStart := now.Add(-m.window)

	// records is newest-first; collect the in-window slice oldest-first for
	// the uptime walk.
	var inWindow []domain.SyncRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if rec.Timestamp.Before(windowStart) {
			continue
		}
		inWindow = append(inWindow, rec)
	}

	metrics := domain.SyncHealthMetrics{
		TotalSyncs:  len(inWindow),
		WindowStart: windowStart,
		WindowEnd:   now,
	}

	successes := 0
	var totalDuration time.Duration
	for _, rec := range inWindow {
		totalDuration += rec.Duration
		if rec.Success {
			successes++
		} else {
			metrics.TotalFailures++
			ts := rec.Timestamp
			if metrics.LastFailure == nil || ts.After(*metrics.LastFailure) {
				failedAt := ts
				metrics.LastFailure = &failedAt
			}
		}
	}

	if len(inWindow) == 0 {
		metrics.SuccessRate = 100
	} else {
		metrics.SuccessRate = float64(successes) / float64(len(inWindow)) * 100
		metrics.AvgDuration = totalDuration / time.Duration(len(inWindow))
	}

	metrics.UptimePercent = uptimeEstimate(inWindow, windowStart, now, m.window)
	metrics.HealthScore = healthScore(metrics.SuccessRate, metrics.AvgDuration, metrics.UptimePercent)
	return metrics
}

// uptimeEstimate walks in-window records chronologically and credits each
// successful sync with at most UptimeCreditCap of the interval behind it,
// plus a capped tail credit when the last record succeeded. It deliberately
// under-counts uptime across long gaps between successes; treat it as an
// estimate, never an SLA measurement.
func uptimeEstimate(chronological []domain.SyncRecord, windowStart, now time.Time, window time.Duration) float64 {
	var credited time.Duration
	prevSuccess := windowStart
	var lastIsSuccess bool
	var lastSuccess time.Time

	for _, rec := range chronological {
		lastIsSuccess = rec.Success
		if !rec.Success {
			continue
		}
		interval := rec.Timestamp.Sub(prevSuccess)
		if interval > domain.UptimeCreditCap {
			interval = domain.UptimeCreditCap
		}
		if interval > 0 {
			credited += interval
		}
		prevSuccess = rec.Timestamp
		lastSuccess = rec.Timestamp
	}

	if lastIsSuccess && !lastSuccess.IsZero() {
		tail := now.Sub(lastSuccess)
		if tail > domain.UptimeCreditCap {
			tail = domain.UptimeCreditCap
		}
		if tail > 0 {
			credited += tail
		}
	}

	percent := credited.Minutes() / window.Minutes() * 100
	return math.Min(percent, 100)
}

// healthScore combines success rate, duration and uptime into the composite
// 0-100 score. The duration component stays at 100 up to the knee, then
// loses one point per second of mean duration beyond it.
func healthScore(successRate float64, avgDuration time.Duration, uptime float64) float64 {
	durationScore := 100.0
	if avgDuration > domain.DurationScoreKnee {
		over := (avgDuration - domain.DurationScoreKnee).Seconds()
		durationScore = math.Max(0, 100-over)
	}
	score := successRate*0.5 + durationScore*0.2 + uptime*0.3
	score = math.Max(0, math.Min(100, score))
	return math.Round(score*100) / 100
}

// History returns the most recent records, newest first, unfiltered by time.
func (m *Monitor) History(limit int) []domain.SyncRecord {
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]domain.SyncRecord, limit)
	copy(out, m.records[:limit])
	return out
}

// Clear resets the buffer. Administrative operation, not used in normal
// operation.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

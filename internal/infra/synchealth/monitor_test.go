package synchealth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogd/internal/domain"
)

func newTestMonitor(window time.Duration, size int) (*Monitor, time.Time) {
	m := New(window, size, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, now
}

func record(ts time.Time, success bool, duration time.Duration) domain.SyncRecord {
	rec := domain.SyncRecord{Timestamp: ts, Success: success, Duration: duration, ItemCount: 10}
	if !success {
		rec.Error = "upstream unavailable"
	}
	return rec
}

func TestMonitor_EmptyWindowIsHealthyByDefault(t *testing.T) {
	m, _ := newTestMonitor(24*time.Hour, 500)

	metrics := m.Metrics()
	assert.Equal(t, 100.0, metrics.SuccessRate)
	assert.Equal(t, 0, metrics.TotalSyncs)
	assert.Nil(t, metrics.LastFailure)
	assert.False(t, metrics.HealthScore < 0 || metrics.HealthScore > 100)
	assert.False(t, metrics.HealthScore != metrics.HealthScore, "score must not be NaN")
}

func TestMonitor_SuccessRateAndLastFailure(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)

	m.Record(record(now.Add(-3*time.Hour), true, time.Second))
	m.Record(record(now.Add(-2*time.Hour), false, time.Second))
	m.Record(record(now.Add(-time.Hour), true, 3*time.Second))

	metrics := m.Metrics()
	assert.Equal(t, 3, metrics.TotalSyncs)
	assert.Equal(t, 1, metrics.TotalFailures)
	assert.InDelta(t, 200.0/3.0, metrics.SuccessRate, 0.01)
	require.NotNil(t, metrics.LastFailure)
	assert.Equal(t, now.Add(-2*time.Hour), *metrics.LastFailure)
	assert.Equal(t, (time.Second+time.Second+3*time.Second)/3, metrics.AvgDuration)
}

func TestMonitor_MetricsIgnoreRecordsOutsideWindow(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)

	m.Record(record(now.Add(-48*time.Hour), false, time.Second)) // outside window
	m.Record(record(now.Add(-time.Hour), true, time.Second))

	metrics := m.Metrics()
	assert.Equal(t, 1, metrics.TotalSyncs)
	assert.Equal(t, 100.0, metrics.SuccessRate)
	assert.Nil(t, metrics.LastFailure, "failures outside the window do not count")
}

func TestMonitor_UptimeCreditIsCapped(t *testing.T) {
	m, now := newTestMonitor(time.Hour, 500)

	// Two successes 30 minutes apart: the second can only vouch for 10 of
	// those 30 minutes.
	m.Record(record(now.Add(-40*time.Minute), true, time.Second))
	m.Record(record(now.Add(-10*time.Minute), true, time.Second))

	metrics := m.Metrics()
	// first success: capped 10m credit; second: capped 10m; tail: 10m
	assert.InDelta(t, 30.0/60.0*100, metrics.UptimePercent, 0.1)
}

func TestMonitor_NoTailCreditAfterFailure(t *testing.T) {
	m, now := newTestMonitor(time.Hour, 500)

	m.Record(record(now.Add(-30*time.Minute), true, time.Second))
	m.Record(record(now.Add(-5*time.Minute), false, time.Second))

	withFailure := m.Metrics().UptimePercent

	m2, now2 := newTestMonitor(time.Hour, 500)
	m2.Record(record(now2.Add(-30*time.Minute), true, time.Second))
	withTail := m2.Metrics().UptimePercent

	assert.Less(t, withFailure, withTail, "a trailing failure forfeits tail credit")
}

func TestMonitor_HealthScoreWithinBounds(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)

	// Slow failing syncs should push the score down without underflowing.
	for i := 0; i < 10; i++ {
		m.Record(record(now.Add(-time.Duration(i)*time.Minute), false, 5*time.Minute))
	}
	metrics := m.Metrics()
	assert.GreaterOrEqual(t, metrics.HealthScore, 0.0)
	assert.LessOrEqual(t, metrics.HealthScore, 100.0)
	assert.Equal(t, 0.0, metrics.SuccessRate)
}

func TestMonitor_DurationScoreKnee(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)
	m.Record(record(now.Add(-time.Minute), true, 40*time.Second))

	// successRate 100 -> 50; durationScore 90 (10s over knee) -> 18;
	// uptime: capped credit 10m + tail 1m of a 24h window is negligible.
	metrics := m.Metrics()
	assert.InDelta(t, 50+18+0.3*metrics.UptimePercent, metrics.HealthScore, 0.01)
}

func TestMonitor_BufferBounded(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 5)

	for i := 0; i < 8; i++ {
		m.Record(record(now.Add(time.Duration(i)*time.Second), true, time.Second))
	}

	history := m.History(100)
	require.Len(t, history, 5)
	// Newest first: the most recent record leads.
	assert.Equal(t, now.Add(7*time.Second), history[0].Timestamp)
}

func TestMonitor_RecordAssignsID(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)
	m.Record(record(now, true, time.Second))

	history := m.History(1)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
}

func TestMonitor_HistoryDefaultLimit(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)
	for i := 0; i < 60; i++ {
		m.Record(record(now.Add(time.Duration(i)*time.Second), true, time.Second))
	}
	assert.Len(t, m.History(0), domain.DefaultHistoryLimit)
}

func TestMonitor_Clear(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)
	m.Record(record(now, true, time.Second))
	m.Clear()
	assert.Empty(t, m.History(10))

	metrics := m.Metrics()
	assert.Equal(t, 100.0, metrics.SuccessRate)
}

func TestMonitor_StatsRoundTrip(t *testing.T) {
	m, now := newTestMonitor(24*time.Hour, 500)
	rec := record(now, true, time.Second)
	rec.Stats = &domain.SyncStats{Created: 2, Updated: 3, Synced: 5}
	rec.ID = fmt.Sprintf("sync-%d", now.Unix())
	m.Record(rec)

	history := m.History(1)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Stats)
	assert.Equal(t, 5, history[0].Stats.Synced)
}

package domain

import "time"

// SyncRecord is the immutable outcome of one synchronization attempt.
type SyncRecord struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	ItemCount int           `json:"itemCount"`
	Error     string        `json:"error,omitempty"`
	Stats     *SyncStats    `json:"stats,omitempty"`
}

// SyncStats breaks an attempt's item count down by what happened to each row.
// Deleted counts rows retired because their slug vanished from the feed.
type SyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Synced  int `json:"synced"`
	Deleted int `json:"deleted,omitempty"`
}

// SyncHealthMetrics is derived on demand from the sync record buffer,
// filtered to the observation window. UptimePercent is a heuristic estimate,
// not an SLA measurement: each successful sync vouches for at most
// UptimeCreditCap of the interval behind it.
type SyncHealthMetrics struct {
	HealthScore   float64       `json:"healthScore"`
	AvgDuration   time.Duration `json:"avgDuration"`
	SuccessRate   float64       `json:"successRate"`
	LastFailure   *time.Time    `json:"lastFailure"`
	UptimePercent float64       `json:"uptimePercent"`
	TotalSyncs    int           `json:"totalSyncs"`
	TotalFailures int           `json:"totalFailures"`
	WindowStart   time.Time     `json:"windowStart"`
	WindowEnd     time.Time     `json:"windowEnd"`
}

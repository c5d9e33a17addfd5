package domain

import "time"

// DeltaOp tags how a cache key changed. The delta log records the change
// type per key so incremental clients can tell creations, refreshes and
// removals apart instead of re-fetching everything.
type DeltaOp string

const (
	DeltaAdded   DeltaOp = "added"
	DeltaUpdated DeltaOp = "updated"
	DeltaDeleted DeltaOp = "deleted"
)

// DeltaChange is one tagged key change inside a DeltaLogRecord.
type DeltaChange struct {
	Key string  `json:"key"`
	Op  DeltaOp `json:"op"`
}

// DeltaLogRecord captures the keys affected by one invalidation at a given
// cache version. The log is bounded; the oldest record is evicted by
// version order when the bound is exceeded.
type DeltaLogRecord struct {
	Version   int64         `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Changes   []DeltaChange `json:"changes"`
}

// CacheDelta is the merged answer to "what changed since version V".
// FullResync is set when the delta log no longer covers the requested
// range (the version predates the oldest retained record or a full reset),
// in which case the key sets must not be trusted and the caller should
// re-fetch full state.
type CacheDelta struct {
	Added       []string `json:"added"`
	Updated     []string `json:"updated"`
	Deleted     []string `json:"deleted"`
	NextVersion int64    `json:"nextVersion"`
	HasMore     bool     `json:"hasMore"`
	FullResync  bool     `json:"fullResync"`
}

// SyncDelta is the controller-level delta response, expressed in service
// slugs rather than raw cache keys.
type SyncDelta struct {
	Version     int64         `json:"version"`
	Timestamp   time.Time     `json:"timestamp"`
	Services    DeltaServices `json:"services"`
	NextVersion int64         `json:"nextVersion"`
	HasMore     bool          `json:"hasMore"`
	FullResync  bool          `json:"fullResync"`
}

type DeltaServices struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Deleted []string `json:"deleted"`
}

// CacheStats is a point-in-time snapshot of the cache store.
type CacheStats struct {
	Entries     int     `json:"entries"`
	Version     int64   `json:"version"`
	MemoryBytes int64   `json:"memoryBytes"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hitRate"`
}

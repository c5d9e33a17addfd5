// Package cache implements the in-process catalog cache: TTL-keyed storage
// with a time-derived global version counter, a bounded tagged delta log for
// incremental clients, expiry-order eviction and a periodic sweeper.
package cache

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"catalogd/internal/domain"
)

type Config struct {
	CatalogTTL   time.Duration
	ServiceTTL   time.Duration
	CategoryTTL  time.Duration
	MaxEntries   int
	DeltaLogSize int
}

func (c Config) withDefaults() Config {
	if c.CatalogTTL <= 0 {
		c.CatalogTTL = domain.DefaultCatalogTTL
	}
	if c.ServiceTTL <= 0 {
		c.ServiceTTL = domain.DefaultServiceTTL
	}
	if c.CategoryTTL <= 0 {
		c.CategoryTTL = domain.DefaultCategoryTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = domain.DefaultMaxCacheEntries
	}
	if c.DeltaLogSize <= 0 {
		c.DeltaLogSize = domain.DefaultDeltaLogSize
	}
	return c
}

type entry struct {
	value     any
	expiresAt time.Time
	version   int64
	size      int64
}

// Store is a thread-safe TTL key/value store. None of its operations return
// errors; absence and eviction are normal outcomes, not faults.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config

	// version is time-derived (unix milliseconds) and strictly increases on
	// every invalidation within a process. Across restarts it resets, so
	// versions from a prior lifetime are not comparable; DeltaSince reports
	// FullResync for anything it cannot cover.
	version  int64
	logFloor int64
	deltaLog []domain.DeltaLogRecord

	hits   atomic.Uint64
	misses atomic.Uint64

	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
}

func New(cfg Config, logger *zap.Logger, metrics domain.Metrics) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string]*entry),
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	s.version = s.now().UnixMilli()
	s.logFloor = s.version
	return s
}

// Get returns the cached value for key, or false if it was never set or has
// expired. An expired entry is removed as a side effect.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	var value any
	var expired bool
	if ok {
		if s.now().After(e.expiresAt) {
			expired = true
		} else {
			value = e.value
		}
	}
	s.mu.RUnlock()

	if !ok || expired {
		if expired {
			s.mu.Lock()
			// Recheck: the key may have been rewritten since we dropped
			// the read lock.
			if cur, still := s.entries[key]; still && s.now().After(cur.expiresAt) {
				delete(s.entries, key)
			}
			s.mu.Unlock()
		}
		s.misses.Add(1)
		if s.metrics != nil {
			s.metrics.ObserveCacheMiss(keyClass(key))
		}
		return nil, false
	}

	s.hits.Add(1)
	if s.metrics != nil {
		s.metrics.ObserveCacheHit(keyClass(key))
	}
	return value, true
}

// Set stores value under key with the TTL of the key's class.
func (s *Store) Set(key string, value any) {
	s.SetTTL(key, value, s.ttlForKey(key))
}

// SetTTL stores value under key with an explicit TTL. When the store is at
// capacity the entry with the nearest expiration is evicted first.
func (s *Store) SetTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttlForKey(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.MaxEntries {
		s.evictSoonestLocked()
	}
	s.entries[key] = &entry{
		value:     value,
		expiresAt: s.now().Add(ttl),
		version:   s.version,
		size:      estimateSize(key, value),
	}
	if s.metrics != nil {
		s.metrics.SetCacheEntries(len(s.entries))
	}
}

// Invalidate removes key and, if it was present, logs a deleted delta
// change for the new version. Returns whether the key was present.
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	v := s.bumpVersionLocked()
	s.appendDeltaLocked(v, []domain.DeltaChange{{Key: key, Op: domain.DeltaDeleted}})
	return true
}

// MarkChanged drops any cached entry for key and logs a delta change with
// the given op. Used by sync jobs to record additions and updates that
// incremental clients should pick up; the key does not have to be cached.
func (s *Store) MarkChanged(key string, op domain.DeltaOp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	v := s.bumpVersionLocked()
	s.appendDeltaLocked(v, []domain.DeltaChange{{Key: key, Op: op}})
}

// InvalidatePattern removes all keys matching re, logging each under a
// single new version. Returns the number of keys removed.
func (s *Store) InvalidatePattern(re *regexp.Regexp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []domain.DeltaChange
	for key := range s.entries {
		if re.MatchString(key) {
			changes = append(changes, domain.DeltaChange{Key: key, Op: domain.DeltaDeleted})
		}
	}
	for _, ch := range changes {
		delete(s.entries, ch.Key)
	}
	if len(changes) > 0 {
		v := s.bumpVersionLocked()
		s.appendDeltaLocked(v, changes)
	}
	return len(changes)
}

// InvalidateAll clears everything and bumps the version. This is a full
// reset, not an incremental change: the delta log is discarded and
// DeltaSince calls for older versions report FullResync.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	v := s.bumpVersionLocked()
	s.deltaLog = nil
	s.logFloor = v
	if s.metrics != nil {
		s.metrics.SetCacheEntries(0)
	}
	s.logger.Info("cache fully invalidated", zap.Int64("version", v))
}

// Reconfigure swaps the TTL and capacity configuration. Existing entries
// keep the expiration they were written with; new writes use the new TTLs.
func (s *Store) Reconfigure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.withDefaults()
}

// Version returns the current global cache version.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// DeltaSince merges all delta-log records with a version strictly greater
// than the argument. When the log no longer covers the requested range the
// result carries FullResync and empty key sets.
func (s *Store) DeltaSince(version int64) domain.CacheDelta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delta := domain.CacheDelta{NextVersion: s.version}
	if version >= s.version {
		return delta
	}
	if version < s.logFloor {
		delta.FullResync = true
		return delta
	}

	// Collapse per-key change sequences into a net op.
	net := make(map[string]domain.DeltaOp)
	for _, rec := range s.deltaLog {
		if rec.Version <= version {
			continue
		}
		for _, ch := range rec.Changes {
			net[ch.Key] = mergeOps(net[ch.Key], ch.Op)
		}
	}
	for key, op := range net {
		switch op {
		case domain.DeltaAdded:
			delta.Added = append(delta.Added, key)
		case domain.DeltaUpdated:
			delta.Updated = append(delta.Updated, key)
		case domain.DeltaDeleted:
			delta.Deleted = append(delta.Deleted, key)
		}
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Updated)
	sort.Strings(delta.Deleted)
	return delta
}

// mergeOps collapses two sequential ops on the same key into a net op.
// An empty previous op means the key was unseen. Added followed by deleted
// nets out to "" (nothing to report).
func mergeOps(prev, next domain.DeltaOp) domain.DeltaOp {
	if prev == "" {
		return next
	}
	switch {
	case prev == domain.DeltaAdded && next == domain.DeltaDeleted:
		return ""
	case prev == domain.DeltaAdded:
		return domain.DeltaAdded
	case prev == domain.DeltaDeleted && next == domain.DeltaAdded:
		return domain.DeltaUpdated
	default:
		return next
	}
}

// Stats returns a snapshot including the computed hit rate.
func (s *Store) Stats() domain.CacheStats {
	s.mu.RLock()
	var mem int64
	for _, e := range s.entries {
		mem += e.size
	}
	stats := domain.CacheStats{
		Entries:     len(s.entries),
		Version:     s.version,
		MemoryBytes: mem,
	}
	s.mu.RUnlock()

	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// StartSweeper begins the periodic expired-entry sweep. The sweep bounds
// worst-case memory for cold keys that are written but never re-read.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = domain.DefaultSweepInterval
	}
	s.mu.Lock()
	if s.sweepTicker != nil {
		s.mu.Unlock()
		return
	}
	s.sweepTicker = time.NewTicker(interval)
	s.stopSweep = make(chan struct{})
	stop := s.stopSweep
	ticker := s.sweepTicker
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweeper ends the periodic sweep.
func (s *Store) StopSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepTicker == nil {
		return
	}
	s.sweepTicker.Stop()
	s.sweepTicker = nil
	close(s.stopSweep)
	s.stopSweep = nil
}

// Sweep removes all expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveSweep(removed)
		s.metrics.SetCacheEntries(remaining)
	}
	if removed > 0 {
		s.logger.Debug("cache sweep", zap.Int("removed", removed), zap.Int("remaining", remaining))
	}
	return removed
}

// bumpVersionLocked advances the time-derived version counter. Within the
// same millisecond it still strictly increases so invalidations stay
// ordered inside one process lifetime.
func (s *Store) bumpVersionLocked() int64 {
	v := s.now().UnixMilli()
	if v <= s.version {
		v = s.version + 1
	}
	s.version = v
	return v
}

func (s *Store) appendDeltaLocked(version int64, changes []domain.DeltaChange) {
	s.deltaLog = append(s.deltaLog, domain.DeltaLogRecord{
		Version:   version,
		Timestamp: s.now(),
		Changes:   changes,
	})
	for len(s.deltaLog) > s.cfg.DeltaLogSize {
		s.logFloor = s.deltaLog[0].Version
		s.deltaLog = s.deltaLog[1:]
	}
}

// evictSoonestLocked removes the entry with the nearest expiration.
func (s *Store) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for key, e := range s.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = key
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
		if s.metrics != nil {
			s.metrics.ObserveCacheEviction()
		}
	}
}

func (s *Store) ttlForKey(key string) time.Duration {
	switch keyClass(key) {
	case "catalog":
		return s.cfg.CatalogTTL
	case "categories":
		return s.cfg.CategoryTTL
	default:
		return s.cfg.ServiceTTL
	}
}

func keyClass(key string) string {
	switch {
	case strings.HasPrefix(key, domain.CachePrefixCatalog):
		return "catalog"
	case strings.HasPrefix(key, domain.CachePrefixService):
		return "service"
	case strings.HasPrefix(key, domain.CachePrefixCategories):
		return "categories"
	default:
		return "other"
	}
}

package cache

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogd/internal/domain"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(cfg Config) (*Store, *fakeClock) {
	s := New(cfg, nil, nil)
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	s.version = clock.now.UnixMilli()
	s.logFloor = s.version
	return s, clock
}

func TestStore_GetReturnsValueUntilExpiry(t *testing.T) {
	s, clock := newTestStore(Config{})

	s.SetTTL("service:airfreight", "value", time.Minute)

	v, ok := s.Get("service:airfreight")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	clock.Advance(30 * time.Second)
	_, ok = s.Get("service:airfreight")
	assert.True(t, ok)

	clock.Advance(31 * time.Second)
	_, ok = s.Get("service:airfreight")
	assert.False(t, ok)

	// Expired get removes the entry as a side effect.
	assert.Equal(t, 0, s.Stats().Entries)
}

func TestStore_TTLChosenByKeyClass(t *testing.T) {
	s, clock := newTestStore(Config{
		CatalogTTL:  5 * time.Minute,
		ServiceTTL:  time.Minute,
		CategoryTTL: 5 * time.Minute,
	})

	s.Set(domain.CacheKeyCatalog, "catalog")
	s.Set("service:air", "service")
	s.Set(domain.CacheKeyCategories, "categories")
	s.Set("unrecognized", "other")

	clock.Advance(90 * time.Second)

	_, ok := s.Get(domain.CacheKeyCatalog)
	assert.True(t, ok, "catalog key should use the catalog TTL")
	_, ok = s.Get(domain.CacheKeyCategories)
	assert.True(t, ok, "categories key should use the category TTL")
	_, ok = s.Get("service:air")
	assert.False(t, ok, "service key should use the single-entry TTL")
	_, ok = s.Get("unrecognized")
	assert.False(t, ok, "unrecognized keys default to the single-entry TTL")
}

func TestStore_EvictsSoonestExpiringAtCapacity(t *testing.T) {
	s, _ := newTestStore(Config{MaxEntries: 3})

	// Inserted in an order that differs from expiry order on purpose.
	s.SetTTL("a", 1, 10*time.Minute)
	s.SetTTL("b", 2, time.Minute) // soonest expiry, not oldest insert
	s.SetTTL("c", 3, 5*time.Minute)

	s.SetTTL("d", 4, 2*time.Minute)

	_, ok := s.Get("b")
	assert.False(t, ok, "entry with soonest expiration should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := s.Get(key)
		assert.True(t, ok, "key %s should survive eviction", key)
	}
}

func TestStore_InvalidateReportsPresence(t *testing.T) {
	s, _ := newTestStore(Config{})

	s.Set("service:air", "v")
	assert.True(t, s.Invalidate("service:air"))
	assert.False(t, s.Invalidate("service:air"))
	assert.False(t, s.Invalidate("never-set"))
}

func TestStore_InvalidatePattern(t *testing.T) {
	s, _ := newTestStore(Config{})

	s.Set("service:air", 1)
	s.Set("service:sea", 2)
	s.Set("catalog:all", 3)

	removed := s.InvalidatePattern(regexp.MustCompile(`^service:`))
	assert.Equal(t, 2, removed)

	_, ok := s.Get("catalog:all")
	assert.True(t, ok)
	_, ok = s.Get("service:air")
	assert.False(t, ok)
}

func TestStore_InvalidateAllResetsEverything(t *testing.T) {
	s, clock := newTestStore(Config{})

	s.Set("service:air", 1)
	s.Set("catalog:all", 2)
	before := s.Version()

	clock.Advance(time.Millisecond)
	s.InvalidateAll()

	assert.Greater(t, s.Version(), before)
	_, ok := s.Get("service:air")
	assert.False(t, ok)
	_, ok = s.Get("catalog:all")
	assert.False(t, ok)

	// Full reset: deltas for older versions must demand a full resync
	// rather than claim specific key lists.
	delta := s.DeltaSince(before)
	assert.True(t, delta.FullResync)
	assert.Empty(t, delta.Added)
	assert.Empty(t, delta.Updated)
	assert.Empty(t, delta.Deleted)
}

func TestStore_VersionStrictlyIncreasesWithinSameMillisecond(t *testing.T) {
	s, _ := newTestStore(Config{})

	s.Set("a", 1)
	s.Set("b", 2)
	v1 := s.Version()
	s.Invalidate("a")
	v2 := s.Version()
	s.Invalidate("b")
	v3 := s.Version()

	assert.Greater(t, v2, v1)
	assert.Greater(t, v3, v2)
}

func TestStore_DeltaSince(t *testing.T) {
	s, clock := newTestStore(Config{})
	since := s.Version()

	clock.Advance(time.Millisecond)
	s.MarkChanged("service:air", domain.DeltaAdded)
	clock.Advance(time.Millisecond)
	s.MarkChanged("service:sea", domain.DeltaUpdated)
	clock.Advance(time.Millisecond)
	s.Set("service:rail", 1)
	s.Invalidate("service:rail")

	delta := s.DeltaSince(since)
	assert.Equal(t, []string{"service:air"}, delta.Added)
	assert.Equal(t, []string{"service:sea"}, delta.Updated)
	assert.Equal(t, []string{"service:rail"}, delta.Deleted)
	assert.Equal(t, s.Version(), delta.NextVersion)
	assert.False(t, delta.HasMore)
	assert.False(t, delta.FullResync)
}

func TestStore_DeltaSinceCurrentVersionIsEmpty(t *testing.T) {
	s, _ := newTestStore(Config{})
	s.MarkChanged("service:air", domain.DeltaAdded)

	delta := s.DeltaSince(s.Version())
	assert.Empty(t, delta.Added)
	assert.Empty(t, delta.Updated)
	assert.Empty(t, delta.Deleted)
	assert.False(t, delta.FullResync)
}

func TestStore_DeltaMergeRules(t *testing.T) {
	s, clock := newTestStore(Config{})
	since := s.Version()

	// added then updated stays added
	clock.Advance(time.Millisecond)
	s.MarkChanged("k1", domain.DeltaAdded)
	s.MarkChanged("k1", domain.DeltaUpdated)
	// added then deleted nets out to nothing
	s.MarkChanged("k2", domain.DeltaAdded)
	s.Set("k2", 1)
	s.Invalidate("k2")
	// deleted then re-added surfaces as updated
	s.Set("k3", 1)
	s.Invalidate("k3")
	s.MarkChanged("k3", domain.DeltaAdded)

	delta := s.DeltaSince(since)
	assert.Equal(t, []string{"k1"}, delta.Added)
	assert.Equal(t, []string{"k3"}, delta.Updated)
	assert.Empty(t, delta.Deleted)
}

func TestStore_DeltaLogBounded(t *testing.T) {
	s, clock := newTestStore(Config{DeltaLogSize: 10})
	since := s.Version()

	for i := 0; i < 25; i++ {
		clock.Advance(time.Millisecond)
		s.MarkChanged(fmt.Sprintf("service:s%d", i), domain.DeltaUpdated)
	}

	// The oldest records were evicted, so a caller that far behind must be
	// told to re-fetch full state.
	delta := s.DeltaSince(since)
	assert.True(t, delta.FullResync)

	// A caller within the retained window still gets real deltas.
	recent := s.DeltaSince(s.Version() - 1)
	assert.False(t, recent.FullResync)
	assert.NotEmpty(t, recent.Updated)
}

func TestStore_SweepRemovesExpired(t *testing.T) {
	s, clock := newTestStore(Config{})

	s.SetTTL("a", 1, time.Minute)
	s.SetTTL("b", 2, time.Hour)

	clock.Advance(2 * time.Minute)
	removed := s.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Stats().Entries)
}

func TestStore_StatsComputesHitRate(t *testing.T) {
	s, _ := newTestStore(Config{})

	s.Set("a", 1)
	s.Get("a")
	s.Get("a")
	s.Get("missing")

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Positive(t, stats.MemoryBytes)
}

func TestStore_TypedWrappersCopyValues(t *testing.T) {
	s, _ := newTestStore(Config{})

	entries := []domain.CatalogEntry{{ID: "airfreight", Title: "Air Freight", Tags: []string{"air"}}}
	s.SetCatalog(entries)
	entries[0].Title = "mutated"

	got, ok := s.Catalog()
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "Air Freight", got[0].Title)

	got[0].Tags[0] = "mutated"
	again, _ := s.Catalog()
	assert.Equal(t, "air", again[0].Tags[0])
}

func TestStore_SweeperLifecycle(t *testing.T) {
	s := New(Config{}, nil, nil)
	s.StartSweeper(10 * time.Millisecond)
	s.StartSweeper(10 * time.Millisecond) // second start is a no-op
	time.Sleep(25 * time.Millisecond)
	s.StopSweeper()
	s.StopSweeper() // second stop is a no-op
}

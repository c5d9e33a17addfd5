// Package syncer runs the periodic synchronization job: it pulls the raw
// external catalog, diffs it against the relational store by content hash,
// persists what changed and invalidates the affected cache keys so the
// delta log reflects the sync.
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalogd/internal/domain"
	"catalogd/internal/infra/source"
)

// Source is the slice of the source client the syncer needs.
type Source interface {
	FetchRaw(ctx context.Context) ([]domain.RawServiceRecord, error)
	Upsert(ctx context.Context, e domain.CatalogEntry, contentHash string) (created, changed bool, err error)
	ContentHashes(ctx context.Context) (map[string]string, error)
	Deactivate(ctx context.Context, slug string) (bool, error)
}

// Cache is the slice of the cache store the syncer needs.
type Cache interface {
	MarkChanged(key string, op domain.DeltaOp)
	Invalidate(key string) bool
}

// HealthRecorder receives the outcome of every sync attempt.
type HealthRecorder interface {
	Record(rec domain.SyncRecord)
}

type Syncer struct {
	source  Source
	cache   Cache
	health  HealthRecorder
	logger  *zap.Logger
	metrics domain.Metrics

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
}

func New(src Source, cache Cache, health HealthRecorder, logger *zap.Logger, metrics domain.Metrics) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		source:  src,
		cache:   cache,
		health:  health,
		logger:  logger,
		metrics: metrics,
	}
}

// RunOnce performs one synchronization attempt. The outcome is always
// reported to the health recorder, success or not.
func (s *Syncer) RunOnce(ctx context.Context) (domain.SyncRecord, error) {
	start := time.Now()

	raw, err := s.source.FetchRaw(ctx)
	if err != nil {
		rec := domain.SyncRecord{
			Timestamp: start,
			Duration:  time.Since(start),
			Success:   false,
			Error:     err.Error(),
		}
		s.report(rec, err)
		return rec, err
	}

	stats := domain.SyncStats{}
	var firstErr error
	fetched := make(map[string]struct{}, len(raw))
	for _, record := range raw {
		entry := source.MapRecord(record)
		if entry.ID == "" {
			// A record without slug or id cannot be keyed; skip it rather
			// than failing the whole run on the upsert below.
			s.logger.Warn("sync skipping record with no identifier",
				zap.String("name", record.Name),
			)
			continue
		}
		fetched[entry.ID] = struct{}{}
		hash := source.ContentHash(record)

		created, changed, upsertErr := s.source.Upsert(ctx, entry, hash)
		if upsertErr != nil {
			s.logger.Error("sync upsert failed",
				zap.String("slug", entry.ID),
				zap.Error(upsertErr),
			)
			if firstErr == nil {
				firstErr = upsertErr
			}
			continue
		}

		stats.Synced++
		switch {
		case created:
			stats.Created++
			s.cache.MarkChanged(domain.ServiceCacheKey(entry.ID), domain.DeltaAdded)
		case changed:
			stats.Updated++
			s.cache.MarkChanged(domain.ServiceCacheKey(entry.ID), domain.DeltaUpdated)
		}
	}

	if len(fetched) > 0 {
		// Rows whose slug vanished from the feed are retired. Skipped when
		// the fetch yielded nothing usable, so a degraded source cannot
		// retire the whole catalog.
		if retireErr := s.retireMissing(ctx, fetched, &stats); retireErr != nil && firstErr == nil {
			firstErr = retireErr
		}
	}

	if stats.Created > 0 || stats.Updated > 0 || stats.Deleted > 0 {
		// Aggregates are stale once any entry moved.
		s.cache.Invalidate(domain.CacheKeyCatalog)
		s.cache.Invalidate(domain.CacheKeyCategories)
	}

	rec := domain.SyncRecord{
		Timestamp: start,
		Duration:  time.Since(start),
		Success:   firstErr == nil,
		ItemCount: len(raw),
		Stats:     &stats,
	}
	if firstErr != nil {
		rec.Error = firstErr.Error()
	}
	s.report(rec, firstErr)
	return rec, firstErr
}

// retireMissing deactivates stored rows whose slug is absent from the
// current feed and records the deletion in the delta log.
func (s *Syncer) retireMissing(ctx context.Context, fetched map[string]struct{}, stats *domain.SyncStats) error {
	known, err := s.source.ContentHashes(ctx)
	if err != nil {
		s.logger.Warn("sync could not list stored slugs", zap.Error(err))
		return err
	}
	var firstErr error
	for slug := range known {
		if _, present := fetched[slug]; present {
			continue
		}
		retired, err := s.source.Deactivate(ctx, slug)
		if err != nil {
			s.logger.Error("sync retire failed", zap.String("slug", slug), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if retired {
			stats.Deleted++
			s.cache.MarkChanged(domain.ServiceCacheKey(slug), domain.DeltaDeleted)
		}
	}
	return firstErr
}

func (s *Syncer) report(rec domain.SyncRecord, err error) {
	if s.health != nil {
		s.health.Record(rec)
	}
	if s.metrics != nil {
		s.metrics.ObserveSync(rec.Duration, rec.ItemCount, err)
	}
}

// Start begins periodic syncs. The first run happens after one interval;
// callers wanting an immediate sync invoke RunOnce themselves.
func (s *Syncer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = domain.DefaultSyncInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(interval)
	s.stop = make(chan struct{})
	stop := s.stop
	ticker := s.ticker

	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Warn("periodic sync failed", zap.Error(err))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends periodic syncs.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	close(s.stop)
	s.stop = nil
}

// Package app hosts the catalog controller façade and the daemon wiring.
// The controller owns the read path: cache-first lookups with single-flight
// miss coalescing, clamped pagination and the public error taxonomy.
package app

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"catalogd/internal/domain"
)

// slugPattern is the only accepted shape for service identifiers coming in
// from callers. Anything else is rejected before touching cache or source.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Cache is the slice of the cache store the controller needs.
// Implemented by *cache.Store.
type Cache interface {
	Catalog() ([]domain.CatalogEntry, bool)
	SetCatalog(entries []domain.CatalogEntry)
	Service(slug string) (domain.CatalogEntry, bool)
	SetService(slug string, e domain.CatalogEntry)
	Categories() ([]domain.CategoryCount, bool)
	SetCategories(counts []domain.CategoryCount)
	Version() int64
	DeltaSince(version int64) domain.CacheDelta
	Stats() domain.CacheStats
}

// Source is the slice of the catalog source client the controller needs.
// Implemented by *source.Client.
type Source interface {
	GetAll(ctx context.Context) ([]domain.CatalogEntry, error)
	GetBySlug(ctx context.Context, slug string) (domain.CatalogEntry, bool, error)
	Search(ctx context.Context, filter domain.SearchFilter) ([]domain.CatalogEntry, error)
	GetCategories(ctx context.Context) ([]domain.CategoryCount, error)
}

// Relational is the slice of the relational store the controller reads
// directly: availability rows and the changed-since log for sync deltas.
// Implemented by *sqlite.Store.
type Relational interface {
	Availability(ctx context.Context, serviceID, location string) ([]domain.AvailabilityRecord, error)
	ListChangedSince(ctx context.Context, since time.Time) (added, updated []string, err error)
}

// Health is the slice of the sync health monitor the controller exposes.
// Implemented by *synchealth.Monitor.
type Health interface {
	Metrics() domain.SyncHealthMetrics
	History(limit int) []domain.SyncRecord
}

// CatalogPage is the paginated catalog response.
type CatalogPage struct {
	Services   []domain.CatalogEntry  `json:"services"`
	Categories []domain.CategoryCount `json:"categories"`
	Meta       PageMeta               `json:"meta"`
	Version    int64                  `json:"version"`
	Timestamp  time.Time              `json:"timestamp"`
}

type PageMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ServiceDetail is the single-service response: the entry itself, its
// resolved related entries and its availability rows.
type ServiceDetail struct {
	Service      domain.CatalogEntry         `json:"service"`
	Related      []domain.CatalogEntry       `json:"related,omitempty"`
	Availability []domain.AvailabilityRecord `json:"availability,omitempty"`
	Version      int64                       `json:"version"`
	Timestamp    time.Time                   `json:"timestamp"`
}

// SearchOptions carries every parameter of a catalog search. Zero values
// fall back to defaults: no filtering, limit 50, offset 0, source order.
type SearchOptions struct {
	Query     string
	Category  string
	Tags      []string
	Active    *bool
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// SearchResult is the uncached search response.
type SearchResult struct {
	Services  []domain.CatalogEntry `json:"services"`
	Meta      SearchMeta            `json:"meta"`
	Timestamp time.Time             `json:"timestamp"`
}

// SearchMeta reports the query alongside pagination: Total counts every
// match before slicing, Limit and Offset are the applied values.
type SearchMeta struct {
	Query  string `json:"query"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type Controller struct {
	cache   Cache
	source  Source
	store   Relational
	health  Health
	logger  *zap.Logger
	metrics domain.Metrics

	// group coalesces concurrent cache-miss fetches per key so a cold or
	// just-invalidated key triggers exactly one upstream call.
	group singleflight.Group

	now func() time.Time
}

func NewController(cache Cache, src Source, store Relational, health Health, logger *zap.Logger, metrics domain.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cache:   cache,
		source:  src,
		store:   store,
		health:  health,
		logger:  logger.Named("controller"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Catalog returns one page of the catalog plus the category breakdown.
// limit is clamped to (0, 500] with a default of 50; offset below zero is
// treated as zero. Meta.Total always reflects the unsliced list.
func (c *Controller) Catalog(ctx context.Context, limit, offset int) (CatalogPage, error) {
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	if limit > domain.MaxCatalogPageSize {
		limit = domain.MaxCatalogPageSize
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := c.catalogEntries(ctx)
	if err != nil {
		return CatalogPage{}, domain.Wrap(domain.CodeCatalogError, "getCatalog", err)
	}

	counts, err := c.categoryCounts(ctx)
	if err != nil {
		// The page is still useful without the breakdown.
		c.logger.Warn("category breakdown unavailable", zap.Error(err))
		counts = nil
	}

	page := entries
	switch {
	case offset >= len(entries):
		page = nil
	case offset+limit < len(entries):
		page = entries[offset : offset+limit]
	default:
		page = entries[offset:]
	}

	return CatalogPage{
		Services:   page,
		Categories: counts,
		Meta:       PageMeta{Total: len(entries), Limit: limit, Offset: offset},
		Version:    c.cache.Version(),
		Timestamp:  c.now(),
	}, nil
}

// Service returns one entry by slug with up to four related entries and its
// availability rows. Related resolution and availability are best-effort:
// their failures degrade the response instead of failing it.
func (c *Controller) Service(ctx context.Context, slug string) (ServiceDetail, error) {
	if !slugPattern.MatchString(slug) {
		return ServiceDetail{}, domain.E(domain.CodeInvalidSlug, "getService", "invalid service identifier", nil)
	}

	entry, ok := c.cache.Service(slug)
	if !ok {
		v, err, _ := c.group.Do(domain.ServiceCacheKey(slug), func() (any, error) {
			e, found, err := c.source.GetBySlug(ctx, slug)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, domain.E(domain.CodeServiceNotFound, "getService", "service not found: "+slug, nil)
			}
			c.cache.SetService(slug, e)
			return e, nil
		})
		if err != nil {
			return ServiceDetail{}, domain.Wrap(domain.CodeServiceError, "getService", err)
		}
		entry = v.(domain.CatalogEntry)
	}

	detail := ServiceDetail{
		Service:   entry,
		Version:   c.cache.Version(),
		Timestamp: c.now(),
	}
	detail.Related = c.resolveRelated(ctx, entry)

	if c.store != nil {
		availability, err := c.store.Availability(ctx, slug, "")
		if err != nil {
			c.logger.Warn("availability lookup failed", zap.String("slug", slug), zap.Error(err))
		} else {
			detail.Availability = availability
		}
	}
	return detail, nil
}

// resolveRelated looks up at most four related entries, preferring the cache
// and skipping anything that cannot be resolved.
func (c *Controller) resolveRelated(ctx context.Context, entry domain.CatalogEntry) []domain.CatalogEntry {
	if len(entry.RelatedIDs) == 0 {
		return nil
	}
	ids := entry.RelatedIDs
	if len(ids) > domain.MaxRelatedServices {
		ids = ids[:domain.MaxRelatedServices]
	}

	var related []domain.CatalogEntry
	for _, id := range ids {
		if id == entry.ID || !slugPattern.MatchString(id) {
			continue
		}
		if cached, ok := c.cache.Service(id); ok {
			related = append(related, cached)
			continue
		}
		e, found, err := c.source.GetBySlug(ctx, id)
		if err != nil || !found {
			c.logger.Debug("related service unresolved", zap.String("slug", id), zap.Error(err))
			continue
		}
		c.cache.SetService(id, e)
		related = append(related, e)
	}
	return related
}

// SearchServices runs an uncached search. Limit is clamped to (0, 100] with
// a default of 50; Offset below zero is treated as zero. Sorting and the
// offset/limit slice are applied after filtering, so Meta.Total counts every
// match.
func (c *Controller) SearchServices(ctx context.Context, opts SearchOptions) (SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = domain.DefaultPageSize
	}
	if opts.Limit > domain.MaxSearchPageSize {
		opts.Limit = domain.MaxSearchPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	entries, err := c.source.Search(ctx, domain.SearchFilter{
		Query:    opts.Query,
		Category: opts.Category,
		Tags:     opts.Tags,
		Active:   opts.Active,
	})
	if err != nil {
		return SearchResult{}, domain.Wrap(domain.CodeSearchError, "searchServices", err)
	}
	sortEntries(entries, opts.SortBy, opts.SortOrder)

	total := len(entries)
	switch {
	case opts.Offset >= len(entries):
		entries = nil
	case opts.Offset+opts.Limit < len(entries):
		entries = entries[opts.Offset : opts.Offset+opts.Limit]
	default:
		entries = entries[opts.Offset:]
	}
	return SearchResult{
		Services: entries,
		Meta: SearchMeta{
			Query:  opts.Query,
			Total:  total,
			Limit:  opts.Limit,
			Offset: opts.Offset,
		},
		Timestamp: c.now(),
	}, nil
}

// sortEntries orders search results in place. An empty or unknown sortBy
// keeps the source order; "desc" reverses whichever order applies.
func sortEntries(entries []domain.CatalogEntry, sortBy, sortOrder string) {
	var less func(a, b domain.CatalogEntry) bool
	switch strings.ToLower(sortBy) {
	case "title", "name":
		less = func(a, b domain.CatalogEntry) bool { return a.Title < b.Title }
	case "category":
		less = func(a, b domain.CatalogEntry) bool { return a.Category < b.Category }
	case "popularity":
		less = func(a, b domain.CatalogEntry) bool { return a.Popularity < b.Popularity }
	case "updatedat", "updated_at":
		less = func(a, b domain.CatalogEntry) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		if strings.EqualFold(sortOrder, "desc") {
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
		return
	}
	desc := strings.EqualFold(sortOrder, "desc")
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

// Categories returns the category breakdown, cache-first.
func (c *Controller) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	counts, err := c.categoryCounts(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeCategoriesError, "getCategories", err)
	}
	return counts, nil
}

// Availability returns the availability rows for a service, optionally
// narrowed to one location. The read is an uncached pass-through.
func (c *Controller) Availability(ctx context.Context, serviceID, location string) ([]domain.AvailabilityRecord, error) {
	if !slugPattern.MatchString(serviceID) {
		return nil, domain.E(domain.CodeInvalidServiceID, "getAvailability", "invalid service identifier", nil)
	}
	records, err := c.store.Availability(ctx, serviceID, location)
	if err != nil {
		return nil, domain.Wrap(domain.CodeAvailabilityErr, "getAvailability", err)
	}
	return records, nil
}

// SyncDelta reports what changed since the given cache version, merging the
// cache delta log with the relational changed-since rows. A sinceVersion at
// or past the current version short-circuits to an empty delta; a version
// the delta log no longer covers reports FullResync.
func (c *Controller) SyncDelta(ctx context.Context, sinceVersion int64) (domain.SyncDelta, error) {
	current := c.cache.Version()
	delta := domain.SyncDelta{
		Version:     sinceVersion,
		Timestamp:   c.now(),
		NextVersion: current,
	}
	if sinceVersion >= current {
		return delta, nil
	}

	cacheDelta := c.cache.DeltaSince(sinceVersion)
	delta.NextVersion = cacheDelta.NextVersion
	if cacheDelta.FullResync {
		delta.FullResync = true
		return delta, nil
	}

	added := make(map[string]struct{})
	updated := make(map[string]struct{})
	deleted := make(map[string]struct{})
	for _, key := range cacheDelta.Added {
		if slug, ok := serviceSlugFromKey(key); ok {
			added[slug] = struct{}{}
		}
	}
	for _, key := range cacheDelta.Updated {
		if slug, ok := serviceSlugFromKey(key); ok {
			updated[slug] = struct{}{}
		}
	}
	for _, key := range cacheDelta.Deleted {
		if slug, ok := serviceSlugFromKey(key); ok {
			deleted[slug] = struct{}{}
		}
	}

	if c.store != nil {
		rowsAdded, rowsUpdated, err := c.store.ListChangedSince(ctx, time.UnixMilli(sinceVersion))
		if err != nil {
			return domain.SyncDelta{}, domain.Wrap(domain.CodeSyncError, "getSyncDelta", err)
		}
		for _, slug := range rowsAdded {
			if _, dup := added[slug]; !dup {
				added[slug] = struct{}{}
			}
		}
		for _, slug := range rowsUpdated {
			_, isAdded := added[slug]
			_, isDeleted := deleted[slug]
			if !isAdded && !isDeleted {
				updated[slug] = struct{}{}
			}
		}
	}

	delta.Services = domain.DeltaServices{
		Added:   sortedKeys(added),
		Updated: sortedKeys(updated),
		Deleted: sortedKeys(deleted),
	}
	return delta, nil
}

// SyncHealth returns the derived health metrics over the monitor's window.
func (c *Controller) SyncHealth() domain.SyncHealthMetrics {
	return c.health.Metrics()
}

// SyncHistory returns the most recent sync attempts, newest first.
func (c *Controller) SyncHistory(limit int) []domain.SyncRecord {
	return c.health.History(limit)
}

// CacheStats returns a point-in-time cache snapshot.
func (c *Controller) CacheStats() domain.CacheStats {
	return c.cache.Stats()
}

// catalogEntries serves the full list cache-first, coalescing misses.
func (c *Controller) catalogEntries(ctx context.Context) ([]domain.CatalogEntry, error) {
	if entries, ok := c.cache.Catalog(); ok {
		return entries, nil
	}
	v, err, _ := c.group.Do(domain.CacheKeyCatalog, func() (any, error) {
		entries, err := c.source.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetCatalog(entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CatalogEntry), nil
}

// categoryCounts serves the breakdown cache-first, coalescing misses.
func (c *Controller) categoryCounts(ctx context.Context) ([]domain.CategoryCount, error) {
	if counts, ok := c.cache.Categories(); ok {
		return counts, nil
	}
	v, err, _ := c.group.Do(domain.CacheKeyCategories, func() (any, error) {
		counts, err := c.source.GetCategories(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetCategories(counts)
		return counts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CategoryCount), nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func serviceSlugFromKey(key string) (string, bool) {
	if len(key) <= len(domain.CachePrefixService) {
		return "", false
	}
	if key[:len(domain.CachePrefixService)] != domain.CachePrefixService {
		return "", false
	}
	return key[len(domain.CachePrefixService):], true
}

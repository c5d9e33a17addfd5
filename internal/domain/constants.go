package domain

import "time"

const (
	DefaultCatalogTTL  = 5 * time.Minute
	DefaultServiceTTL  = time.Minute
	DefaultCategoryTTL = 5 * time.Minute

	DefaultMaxCacheEntries = 1000
	DefaultDeltaLogSize    = 100
	DefaultSweepInterval   = time.Minute

	DefaultFetchTimeout   = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = time.Second

	DefaultHealthWindow     = 24 * time.Hour
	DefaultHealthBufferSize = 500
	DefaultHistoryLimit     = 50
	// UptimeCreditCap bounds how much uptime a single successful sync can
	// vouch for, so one success cannot cover a multi-hour gap.
	UptimeCreditCap = 10 * time.Minute
	// DurationScoreKnee is the mean sync duration up to which the duration
	// component of the health score stays at 100.
	DurationScoreKnee = 30 * time.Second

	DefaultSyncInterval = 10 * time.Minute

	MaxCatalogPageSize = 500
	MaxSearchPageSize  = 100
	DefaultPageSize    = 50
	MaxRelatedServices = 4

	DefaultObservabilityListenAddress = "0.0.0.0:9090"
	DefaultDatabasePath               = "catalogd.db"
)

// Cache key prefixes select the TTL class for keys written without an
// explicit TTL.
const (
	CacheKeyCatalog    = "catalog:all"
	CacheKeyCategories = "categories:all"

	CachePrefixCatalog    = "catalog:"
	CachePrefixService    = "service:"
	CachePrefixCategories = "categories:"
)

// ServiceCacheKey builds the single-entry cache key for a slug.
func ServiceCacheKey(slug string) string {
	return CachePrefixService + slug
}

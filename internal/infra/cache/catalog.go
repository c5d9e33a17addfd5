package cache

import "catalogd/internal/domain"

// Typed wrappers for the catalog's three cached aggregates. Values are
// deep-copied on both read and write so callers can never mutate what other
// readers see.

// Catalog returns the cached full catalog list.
func (s *Store) Catalog() ([]domain.CatalogEntry, bool) {
	v, ok := s.Get(domain.CacheKeyCatalog)
	if !ok {
		return nil, false
	}
	entries, ok := v.([]domain.CatalogEntry)
	if !ok {
		return nil, false
	}
	return domain.CloneCatalogEntries(entries), true
}

// SetCatalog caches the full catalog list with the catalog TTL.
func (s *Store) SetCatalog(entries []domain.CatalogEntry) {
	s.Set(domain.CacheKeyCatalog, domain.CloneCatalogEntries(entries))
}

// Service returns the cached entry for a slug.
func (s *Store) Service(slug string) (domain.CatalogEntry, bool) {
	v, ok := s.Get(domain.ServiceCacheKey(slug))
	if !ok {
		return domain.CatalogEntry{}, false
	}
	e, ok := v.(domain.CatalogEntry)
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return domain.CloneCatalogEntry(e), true
}

// SetService caches a single entry with the single-entry TTL.
func (s *Store) SetService(slug string, e domain.CatalogEntry) {
	s.Set(domain.ServiceCacheKey(slug), domain.CloneCatalogEntry(e))
}

// Categories returns the cached category-count breakdown.
func (s *Store) Categories() ([]domain.CategoryCount, bool) {
	v, ok := s.Get(domain.CacheKeyCategories)
	if !ok {
		return nil, false
	}
	counts, ok := v.([]domain.CategoryCount)
	if !ok {
		return nil, false
	}
	return append([]domain.CategoryCount(nil), counts...), true
}

// SetCategories caches the category breakdown with the category TTL.
func (s *Store) SetCategories(counts []domain.CategoryCount) {
	s.Set(domain.CacheKeyCategories, append([]domain.CategoryCount(nil), counts...))
}

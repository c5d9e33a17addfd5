package cache

import "catalogd/internal/domain"

// estimateSize gives a rough per-entry memory footprint for Stats. It only
// needs to be proportional, not exact.

const entryOverhead = 96

func estimateSize(key string, value any) int64 {
	size := int64(entryOverhead + len(key))
	switch v := value.(type) {
	case []domain.CatalogEntry:
		for _, e := range v {
			size += catalogEntrySize(e)
		}
	case domain.CatalogEntry:
		size += catalogEntrySize(v)
	case []domain.CategoryCount:
		for _, c := range v {
			size += int64(len(c.Category)) + 16
		}
	case string:
		size += int64(len(v))
	case []byte:
		size += int64(len(v))
	default:
		size += 256
	}
	return size
}

func catalogEntrySize(e domain.CatalogEntry) int64 {
	size := int64(len(e.ID) + len(e.Title) + len(e.Description) + len(e.Category) +
		len(e.Icon) + len(e.ImageURL) + len(e.AdditionalInfo) + len(e.DeliveryTime) +
		len(e.Coverage) + len(e.Pricing))
	for _, s := range e.Features {
		size += int64(len(s))
	}
	for _, s := range e.Benefits {
		size += int64(len(s))
	}
	for _, s := range e.RelatedIDs {
		size += int64(len(s))
	}
	for _, s := range e.Tags {
		size += int64(len(s))
	}
	for _, s := range e.Certifications {
		size += int64(len(s))
	}
	for _, st := range e.Stats {
		size += int64(len(st.Label) + len(st.Value))
	}
	return size + 128
}

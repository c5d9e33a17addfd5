package domain

import (
	"encoding/json"
	"time"
)

// CatalogEntry is a single service offering in the catalog. The ID is an
// externally assigned slug, unique within the catalog and stable across
// syncs; it doubles as the cache key suffix and the join key against the
// relational fallback.
type CatalogEntry struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Icon           string          `json:"icon"`
	ImageURL       string          `json:"imageUrl,omitempty"`
	Features       []string        `json:"features,omitempty"`
	Benefits       []string        `json:"benefits,omitempty"`
	AdditionalInfo string          `json:"additionalInfo,omitempty"`
	RelatedIDs     []string        `json:"relatedIds,omitempty"`
	Pricing        json.RawMessage `json:"pricing,omitempty"`
	DeliveryTime   string          `json:"deliveryTime,omitempty"`
	Coverage       string          `json:"coverage,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Stats          []ServiceStat   `json:"stats,omitempty"`
	Certifications []string        `json:"certifications,omitempty"`
	Active         bool            `json:"active"`
	Popularity     float64         `json:"popularity"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ServiceStat is a single display statistic attached to an entry
// (e.g. "shipments handled" / "12k").
type ServiceStat struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CloneCatalogEntry returns a deep copy so cached values cannot be mutated
// by callers.
func CloneCatalogEntry(e CatalogEntry) CatalogEntry {
	out := e
	out.Features = append([]string(nil), e.Features...)
	out.Benefits = append([]string(nil), e.Benefits...)
	out.RelatedIDs = append([]string(nil), e.RelatedIDs...)
	out.Tags = append([]string(nil), e.Tags...)
	out.Certifications = append([]string(nil), e.Certifications...)
	out.Stats = append([]ServiceStat(nil), e.Stats...)
	out.Pricing = append(json.RawMessage(nil), e.Pricing...)
	return out
}

// CloneCatalogEntries deep-copies a slice of entries.
func CloneCatalogEntries(entries []CatalogEntry) []CatalogEntry {
	if entries == nil {
		return nil
	}
	out := make([]CatalogEntry, len(entries))
	for i, e := range entries {
		out[i] = CloneCatalogEntry(e)
	}
	return out
}

// RawServiceRecord is the wire shape returned by the external content
// service at GET {base}/services.
type RawServiceRecord struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Category         string `json:"category"`
	ShortDescription string `json:"short_description"`
	HeroImageURL     string `json:"hero_image_url"`
}

// AvailabilityRecord is a row from the relational availability table.
type AvailabilityRecord struct {
	ServiceID    string    `json:"serviceId"`
	Location     string    `json:"location"`
	Status       string    `json:"status"`
	LeadTimeDays int       `json:"leadTimeDays"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SearchFilter narrows a catalog search. Zero values mean "no constraint":
// an empty query matches everything, a nil Active skips the active check,
// and Tags requires every listed tag to be present.
type SearchFilter struct {
	Query    string   `json:"query"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Active   *bool    `json:"isActive,omitempty"`
}

// CategoryCount is one bucket of the category breakdown, sorted descending
// by count when listed.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

package source

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"catalogd/internal/domain"
)

// categoryIcons maps known categories to a default icon name. Categories
// not listed fall back to the generic icon.
var categoryIcons = map[string]string{
	"freight":     "truck",
	"air":         "plane",
	"sea":         "ship",
	"rail":        "train",
	"warehousing": "warehouse",
	"customs":     "stamp",
	"express":     "zap",
	"consulting":  "briefcase",
}

const defaultIcon = "package"

// MapRecord converts a raw external record into a CatalogEntry, deriving a
// default icon from the category and synthesizing tags from category and
// slug when the source provides none.
func MapRecord(record domain.RawServiceRecord) domain.CatalogEntry {
	slug := recordSlug(record)
	return domain.CatalogEntry{
		ID:          slug,
		Title:       record.Name,
		Description: record.ShortDescription,
		Category:    record.Category,
		Icon:        DeriveIcon(record.Category),
		ImageURL:    record.HeroImageURL,
		Tags:        synthesizeTags(record.Category, slug),
		Active:      true,
	}
}

// SanitizeRecords drops records with no usable identifier and collapses
// duplicate slugs, keeping the first occurrence. Every entry derived from
// the result has a non-empty, unique ID.
func SanitizeRecords(records []domain.RawServiceRecord) []domain.RawServiceRecord {
	if len(records) == 0 {
		return records
	}
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, record := range records {
		slug := recordSlug(record)
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, record)
	}
	return out
}

func recordSlug(record domain.RawServiceRecord) string {
	if slug := strings.TrimSpace(record.Slug); slug != "" {
		return slug
	}
	return strings.TrimSpace(record.ID)
}

// DeriveIcon returns the default icon name for a category.
func DeriveIcon(category string) string {
	if icon, ok := categoryIcons[strings.ToLower(strings.TrimSpace(category))]; ok {
		return icon
	}
	return defaultIcon
}

func synthesizeTags(category, slug string) []string {
	var tags []string
	if category = strings.TrimSpace(category); category != "" {
		tags = append(tags, strings.ToLower(category))
	}
	if slug != "" {
		tags = append(tags, slug)
	}
	return tags
}

// ContentHash computes a deterministic hash over the identity-affecting
// fields of a record, letting sync jobs tell "unchanged since last sync"
// from "modified" without comparing every field.
func ContentHash(record domain.RawServiceRecord) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		record.Name,
		recordSlug(record),
		record.Category,
		record.ShortDescription,
		record.HeroImageURL,
	}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// Package sqlite persists catalog rows and availability records in SQLite.
// It is the last-resort fallback when the external content service is
// unreachable, and the durable target of sync jobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"catalogd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	slug TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	features TEXT NOT NULL DEFAULT '[]',
	benefits TEXT NOT NULL DEFAULT '[]',
	additional_info TEXT NOT NULL DEFAULT '',
	related_ids TEXT NOT NULL DEFAULT '[]',
	pricing TEXT NOT NULL DEFAULT 'null',
	delivery_time TEXT NOT NULL DEFAULT '',
	coverage TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	stats TEXT NOT NULL DEFAULT '[]',
	certifications TEXT NOT NULL DEFAULT '[]',
	active INTEGER NOT NULL DEFAULT 1,
	popularity REAL NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	row_version INTEGER NOT NULL DEFAULT 1,
	synced_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_category ON catalog_entries(category);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_updated_at ON catalog_entries(updated_at);
CREATE TABLE IF NOT EXISTS availability (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'available',
	lead_time_days INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	UNIQUE (service_id, location)
);
CREATE INDEX IF NOT EXISTS idx_availability_service ON availability(service_id);
`

// Store persists catalog state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite catalog store and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const entryColumns = `slug, title, description, category, icon, image_url,
	features, benefits, additional_info, related_ids, pricing, delivery_time,
	coverage, tags, stats, certifications, active, popularity, created_at, updated_at`

// ListActive returns all active catalog rows ordered by popularity.
func (s *Store) ListActive(ctx context.Context) ([]domain.CatalogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE active = 1 ORDER BY popularity DESC, slug ASC`)
}

// GetBySlug returns a single row by identifier.
func (s *Store) GetBySlug(ctx context.Context, slug string) (domain.CatalogEntry, bool, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE slug = ?`, slug)
	if err != nil {
		return domain.CatalogEntry{}, false, err
	}
	if len(entries) == 0 {
		return domain.CatalogEntry{}, false, nil
	}
	return entries[0], true, nil
}

// ListByCategory returns active rows in a category.
func (s *Store) ListByCategory(ctx context.Context, category string) ([]domain.CatalogEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE active = 1 AND category = ? ORDER BY popularity DESC, slug ASC`,
		category)
}

// Search matches rows against the filter. The query is matched
// case-insensitively over title, description and tags; category, tag and
// active constraints narrow further. A nil Active means no active check.
func (s *Store) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.CatalogEntry, error) {
	where := []string{"1 = 1"}
	var args []any

	if query := strings.ToLower(strings.TrimSpace(filter.Query)); query != "" {
		like := "%" + query + "%"
		where = append(where, `(lower(title) LIKE ? OR lower(description) LIKE ? OR lower(tags) LIKE ?)`)
		args = append(args, like, like, like)
	}
	if filter.Category != "" {
		where = append(where, `lower(category) = lower(?)`)
		args = append(args, filter.Category)
	}
	if filter.Active != nil {
		where = append(where, `active = ?`)
		args = append(args, boolToInt(*filter.Active))
	}
	for _, tag := range filter.Tags {
		// Tags are stored as a JSON string array; match the quoted element.
		where = append(where, `lower(tags) LIKE ?`)
		args = append(args, `%"`+strings.ToLower(strings.TrimSpace(tag))+`"%`)
	}

	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY popularity DESC, slug ASC`,
		args...)
}

// CategoryCounts returns the category breakdown of active rows, sorted
// descending by count.
func (s *Store) CategoryCounts(ctx context.Context) ([]domain.CategoryCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT category, COUNT(*) AS n FROM catalog_entries WHERE active = 1 GROUP BY category ORDER BY n DESC, category ASC`)
	if err != nil {
		return nil, fmt.Errorf("query category counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []domain.CategoryCount
	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Upsert inserts or updates a row keyed by slug. The row version is bumped
// only when the content hash changed; synced_at is stamped either way.
// Returns whether the row was created and whether its content changed.
func (s *Store) Upsert(ctx context.Context, e domain.CatalogEntry, contentHash string) (created, changed bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	slug := strings.TrimSpace(e.ID)
	if slug == "" {
		return false, false, fmt.Errorf("slug is required")
	}

	now := time.Now().UTC()
	var existingHash string
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT content_hash FROM catalog_entries WHERE slug = ?`, slug).Scan(&existingHash)
	switch {
	case err == sql.ErrNoRows:
		created = true
	case err != nil:
		return false, false, fmt.Errorf("probe existing row: %w", err)
	}

	features, benefits, related, tags, stats, certs, pricing, encErr := encodeListColumns(e)
	if encErr != nil {
		return false, false, encErr
	}

	if created {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err = s.sqlDB.ExecContext(ctx,
			`INSERT INTO catalog_entries (slug, title, description, category, icon, image_url,
				features, benefits, additional_info, related_ids, pricing, delivery_time,
				coverage, tags, stats, certifications, active, popularity,
				content_hash, row_version, synced_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			slug, e.Title, e.Description, e.Category, e.Icon, e.ImageURL,
			features, benefits, e.AdditionalInfo, related, pricing, e.DeliveryTime,
			e.Coverage, tags, stats, certs, boolToInt(e.Active), e.Popularity,
			contentHash, toMillis(now), toMillis(createdAt), toMillis(now))
		if err != nil {
			return false, false, fmt.Errorf("insert catalog row: %w", err)
		}
		return true, true, nil
	}

	if existingHash == contentHash && contentHash != "" {
		_, err = s.sqlDB.ExecContext(ctx,
			`UPDATE catalog_entries SET synced_at = ? WHERE slug = ?`, toMillis(now), slug)
		if err != nil {
			return false, false, fmt.Errorf("stamp synced_at: %w", err)
		}
		return false, false, nil
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`UPDATE catalog_entries SET title = ?, description = ?, category = ?, icon = ?, image_url = ?,
			features = ?, benefits = ?, additional_info = ?, related_ids = ?, pricing = ?,
			delivery_time = ?, coverage = ?, tags = ?, stats = ?, certifications = ?,
			active = ?, popularity = ?, content_hash = ?,
			row_version = row_version + 1, synced_at = ?, updated_at = ?
		 WHERE slug = ?`,
		e.Title, e.Description, e.Category, e.Icon, e.ImageURL,
		features, benefits, e.AdditionalInfo, related, pricing,
		e.DeliveryTime, e.Coverage, tags, stats, certs,
		boolToInt(e.Active), e.Popularity, contentHash,
		toMillis(now), toMillis(now), slug)
	if err != nil {
		return false, false, fmt.Errorf("update catalog row: %w", err)
	}
	return false, true, nil
}

// Deactivate retires a row whose slug disappeared from the external feed.
// Returns whether an active row was actually retired.
func (s *Store) Deactivate(ctx context.Context, slug string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE catalog_entries SET active = 0, row_version = row_version + 1, updated_at = ?
		 WHERE slug = ? AND active = 1`,
		toMillis(time.Now().UTC()), slug)
	if err != nil {
		return false, fmt.Errorf("deactivate catalog row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate catalog row: %w", err)
	}
	return affected > 0, nil
}

// RowVersion returns the per-row version counter for a slug.
func (s *Store) RowVersion(ctx context.Context, slug string) (int64, error) {
	var v int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT row_version FROM catalog_entries WHERE slug = ?`, slug).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("query row version: %w", err)
	}
	return v, nil
}

// ContentHashes returns slug -> content hash for every row, for sync jobs
// to diff against freshly fetched records.
func (s *Store) ContentHashes(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT slug, content_hash FROM catalog_entries`)
	if err != nil {
		return nil, fmt.Errorf("query content hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var slug, hash string
		if err := rows.Scan(&slug, &hash); err != nil {
			return nil, fmt.Errorf("scan content hash: %w", err)
		}
		hashes[slug] = hash
	}
	return hashes, rows.Err()
}

// ListChangedSince returns the slugs of rows created or updated after the
// given instant, split by which it was.
func (s *Store) ListChangedSince(ctx context.Context, since time.Time) (added, updated []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT slug, created_at, updated_at FROM catalog_entries WHERE updated_at > ? ORDER BY slug ASC`,
		toMillis(since))
	if err != nil {
		return nil, nil, fmt.Errorf("query changed rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cutoff := toMillis(since)
	for rows.Next() {
		var slug string
		var createdAt, updatedAt int64
		if err := rows.Scan(&slug, &createdAt, &updatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan changed row: %w", err)
		}
		if createdAt > cutoff {
			added = append(added, slug)
		} else {
			updated = append(updated, slug)
		}
	}
	return added, updated, rows.Err()
}

// Availability returns availability rows for a service, optionally filtered
// by location.
func (s *Store) Availability(ctx context.Context, serviceID, location string) ([]domain.AvailabilityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `SELECT service_id, location, status, lead_time_days, updated_at FROM availability WHERE service_id = ?`
	args := []any{serviceID}
	if location != "" {
		query += ` AND location = ?`
		args = append(args, location)
	}
	query += ` ORDER BY location ASC`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []domain.AvailabilityRecord
	for rows.Next() {
		var rec domain.AvailabilityRecord
		var updatedAt int64
		if err := rows.Scan(&rec.ServiceID, &rec.Location, &rec.Status, &rec.LeadTimeDays, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		rec.UpdatedAt = fromMillis(updatedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetAvailability inserts or replaces one availability row.
func (s *Store) SetAvailability(ctx context.Context, rec domain.AvailabilityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ServiceID) == "" {
		return fmt.Errorf("service id is required")
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO availability (service_id, location, status, lead_time_days, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (service_id, location) DO UPDATE SET
			status = excluded.status,
			lead_time_days = excluded.lead_time_days,
			updated_at = excluded.updated_at`,
		rec.ServiceID, rec.Location, rec.Status, rec.LeadTimeDays, toMillis(updatedAt))
	if err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]domain.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (domain.CatalogEntry, error) {
	var e domain.CatalogEntry
	var features, benefits, related, tags, stats, certs, pricing string
	var active int
	var createdAt, updatedAt int64

	err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.Icon, &e.ImageURL,
		&features, &benefits, &e.AdditionalInfo, &related, &pricing, &e.DeliveryTime,
		&e.Coverage, &tags, &stats, &certs, &active, &e.Popularity, &createdAt, &updatedAt)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("scan catalog row: %w", err)
	}

	decode := func(column string, target any) error {
		if column == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(column), target); err != nil {
			return fmt.Errorf("decode list column: %w", err)
		}
		return nil
	}
	if err := decode(features, &e.Features); err != nil {
		return domain.CatalogEntry{}, err
	}
	if err := decode(benefits, &e.Benefits); err != nil {
		return domain.CatalogEntry{}, err
	}
	if err := decode(related, &e.RelatedIDs); err != nil {
		return domain.CatalogEntry{}, err
	}
	if err := decode(tags, &e.Tags); err != nil {
		return domain.CatalogEntry{}, err
	}
	if err := decode(certs, &e.Certifications); err != nil {
		return domain.CatalogEntry{}, err
	}
	if err := decode(stats, &e.Stats); err != nil {
		return domain.CatalogEntry{}, err
	}
	if pricing != "" && pricing != "null" {
		e.Pricing = json.RawMessage(pricing)
	}
	e.Active = active != 0
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return e, nil
}

func encodeListColumns(e domain.CatalogEntry) (features, benefits, related, tags, stats, certs, pricing string, err error) {
	encode := func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode list column: %w", err)
		}
		return string(b), nil
	}
	if features, err = encode(emptyIfNil(e.Features)); err != nil {
		return
	}
	if benefits, err = encode(emptyIfNil(e.Benefits)); err != nil {
		return
	}
	if related, err = encode(emptyIfNil(e.RelatedIDs)); err != nil {
		return
	}
	if tags, err = encode(emptyIfNil(e.Tags)); err != nil {
		return
	}
	if certs, err = encode(emptyIfNil(e.Certifications)); err != nil {
		return
	}
	statsList := e.Stats
	if statsList == nil {
		statsList = []domain.ServiceStat{}
	}
	if stats, err = encode(statsList); err != nil {
		return
	}
	pricing = "null"
	if len(e.Pricing) > 0 {
		pricing = string(e.Pricing)
	}
	return
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

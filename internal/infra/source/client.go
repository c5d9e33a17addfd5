// Package source fetches the authoritative catalog from the external content
// service, with bounded retries and a relational fallback. The external
// service is the source of truth whenever it is reachable and non-empty; the
// relational store is a last-resort cache, not a secondary source of truth.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalogd/internal/domain"
)

// Fallback is the slice of the relational store the client needs.
// Implemented by *sqlite.Store.
type Fallback interface {
	ListActive(ctx context.Context) ([]domain.CatalogEntry, error)
	GetBySlug(ctx context.Context, slug string) (domain.CatalogEntry, bool, error)
	ListByCategory(ctx context.Context, category string) ([]domain.CatalogEntry, error)
	Search(ctx context.Context, filter domain.SearchFilter) ([]domain.CatalogEntry, error)
	CategoryCounts(ctx context.Context) ([]domain.CategoryCount, error)
	Upsert(ctx context.Context, e domain.CatalogEntry, contentHash string) (created, changed bool, err error)
	ContentHashes(ctx context.Context) (map[string]string, error)
	Deactivate(ctx context.Context, slug string) (bool, error)
}

type Config struct {
	BaseURL        string
	FetchTimeout   time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = domain.DefaultFetchTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = domain.DefaultRetryBaseDelay
	}
	return c
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	fallback   Fallback
	logger     *zap.Logger
	metrics    domain.Metrics
}

func NewClient(cfg Config, fallback Fallback, logger *zap.Logger, metrics domain.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{},
		fallback:   fallback,
		logger:     logger,
		metrics:    metrics,
	}
}

// upstreamError marks a failed response with its status code so the retry
// loop can tell 5xx (retryable) from 4xx (terminal).
type upstreamError struct {
	status int
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// servicesPayload accepts both a bare JSON array and an object wrapper.
type servicesPayload struct {
	Services []domain.RawServiceRecord `json:"services"`
}

// FetchRaw retrieves the raw service records from GET {base}/services.
// Timeouts and 5xx responses are retried with linear backoff
// (baseDelay × attempt); 4xx responses fail immediately.
func (c *Client) FetchRaw(ctx context.Context) ([]domain.RawServiceRecord, error) {
	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		records, err := c.fetchOnce(ctx)
		if err == nil {
			if c.metrics != nil {
				c.metrics.ObserveFetch(time.Since(start), attempts, nil)
			}
			return records, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}
		delay := c.cfg.RetryBaseDelay * time.Duration(attempt)
		c.logger.Warn("catalog fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveFetch(time.Since(start), attempts, lastErr)
	}
	return nil, fmt.Errorf("fetch services: %w", lastErr)
}

func (c *Client) fetchOnce(ctx context.Context) ([]domain.RawServiceRecord, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/services"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &upstreamError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	records, err := decodeServices(body)
	if err != nil {
		return nil, err
	}
	// Records without a usable identifier, and duplicate slugs, never leave
	// the fetch layer: every consumer may assume non-empty unique IDs.
	return SanitizeRecords(records), nil
}

func decodeServices(body []byte) ([]domain.RawServiceRecord, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var records []domain.RawServiceRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode services array: %w", err)
		}
		return records, nil
	}
	var payload servicesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode services object: %w", err)
	}
	return payload.Services, nil
}

// retryable reports whether an error warrants another attempt: 5xx
// responses, timeouts and transport failures qualify; 4xx responses,
// malformed bodies and request-build errors do not.
func retryable(err error) bool {
	var upstream *upstreamError
	if errors.As(err, &upstream) {
		return upstream.status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Transport-level failures (connection refused, reset) surface as
	// url.Error values; treat them like 5xx.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// GetAll returns the current catalog: external records mapped with derived
// defaults when the source is reachable and non-empty, otherwise the
// relational store's active rows. Fallback failures are logged and produce
// an empty result rather than an error.
func (c *Client) GetAll(ctx context.Context) ([]domain.CatalogEntry, error) {
	raw, err := c.FetchRaw(ctx)
	if err == nil && len(raw) > 0 {
		entries := make([]domain.CatalogEntry, 0, len(raw))
		for _, record := range raw {
			entries = append(entries, MapRecord(record))
		}
		return entries, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("external catalog unavailable, using relational fallback", zap.Error(err))
	} else {
		c.logger.Warn("external catalog empty, using relational fallback")
	}
	return c.fallbackList(ctx, "getAll", func() ([]domain.CatalogEntry, error) {
		return c.fallback.ListActive(ctx)
	}), nil
}

// GetBySlug returns one entry by identifier, external-first.
func (c *Client) GetBySlug(ctx context.Context, slug string) (domain.CatalogEntry, bool, error) {
	raw, err := c.FetchRaw(ctx)
	if err == nil && len(raw) > 0 {
		for _, record := range raw {
			if recordSlug(record) == slug {
				return MapRecord(record), true, nil
			}
		}
		return domain.CatalogEntry{}, false, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.CatalogEntry{}, false, ctxErr
	}
	if err != nil {
		c.logger.Warn("external catalog unavailable for slug lookup, using relational fallback",
			zap.String("slug", slug), zap.Error(err))
	} else {
		c.logger.Warn("external catalog empty for slug lookup, using relational fallback",
			zap.String("slug", slug))
	}
	if c.metrics != nil {
		c.metrics.ObserveFallback("getBySlug")
	}

	entry, ok, err := c.fallback.GetBySlug(ctx, slug)
	if err != nil {
		c.logger.Error("relational fallback failed", zap.String("op", "getBySlug"), zap.Error(err))
		return domain.CatalogEntry{}, false, nil
	}
	return entry, ok, nil
}

// GetByCategory returns entries in a category, external-first.
func (c *Client) GetByCategory(ctx context.Context, category string) ([]domain.CatalogEntry, error) {
	all, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var entries []domain.CatalogEntry
	for _, e := range all {
		if e.Category == category {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Search matches entries against the filter, external-first: the query is
// matched case-insensitively over title, description and tags, and the
// category, tag and active constraints are applied on top.
func (c *Client) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.CatalogEntry, error) {
	raw, err := c.FetchRaw(ctx)
	if err == nil && len(raw) > 0 {
		var entries []domain.CatalogEntry
		for _, record := range raw {
			e := MapRecord(record)
			if matchesFilter(e, filter) {
				entries = append(entries, e)
			}
		}
		return entries, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		c.logger.Warn("external catalog unavailable for search, using relational fallback",
			zap.String("query", filter.Query), zap.Error(err))
	} else {
		c.logger.Warn("external catalog empty for search, using relational fallback",
			zap.String("query", filter.Query))
	}
	return c.fallbackList(ctx, "search", func() ([]domain.CatalogEntry, error) {
		return c.fallback.Search(ctx, filter)
	}), nil
}

// GetCategories returns the category breakdown sorted descending by count,
// external-first.
func (c *Client) GetCategories(ctx context.Context) ([]domain.CategoryCount, error) {
	raw, err := c.FetchRaw(ctx)
	if err == nil && len(raw) > 0 {
		byCategory := make(map[string]int)
		for _, record := range raw {
			byCategory[record.Category]++
		}
		counts := make([]domain.CategoryCount, 0, len(byCategory))
		for category, count := range byCategory {
			counts = append(counts, domain.CategoryCount{Category: category, Count: count})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return counts[i].Count > counts[j].Count
			}
			return counts[i].Category < counts[j].Category
		})
		return counts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		c.logger.Warn("external catalog unavailable for categories, using relational fallback", zap.Error(err))
	} else {
		c.logger.Warn("external catalog empty for categories, using relational fallback")
	}
	if c.metrics != nil {
		c.metrics.ObserveFallback("getCategories")
	}
	counts, fbErr := c.fallback.CategoryCounts(ctx)
	if fbErr != nil {
		c.logger.Error("relational fallback failed", zap.String("op", "getCategories"), zap.Error(fbErr))
		return nil, nil
	}
	return counts, nil
}

// Upsert persists an externally-sourced entry into the relational store so
// it is durable for fallback use.
func (c *Client) Upsert(ctx context.Context, e domain.CatalogEntry, contentHash string) (created, changed bool, err error) {
	return c.fallback.Upsert(ctx, e, contentHash)
}

// ContentHashes exposes the relational store's slug -> hash index so sync
// jobs can spot rows whose slug vanished from the feed.
func (c *Client) ContentHashes(ctx context.Context) (map[string]string, error) {
	return c.fallback.ContentHashes(ctx)
}

// Deactivate retires a relational row whose slug is gone upstream.
func (c *Client) Deactivate(ctx context.Context, slug string) (bool, error) {
	return c.fallback.Deactivate(ctx, slug)
}

func (c *Client) fallbackList(ctx context.Context, op string, list func() ([]domain.CatalogEntry, error)) []domain.CatalogEntry {
	if c.metrics != nil {
		c.metrics.ObserveFallback(op)
	}
	entries, err := list()
	if err != nil {
		// A failing fallback must not become a second point of total
		// failure; degrade to an empty result.
		c.logger.Error("relational fallback failed", zap.String("op", op), zap.Error(err))
		return nil
	}
	return entries
}

func matchesFilter(e domain.CatalogEntry, filter domain.SearchFilter) bool {
	if filter.Category != "" && !strings.EqualFold(e.Category, filter.Category) {
		return false
	}
	if filter.Active != nil && e.Active != *filter.Active {
		return false
	}
	for _, want := range filter.Tags {
		if !hasTag(e.Tags, want) {
			return false
		}
	}
	return matchesQuery(e, strings.ToLower(strings.TrimSpace(filter.Query)))
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, want) {
			return true
		}
	}
	return false
}

func matchesQuery(e domain.CatalogEntry, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Description), needle) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogd/internal/domain"
)

// stubFallback is an in-memory Fallback for tests.
type stubFallback struct {
	entries []domain.CatalogEntry
	counts  []domain.CategoryCount
	err     error
	upserts int
}

func (f *stubFallback) ListActive(ctx context.Context) ([]domain.CatalogEntry, error) {
	return f.entries, f.err
}

func (f *stubFallback) GetBySlug(ctx context.Context, slug string) (domain.CatalogEntry, bool, error) {
	if f.err != nil {
		return domain.CatalogEntry{}, false, f.err
	}
	for _, e := range f.entries {
		if e.ID == slug {
			return e, true, nil
		}
	}
	return domain.CatalogEntry{}, false, nil
}

func (f *stubFallback) ListByCategory(ctx context.Context, category string) ([]domain.CatalogEntry, error) {
	var out []domain.CatalogEntry
	for _, e := range f.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out, f.err
}

func (f *stubFallback) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.CatalogEntry, error) {
	return f.entries, f.err
}

func (f *stubFallback) ContentHashes(ctx context.Context) (map[string]string, error) {
	hashes := make(map[string]string, len(f.entries))
	for _, e := range f.entries {
		hashes[e.ID] = "hash-" + e.ID
	}
	return hashes, f.err
}

func (f *stubFallback) Deactivate(ctx context.Context, slug string) (bool, error) {
	for i, e := range f.entries {
		if e.ID == slug && e.Active {
			f.entries[i].Active = false
			return true, f.err
		}
	}
	return false, f.err
}

func (f *stubFallback) CategoryCounts(ctx context.Context) ([]domain.CategoryCount, error) {
	return f.counts, f.err
}

func (f *stubFallback) Upsert(ctx context.Context, e domain.CatalogEntry, hash string) (bool, bool, error) {
	f.upserts++
	return true, true, f.err
}

func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		FetchTimeout:   time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"1","name":"Air Freight","slug":"airfreight","category":"air","short_description":"Fast","hero_image_url":""}]`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	records, err := client.FetchRaw(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "airfreight", records[0].Slug)
	assert.Equal(t, int32(3), hits.Load(), "two retries after the initial attempt")
}

func TestClient_DoesNotRetry4xx(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	_, err := client.FetchRaw(context.Background())
	require.Error(t, err)
	var upstream *upstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusNotFound, upstream.status)
	assert.Equal(t, int32(1), hits.Load(), "4xx responses are never retried")
}

func TestClient_ExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	_, err := client.FetchRaw(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_GetAllFallsBackWhenExternalEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	fallback := &stubFallback{entries: []domain.CatalogEntry{{ID: "seafreight", Category: "sea", Active: true}}}
	client := NewClient(fastConfig(server.URL), fallback, nil, nil)

	entries, err := client.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "seafreight", entries[0].ID)
}

func TestClient_GetAllFallsBackWhenExternalDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fallback := &stubFallback{entries: []domain.CatalogEntry{{ID: "seafreight"}}}
	client := NewClient(fastConfig(server.URL), fallback, nil, nil)

	entries, err := client.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestClient_FallbackFailureYieldsEmptyNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fallback := &stubFallback{err: errors.New("database locked")}
	client := NewClient(fastConfig(server.URL), fallback, nil, nil)

	entries, err := client.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_GetAllMapsExternalRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"services":[
			{"id":"1","name":"Air Freight","slug":"airfreight","category":"air","short_description":"Fast delivery","hero_image_url":"https://img/air.jpg"},
			{"id":"2","name":"Brokerage","slug":"","category":"mystery","short_description":"","hero_image_url":""}
		]}`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	entries, err := client.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	air := entries[0]
	assert.Equal(t, "airfreight", air.ID)
	assert.Equal(t, "Air Freight", air.Title)
	assert.Equal(t, "Fast delivery", air.Description)
	assert.Equal(t, "plane", air.Icon, "icon derived from category")
	assert.Equal(t, []string{"air", "airfreight"}, air.Tags, "tags synthesized from category and slug")
	assert.True(t, air.Active)

	other := entries[1]
	assert.Equal(t, "2", other.ID, "slug falls back to id")
	assert.Equal(t, "package", other.Icon, "unknown category gets the generic icon")
}

func TestClient_GetBySlugExternalFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1","name":"Air Freight","slug":"airfreight","category":"air"}]`))
	}))
	defer server.Close()

	fallback := &stubFallback{entries: []domain.CatalogEntry{{ID: "stale", Title: "Stale"}}}
	client := NewClient(fastConfig(server.URL), fallback, nil, nil)

	entry, ok, err := client.GetBySlug(context.Background(), "airfreight")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Air Freight", entry.Title)

	_, ok, err = client.GetBySlug(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok, "external non-empty list is authoritative; no fallback for misses")
}

func TestClient_SearchFiltersExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"1","name":"Air Freight","slug":"airfreight","category":"air","short_description":"Fast"},
			{"id":"2","name":"Sea Cargo","slug":"seafreight","category":"sea","short_description":"Slow"}
		]`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	results, err := client.Search(context.Background(), domain.SearchFilter{Query: "sea"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "seafreight", results[0].ID)
}

func TestClient_SearchAppliesCategoryTagsAndActive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"1","name":"Air Freight","slug":"airfreight","category":"air","short_description":"Fast"},
			{"id":"2","name":"Sea Cargo","slug":"seafreight","category":"sea","short_description":"Slow"},
			{"id":"3","name":"Sea Express","slug":"seaexpress","category":"sea","short_description":"Brisk"}
		]`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)

	byCategory, err := client.Search(context.Background(), domain.SearchFilter{Category: "SEA"})
	require.NoError(t, err)
	require.Len(t, byCategory, 2, "category matches case-insensitively")

	byTag, err := client.Search(context.Background(), domain.SearchFilter{Tags: []string{"seaexpress"}})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "seaexpress", byTag[0].ID)

	inactive := false
	none, err := client.Search(context.Background(), domain.SearchFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Empty(t, none, "external records are always active")
}

func TestClient_GetAllDropsEmptyAndDuplicateSlugs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"slug":"air"},{"slug":"air"},{"slug":"","id":""}]`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	entries, err := client.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1, "duplicate and unidentifiable records are dropped")
	assert.Equal(t, "air", entries[0].ID)
}

func TestClient_DoesNotRetryMalformedBody(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	_, err := client.FetchRaw(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "a decode failure on a 200 response is terminal")
}

func TestClient_GetCategoriesSortedByCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"1","slug":"a","category":"air"},
			{"id":"2","slug":"b","category":"sea"},
			{"id":"3","slug":"c","category":"sea"}
		]`))
	}))
	defer server.Close()

	client := NewClient(fastConfig(server.URL), &stubFallback{}, nil, nil)
	counts, err := client.GetCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, domain.CategoryCount{Category: "sea", Count: 2}, counts[0])
	assert.Equal(t, domain.CategoryCount{Category: "air", Count: 1}, counts[1])
}

func TestContentHash_TracksIdentityFields(t *testing.T) {
	record := domain.RawServiceRecord{
		ID: "1", Name: "Air Freight", Slug: "airfreight",
		Category: "air", ShortDescription: "Fast", HeroImageURL: "https://img/air.jpg",
	}
	h1 := ContentHash(record)
	assert.Equal(t, h1, ContentHash(record), "hash is deterministic")

	record.ShortDescription = "Faster"
	assert.NotEqual(t, h1, ContentHash(record), "hash changes with identity-affecting fields")
}

func TestClient_FetchRespectsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig(server.URL)
	cfg.RetryBaseDelay = time.Hour // would stall if cancellation were ignored
	client := NewClient(cfg, &stubFallback{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.FetchRaw(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

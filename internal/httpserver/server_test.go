package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/config"
	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler http.Handler
	repo    *sqlite.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := sqlite.NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ix := domain.NewIndexer(repo, repo, time.Second, logger)
	engine := domain.NewQueryEngine(repo, repo, domain.QueryOptions{Timeout: time.Second, UseIndexes: true}, logger)
	srv := NewServer(&config.Config{Port: 0}, ix, engine, repo, logger)
	return &testEnv{handler: srv.Handler(), repo: repo}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = bytes.NewBufferString(s)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) notify(t *testing.T, rkey, title string, extra map[string]any) string {
	t.Helper()
	uri := "at://did:plc:alice/com.marketplace.listing/" + rkey
	listing := map[string]any{"title": title, "price": "$50", "createdAt": "2025-06-01T12:00:00Z"}
	for k, v := range extra {
		listing[k] = v
	}
	rec := e.do(t, http.MethodPost, "/xrpc/com.marketplace.notifyNewListing", map[string]any{
		"uri":     uri,
		"listing": listing,
		"author":  map[string]any{"did": "did:plc:alice", "handle": "alice.bsky.social"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return uri
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNotifyNewListing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/xrpc/com.marketplace.notifyNewListing", map[string]any{
		"uri":     "at://did:plc:alice/com.marketplace.listing/1",
		"listing": map[string]any{"title": "Bike", "category": "Sports", "tags": []string{"cycling"}},
		"author":  map[string]any{"did": "did:plc:alice", "handle": "alice.bsky.social"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Listing indexed successfully", body["message"])
	assert.Equal(t, "at://did:plc:alice/com.marketplace.listing/1", body["uri"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	members, err := env.repo.IndexMembers(context.Background(), "category:Sports")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestNotifyNewListing_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	for name, body := range map[string]any{
		"malformed json":  "{",
		"missing uri":     map[string]any{"listing": map[string]any{"title": "x"}, "author": map[string]any{"did": "did:plc:a"}},
		"missing listing": map[string]any{"uri": "at://did:plc:a/com.marketplace.listing/1", "author": map[string]any{"did": "did:plc:a"}},
		"missing author":  map[string]any{"uri": "at://did:plc:a/com.marketplace.listing/1", "listing": map[string]any{"title": "x"}},
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/.netlify/functions/com-marketplace-notifyNewListing", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestGetListings_FiltersAndPagination(t *testing.T) {
	env := newTestEnv(t)
	env.notify(t, "1", "Sofa", map[string]any{"category": "A", "createdAt": "2025-06-01T10:00:00Z"})
	env.notify(t, "2", "Lamp", map[string]any{"category": "B", "createdAt": "2025-06-01T11:00:00Z"})
	env.notify(t, "3", "Table", map[string]any{"category": "A", "createdAt": "2025-06-01T12:00:00Z"})

	rec := env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?category=A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[pageResponse](t, rec)
	require.Len(t, page.Listings, 2)
	assert.Equal(t, "Table", page.Listings[0].Title)
	assert.Equal(t, "Sofa", page.Listings[1].Title)
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)

	rec = env.do(t, http.MethodGet, "/.netlify/functions/com-marketplace-getListings?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[pageResponse](t, rec)
	require.Len(t, page.Listings, 1)
	assert.Equal(t, "Lamp", page.Listings[0].Title)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.Cursor)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?limit=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[pageResponse](t, rec)
	assert.Empty(t, page.Listings)
	assert.Equal(t, 3, page.Total)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?minPrice=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchListings(t *testing.T) {
	env := newTestEnv(t)
	env.notify(t, "1", "Bike", map[string]any{"createdAt": "2025-06-01T10:00:00Z"})
	env.notify(t, "2", "red bike", map[string]any{"createdAt": "2025-06-01T11:00:00Z"})

	for _, target := range []string{
		"/xrpc/com.marketplace.searchListings",
		"/xrpc/com.marketplace.searchListings?q=%20%20",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Search query is required", decode[map[string]string](t, rec)["error"])
	}

	rec := env.do(t, http.MethodGet, "/.netlify/functions/com-marketplace-searchListings?q=bike", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[pageResponse](t, rec)
	require.Len(t, page.Listings, 2)
	assert.Equal(t, "Bike", page.Listings[0].Title)
	assert.Equal(t, "bike", page.Query)
}

func TestGetListing(t *testing.T) {
	env := newTestEnv(t)
	live := env.notify(t, "live", "Desk", nil)
	sold := env.notify(t, "sold", "Chair", map[string]any{"status": "sold"})

	rec := env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListing?uri="+live, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListing?uri="+sold, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "inactive", decode[map[string]any](t, rec)["availability"])

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListing?uri=at://did:plc:x/com.marketplace.listing/none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListing", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorListingsAndKnownAuthors(t *testing.T) {
	env := newTestEnv(t)
	env.notify(t, "1", "Desk", nil)
	env.notify(t, "2", "Chair", map[string]any{"status": "sold"})

	rec := env.do(t, http.MethodGet, "/xrpc/com.marketplace.getAuthorListings?author=did:plc:alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[pageResponse](t, rec).Total)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getAuthorListings?author=did:plc:alice&includeInactive=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[pageResponse](t, rec).Total)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getAuthorListings", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getKnownAuthors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"did:plc:alice"}, decode[map[string][]string](t, rec)["authors"])
}

func TestOptionsPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/xrpc/com.marketplace.getListings", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(&config.Config{}, nil, nil, failingPinger{}, logger)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStorageFailureReturns500(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.Close())

	rec := env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to fetch listings", decode[map[string]string](t, rec)["error"])
}

func TestGetListings_ExtremePagination(t *testing.T) {
	env := newTestEnv(t)
	env.notify(t, "1", "Sofa", nil)
	env.notify(t, "2", "Lamp", nil)

	rec := env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?limit=9223372036854775807&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[pageResponse](t, rec)
	assert.Len(t, page.Listings, 1)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Cursor)

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?offset=9223372036854775807", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[pageResponse](t, rec)
	assert.Empty(t, page.Listings)
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Cursor)
}

func TestGetListings_ZeroLimitHasNoCursor(t *testing.T) {
	env := newTestEnv(t)
	env.notify(t, "1", "Sofa", nil)

	for _, target := range []string{
		"/xrpc/com.marketplace.getListings?limit=0",
		"/xrpc/com.marketplace.getListings?limit=0&offset=0",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[pageResponse](t, rec)
		assert.True(t, page.HasMore)
		assert.Empty(t, page.Cursor, target)
	}
}

func TestGetListings_EmptyPriceParamsAreUnbounded(t *testing.T) {
	env := newTestEnv(t)
	env.notify(t, "1", "Chair", map[string]any{"price": "Free"})

	for _, target := range []string{
		"/xrpc/com.marketplace.getListings",
		"/xrpc/com.marketplace.getListings?minPrice=",
		"/xrpc/com.marketplace.getListings?maxPrice=",
		"/xrpc/com.marketplace.getListings?minPrice=&maxPrice=%20",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, 1, decode[pageResponse](t, rec).Total, target)
	}

	rec := env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?minPrice=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[pageResponse](t, rec).Total, "an explicit bound excludes unparseable prices")

	rec = env.do(t, http.MethodGet, "/xrpc/com.marketplace.getListings?maxPrice=cheap", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "maxPrice: must be a number", decode[map[string]string](t, rec)["error"])
}

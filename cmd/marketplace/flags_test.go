package main

import (
	"testing"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/fallback"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseListingFlags(t *testing.T, args ...string) (fallback.Query, error) {
	t.Helper()
	var f listingFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse(args))
	return f.query(fs, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
}

func TestListingFlags_Defaults(t *testing.T) {
	q, err := parseListingFlags(t)
	require.NoError(t, err)
	assert.Equal(t, fallback.SortCreatedAt, q.SortBy)
	assert.Equal(t, fallback.OrderDesc, q.Order)
	assert.Equal(t, domain.DefaultLimit, q.Limit)
	assert.Nil(t, q.Filters.MinPrice)
	assert.Nil(t, q.Filters.MaxPrice)
	assert.Nil(t, q.Filters.HasImages)
	assert.Nil(t, q.Filters.PostedSince)
	assert.Nil(t, q.Origin)
}

func TestListingFlags_AllSet(t *testing.T) {
	q, err := parseListingFlags(t,
		"--category", "Sports",
		"--min-price", "0",
		"--max-price", "500",
		"--tags", "Bike, Road",
		"--condition", "new,good",
		"--has-images=false",
		"--posted-since", "48h",
		"--sort", "distance",
		"--order", "asc",
		"--lat", "40.7",
		"--lng", "-74",
		"--limit", "5",
		"--cursor", "10",
	)
	require.NoError(t, err)

	f := q.Filters
	assert.Equal(t, "Sports", f.Category)
	require.NotNil(t, f.MinPrice)
	assert.Equal(t, 0.0, *f.MinPrice)
	require.NotNil(t, f.MaxPrice)
	assert.Equal(t, 500.0, *f.MaxPrice)
	assert.Equal(t, []string{"bike", "road"}, f.Tags)
	assert.Equal(t, []string{"new", "good"}, f.Conditions)
	require.NotNil(t, f.HasImages)
	assert.False(t, *f.HasImages)
	require.NotNil(t, f.PostedSince)
	assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), *f.PostedSince)

	assert.Equal(t, fallback.SortDistance, q.SortBy)
	assert.Equal(t, fallback.OrderAsc, q.Order)
	assert.Equal(t, &fallback.Point{Lat: 40.7, Lng: -74}, q.Origin)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, "10", q.Cursor)
}

func TestListingFlags_Invalid(t *testing.T) {
	_, err := parseListingFlags(t, "--sort", "popularity")
	assert.Error(t, err)

	_, err = parseListingFlags(t, "--posted-since", "last week")
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2025-06-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2025-06-01T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), got)
}

func TestListingFlags_TagsHelpDescribesAnyMatch(t *testing.T) {
	var f listingFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.register(fs)
	assert.Contains(t, fs.Lookup("tags").Usage, "any of which")
}

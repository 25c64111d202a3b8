package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/fallback"
	"github.com/spf13/pflag"
)

// listingFlags are the filter, sort and paging flags shared by browse and
// search.
type listingFlags struct {
	category    string
	location    string
	minPrice    float64
	maxPrice    float64
	tags        []string
	conditions  []string
	hasImages   bool
	postedSince string

	sortBy string
	order  string
	lat    float64
	lng    float64

	limit  int
	cursor string
}

func (f *listingFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.category, "category", "", "Exact category")
	fs.StringVar(&f.location, "location", "", "Location substring (zip, city, state or address)")
	fs.Float64Var(&f.minPrice, "min-price", 0, "Minimum price")
	fs.Float64Var(&f.maxPrice, "max-price", 0, "Maximum price")
	fs.StringSliceVar(&f.tags, "tags", nil, "Tags, any of which may match (comma-separated)")
	fs.StringSliceVar(&f.conditions, "condition", nil, "Accepted conditions (new, like-new, good, fair, poor)")
	fs.BoolVar(&f.hasImages, "has-images", false, "Only listings with (or, =false, without) images")
	fs.StringVar(&f.postedSince, "posted-since", "", "RFC 3339 time, YYYY-MM-DD date or age such as 72h")
	fs.StringVar(&f.sortBy, "sort", "", "Sort by createdAt, price, distance or relevance")
	fs.StringVar(&f.order, "order", "", "Sort order, asc or desc")
	fs.Float64Var(&f.lat, "lat", 0, "Latitude for distance sorting")
	fs.Float64Var(&f.lng, "lng", 0, "Longitude for distance sorting")
	fs.IntVar(&f.limit, "limit", domain.DefaultLimit, "Page size")
	fs.StringVar(&f.cursor, "cursor", "", "Cursor from a previous page")
}

// query builds a fallback.Query. Flags that were not set on fs are left
// unconstrained.
func (f *listingFlags) query(fs *pflag.FlagSet, now time.Time) (fallback.Query, error) {
	sortBy, order, err := fallback.ParseSort(f.sortBy, f.order)
	if err != nil {
		return fallback.Query{}, err
	}

	filters := &domain.Filters{
		Category:   f.category,
		Location:   strings.TrimSpace(f.location),
		Tags:       domain.ParseTags(f.tags...),
		Conditions: f.conditions,
	}
	if fs.Changed("min-price") {
		filters.MinPrice = &f.minPrice
	}
	if fs.Changed("max-price") {
		filters.MaxPrice = &f.maxPrice
	}
	if fs.Changed("has-images") {
		filters.HasImages = &f.hasImages
	}
	if f.postedSince != "" {
		t, err := parseSince(f.postedSince, now)
		if err != nil {
			return fallback.Query{}, err
		}
		filters.PostedSince = &t
	}

	q := fallback.Query{
		Filters: filters,
		SortBy:  sortBy,
		Order:   order,
		Limit:   f.limit,
		Cursor:  f.cursor,
	}
	if fs.Changed("lat") && fs.Changed("lng") {
		q.Origin = &fallback.Point{Lat: f.lat, Lng: f.lng}
	}
	return q, nil
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --posted-since %q", s)
}

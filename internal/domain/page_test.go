package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoListings() []Listing {
	return []Listing{
		{URI: "at://did:plc:a/" + ListingCollection + "/1"},
		{URI: "at://did:plc:a/" + ListingCollection + "/2"},
	}
}

func TestPaginate_ExtremeValues(t *testing.T) {
	tests := []struct {
		name    string
		p       Pagination
		want    int
		hasMore bool
	}{
		{name: "max limit", p: Pagination{Offset: 1, Limit: math.MaxInt}, want: 1},
		{name: "max limit from start", p: Pagination{Offset: 0, Limit: math.MaxInt}, want: 2},
		{name: "max offset", p: Pagination{Offset: math.MaxInt, Limit: 20}},
		{name: "max offset and limit", p: Pagination{Offset: math.MaxInt, Limit: math.MaxInt}},
		{name: "offset at end", p: Pagination{Offset: 2, Limit: 20}},
		{name: "min offset", p: Pagination{Offset: math.MinInt, Limit: 1}, want: 1, hasMore: true},
		{name: "zero limit", p: Pagination{Offset: 0, Limit: 0}, hasMore: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var page *Page
			require.NotPanics(t, func() { page = Paginate(twoListings(), tt.p) })
			assert.Len(t, page.Listings, tt.want)
			assert.Equal(t, 2, page.Total)
			assert.Equal(t, tt.hasMore, page.HasMore)
		})
	}
}

func TestNextCursor(t *testing.T) {
	p := Pagination{Offset: 0, Limit: 1}
	assert.Equal(t, "1", NextCursor(Paginate(twoListings(), p), p))

	p = Pagination{Offset: 1, Limit: math.MaxInt}
	assert.Empty(t, NextCursor(Paginate(twoListings(), p), p))

	p = Pagination{Offset: math.MaxInt, Limit: 1}
	assert.Empty(t, NextCursor(Paginate(twoListings(), p), p))

	p = Pagination{Offset: 0, Limit: 0}
	page := Paginate(twoListings(), p)
	assert.True(t, page.HasMore)
	assert.Empty(t, NextCursor(page, p), "a zero limit never advances")
}

package domain

import (
	"sort"
	"strconv"
)

// DefaultLimit is the page size used when none is requested.
const DefaultLimit = 20

// Pagination selects a contiguous slice of an ordered result set.
type Pagination struct {
	Offset int
	Limit  int
}

// DefaultPagination returns the first page with the default limit.
func DefaultPagination() Pagination {
	return Pagination{Offset: 0, Limit: DefaultLimit}
}

// Page is one page of browse results.
type Page struct {
	Listings []Listing `json:"listings"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// SearchPage is one page of search results echoing the original query.
type SearchPage struct {
	Page
	Query string `json:"query"`
}

// Paginate slices listings according to p. A negative offset counts as
// zero; a non-positive limit yields an empty page while still reporting
// the total. An offset at or past the end yields an empty page with
// HasMore false. Offset and limit are never summed, so extreme values
// cannot overflow.
func Paginate(listings []Listing, p Pagination) *Page {
	total := len(listings)
	offset := max(p.Offset, 0)
	limit := max(p.Limit, 0)

	page := &Page{
		Listings: []Listing{},
		Total:    total,
	}
	if offset >= total {
		return page
	}
	remaining := total - offset
	page.HasMore = limit < remaining
	if limit == 0 {
		return page
	}
	end := offset + min(limit, remaining)
	page.Listings = append(page.Listings, listings[offset:end]...)
	return page
}

// NextCursor returns the decimal offset of the page after the one p
// selected, or "" when there is none. A zero limit never advances, so it
// gets no cursor either.
func NextCursor(page *Page, p Pagination) string {
	if !page.HasMore || p.Limit <= 0 {
		return ""
	}
	// HasMore implies offset+limit < total, so the sum cannot overflow.
	return strconv.Itoa(max(p.Offset, 0) + p.Limit)
}

// SortByRecency orders listings newest first. Equal createdAt values keep
// their current relative order.
func SortByRecency(listings []Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
}

// SortByRelevance puts listings whose title equals the normalized term
// first, then orders by createdAt descending. There is no other weighting.
func SortByRelevance(listings []Listing, term string) {
	sort.SliceStable(listings, func(i, j int) bool {
		ei, ej := ExactTitle(&listings[i], term), ExactTitle(&listings[j], term)
		if ei != ej {
			return ei
		}
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
}

// sortBySeq restores insertion order, the tie-breaker for both sorts.
func sortBySeq(listings []Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Seq < listings[j].Seq
	})
}

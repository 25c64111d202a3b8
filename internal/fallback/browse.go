package fallback

import (
	"context"
	"strconv"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
)

// Query describes a fallback browse or search request.
type Query struct {
	Filters *domain.Filters
	SortBy  SortBy
	Order   Order
	Origin  *Point

	// Limit defaults to domain.DefaultLimit when not positive.
	Limit int

	// Cursor is the decimal offset returned by a previous page.
	Cursor string
}

// Result is one page of fallback results.
type Result struct {
	Listings []domain.Listing `json:"listings"`
	Total    int              `json:"total"`
	Cursor   string           `json:"cursor,omitempty"`

	// Failed lists the identities that could not be read for this page.
	Failed []*PerIdentityFetchError `json:"-"`
}

// Pagination converts the cursor and limit into an offset window.
func (q Query) Pagination() (domain.Pagination, error) {
	offset, err := parseCursor(q.Cursor)
	if err != nil {
		return domain.Pagination{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	return domain.Pagination{Offset: offset, Limit: limit}, nil
}

// Browse aggregates the known users, applies filters and sort, and returns
// the page selected by q.Cursor.
func (a *Aggregator) Browse(ctx context.Context, q Query) (*Result, error) {
	pg, err := q.Pagination()
	if err != nil {
		return nil, err
	}

	agg, err := a.AggregateKnownUsers(ctx, a.knownUsers())
	if err != nil {
		return nil, err
	}

	filtered := ApplyClientFilters(agg.Listings, q.Filters)
	sorted := ApplyClientSort(filtered, q.SortBy, q.Order, q.Origin)
	return page(sorted, pg, agg.Failed), nil
}

// Search is Browse restricted to listings whose title, description,
// category or tags contain term. The relevance sort puts exact title
// matches first.
func (a *Aggregator) Search(ctx context.Context, term string, q Query) (*Result, error) {
	normalized := domain.NormalizeQuery(term)
	if normalized == "" {
		return nil, &domain.ValidationError{Field: "q", Message: "Search query is required"}
	}
	pg, err := q.Pagination()
	if err != nil {
		return nil, err
	}

	agg, err := a.AggregateKnownUsers(ctx, a.knownUsers())
	if err != nil {
		return nil, err
	}

	matched := make([]domain.Listing, 0)
	for _, l := range ApplyClientFilters(agg.Listings, q.Filters) {
		if domain.MatchesQuery(&l, normalized) {
			matched = append(matched, l)
		}
	}

	var sorted []domain.Listing
	if q.SortBy == SortRelevance {
		sorted = matched
		domain.SortByRelevance(sorted, normalized)
	} else {
		sorted = ApplyClientSort(matched, q.SortBy, q.Order, q.Origin)
	}
	return page(sorted, pg, agg.Failed), nil
}

// UserListings reads a single repository without touching the known-users
// list, applying the same lifecycle rules as aggregation.
func (a *Aggregator) UserListings(ctx context.Context, did string) ([]domain.Listing, error) {
	if did == "" {
		return nil, &domain.ValidationError{Field: "did", Message: "is required"}
	}
	listings, err := a.fetch(ctx, did)
	if err != nil {
		return nil, &PerIdentityFetchError{DID: did, Err: err}
	}

	now := a.now()
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if keepFromRepo(&l, now) {
			out = append(out, l)
		}
	}
	domain.SortByRecency(out)
	return out, nil
}

func (a *Aggregator) knownUsers() []string {
	if a.known == nil {
		return nil
	}
	return a.known.List()
}

func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, &domain.ValidationError{Field: "cursor", Message: "must be a non-negative integer"}
	}
	return offset, nil
}

func page(sorted []domain.Listing, pg domain.Pagination, failed []*PerIdentityFetchError) *Result {
	p := domain.Paginate(sorted, pg)

	return &Result{
		Listings: p.Listings,
		Total:    p.Total,
		Cursor:   domain.NextCursor(p, pg),
		Failed:   failed,
	}
}

// Package marketplace is the client-side entry point for browsing and
// searching listings. It prefers the AppView and falls back to reading
// known authors' repositories directly.
package marketplace

import (
	"context"
	"log/slog"

	"github.com/blackmichael/bluesky-marketplace/internal/appview"
	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/fallback"
)

// AppView is the subset of the AppView API the client reads from.
type AppView interface {
	GetListings(ctx context.Context, filters *domain.Filters, p domain.Pagination) (*appview.Page, error)
	SearchListings(ctx context.Context, query string, filters *domain.Filters, p domain.Pagination) (*appview.Page, error)
}

// Source names where a Result came from.
type Source string

const (
	SourceAppView  Source = "appview"
	SourceFallback Source = "fallback"
)

// Result is one page of listings.
type Result struct {
	Listings []domain.Listing `json:"listings"`
	Total    int              `json:"total"`
	Cursor   string           `json:"cursor,omitempty"`
	Source   Source           `json:"source"`

	// Failed is only set for fallback results.
	Failed []*fallback.PerIdentityFetchError `json:"-"`
}

// Client browses and searches the marketplace.
type Client struct {
	appView    AppView
	aggregator *fallback.Aggregator
	known      *fallback.KnownUsers
	logger     *slog.Logger
}

// NewClient creates a Client. appView may be nil, in which case every
// request goes to the aggregator. known may be nil.
func NewClient(appView AppView, aggregator *fallback.Aggregator, known *fallback.KnownUsers, logger *slog.Logger) *Client {
	return &Client{
		appView:    appView,
		aggregator: aggregator,
		known:      known,
		logger:     logger,
	}
}

// Browse returns a page of active listings.
func (c *Client) Browse(ctx context.Context, q fallback.Query) (*Result, error) {
	pg, err := q.Pagination()
	if err != nil {
		return nil, err
	}

	if c.appView != nil {
		page, err := c.appView.GetListings(ctx, q.Filters, pg)
		if err == nil {
			return c.fromAppView(page, q, pg), nil
		}
		c.logger.Warn("appview browse failed, falling back to known users", "error", err)
	}

	res, err := c.aggregator.Browse(ctx, q)
	if err != nil {
		return nil, err
	}
	return fromFallback(res), nil
}

// Search returns a page of active listings matching term.
func (c *Client) Search(ctx context.Context, term string, q fallback.Query) (*Result, error) {
	if domain.NormalizeQuery(term) == "" {
		return nil, &domain.ValidationError{Field: "q", Message: "Search query is required"}
	}
	pg, err := q.Pagination()
	if err != nil {
		return nil, err
	}

	if c.appView != nil {
		page, err := c.appView.SearchListings(ctx, term, q.Filters, pg)
		if err == nil {
			return c.fromAppView(page, q, pg), nil
		}
		c.logger.Warn("appview search failed, falling back to known users", "query", term, "error", err)
	}

	res, err := c.aggregator.Search(ctx, term, q)
	if err != nil {
		return nil, err
	}
	return fromFallback(res), nil
}

// UserListings reads one author's repository directly.
func (c *Client) UserListings(ctx context.Context, did string) ([]domain.Listing, error) {
	return c.aggregator.UserListings(ctx, did)
}

// fromAppView records the authors seen in page as known users. The AppView
// orders by recency or relevance; price and distance sorts are applied to
// the returned page only.
func (c *Client) fromAppView(page *appview.Page, q fallback.Query, pg domain.Pagination) *Result {
	if c.known != nil {
		for _, l := range page.Listings {
			if l.Author.DID != "" && c.known.Add(l.Author.DID) {
				c.logger.Debug("discovered marketplace user", "did", l.Author.DID)
			}
		}
	}

	listings := page.Listings
	switch q.SortBy {
	case fallback.SortPrice, fallback.SortDistance:
		listings = fallback.ApplyClientSort(listings, q.SortBy, q.Order, q.Origin)
	}

	res := &Result{
		Listings: listings,
		Total:    page.Total,
		Cursor:   page.Cursor,
		Source:   SourceAppView,
	}
	if res.Listings == nil {
		res.Listings = []domain.Listing{}
	}
	if res.Cursor == "" {
		res.Cursor = domain.NextCursor(&domain.Page{HasMore: page.HasMore}, pg)
	}
	return res
}

func fromFallback(res *fallback.Result) *Result {
	return &Result{
		Listings: res.Listings,
		Total:    res.Total,
		Cursor:   res.Cursor,
		Source:   SourceFallback,
		Failed:   res.Failed,
	}
}

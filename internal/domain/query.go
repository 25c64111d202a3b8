package domain

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// QueryOptions configures a QueryEngine.
type QueryOptions struct {
	// Timeout bounds every storage read. Zero means no extra bound.
	Timeout time.Duration

	// UseIndexes answers category and tag filters from the secondary
	// indexes instead of scanning the whole catalog.
	UseIndexes bool
}

// QueryEngine answers browse, search and lookup requests against the
// indexed catalog. Results for a fixed data set are deterministic.
type QueryEngine struct {
	listings ListingRepository
	indexes  IndexRepository
	opts     QueryOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueryEngine creates a QueryEngine over the given stores.
func NewQueryEngine(listings ListingRepository, indexes IndexRepository, opts QueryOptions, logger *slog.Logger) *QueryEngine {
	return &QueryEngine{
		listings: listings,
		indexes:  indexes,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Lookup is the result of a direct URI lookup. Listings that are no longer
// visible are still returned, flagged by Availability.
type Lookup struct {
	Listing      *Listing
	Availability Availability
}

// Available reports whether the listing may be shown.
func (l *Lookup) Available() bool {
	return l.Availability == Available
}

// ListAll returns a page of visible listings matching filters, newest first.
func (e *QueryEngine) ListAll(ctx context.Context, filters *Filters, p Pagination) (*Page, error) {
	candidates, err := e.candidates(ctx, filters)
	if err != nil {
		return nil, err
	}

	now := e.now()
	matched := make([]Listing, 0, len(candidates))
	for i := range candidates {
		l := &candidates[i]
		if l.Visible(now) && filters.Match(l) {
			matched = append(matched, *l)
		}
	}

	sortBySeq(matched)
	SortByRecency(matched)

	e.logger.Debug("listAll", "candidates", len(candidates), "matched", len(matched), "offset", p.Offset, "limit", p.Limit)
	return Paginate(matched, p), nil
}

// Search returns a page of visible listings whose title, description,
// category or tags contain query, with exact title matches first.
func (e *QueryEngine) Search(ctx context.Context, query string, filters *Filters, p Pagination) (*SearchPage, error) {
	term := NormalizeQuery(query)
	if term == "" {
		return nil, &ValidationError{Field: "q", Message: "Search query is required"}
	}

	candidates, err := e.candidates(ctx, filters)
	if err != nil {
		return nil, err
	}

	now := e.now()
	matched := make([]Listing, 0)
	for i := range candidates {
		l := &candidates[i]
		if l.Visible(now) && MatchesQuery(l, term) && filters.Match(l) {
			matched = append(matched, *l)
		}
	}

	sortBySeq(matched)
	SortByRelevance(matched, term)

	e.logger.Debug("search", "query", query, "candidates", len(candidates), "matched", len(matched))
	return &SearchPage{Page: *Paginate(matched, p), Query: query}, nil
}

// AuthorListings returns a page of the listings posted by did, newest
// first. Sold, expired and draft listings are hidden unless
// includeInactive is set.
func (e *QueryEngine) AuthorListings(ctx context.Context, did string, p Pagination, includeInactive bool) (*Page, error) {
	if strings.TrimSpace(did) == "" {
		return nil, &ValidationError{Field: "author", Message: "is required"}
	}

	uris, err := e.indexMembers(ctx, AuthorKey(did))
	if err != nil {
		return nil, err
	}
	listings, err := e.getListings(ctx, uris)
	if err != nil {
		return nil, err
	}

	now := e.now()
	matched := make([]Listing, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		// The author index is append-only, so membership is re-checked.
		if l.Author.DID != did {
			continue
		}
		if includeInactive || l.Visible(now) {
			matched = append(matched, *l)
		}
	}

	sortBySeq(matched)
	SortByRecency(matched)
	return Paginate(matched, p), nil
}

// GetListing looks a listing up by URI. It returns ErrNotFound when the
// URI was never indexed.
func (e *QueryEngine) GetListing(ctx context.Context, uri string) (*Lookup, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, &ValidationError{Field: "uri", Message: "is required"}
	}

	rctx, cancel := withTimeout(ctx, e.opts.Timeout)
	defer cancel()

	listing, err := e.listings.GetListing(rctx, uri)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageReadError{Op: "get listing", Err: err}
	}
	return &Lookup{Listing: listing, Availability: listing.Availability(e.now())}, nil
}

// KnownAuthors returns the DIDs of every author with at least one indexed
// listing.
func (e *QueryEngine) KnownAuthors(ctx context.Context) ([]string, error) {
	rctx, cancel := withTimeout(ctx, e.opts.Timeout)
	defer cancel()

	keys, err := e.indexes.IndexKeys(rctx, AuthorKey(""))
	if err != nil {
		return nil, &StorageReadError{Op: "list author keys", Err: err}
	}
	dids := make([]string, 0, len(keys))
	for _, k := range keys {
		dids = append(dids, strings.TrimPrefix(k, AuthorKey("")))
	}
	return dids, nil
}

// candidates loads the listings a query has to consider. Category and tag
// filters are answered from the indexes when enabled; every other query
// scans the primary store. Callers still apply every predicate, so stale
// index entries never leak into results.
func (e *QueryEngine) candidates(ctx context.Context, filters *Filters) ([]Listing, error) {
	categoryKey, tagKeys := filters.indexedKeys()
	if !e.opts.UseIndexes || (categoryKey == "" && len(tagKeys) == 0) {
		rctx, cancel := withTimeout(ctx, e.opts.Timeout)
		defer cancel()

		all, err := e.listings.AllListings(rctx)
		if err != nil {
			return nil, &StorageReadError{Op: "scan listings", Err: err}
		}
		return all, nil
	}

	var uris []string
	if len(tagKeys) > 0 {
		seen := make(map[string]struct{})
		for _, key := range tagKeys {
			members, err := e.indexMembers(ctx, key)
			if err != nil {
				return nil, err
			}
			for _, uri := range members {
				if _, ok := seen[uri]; !ok {
					seen[uri] = struct{}{}
					uris = append(uris, uri)
				}
			}
		}
	}

	if categoryKey != "" {
		members, err := e.indexMembers(ctx, categoryKey)
		if err != nil {
			return nil, err
		}
		if len(tagKeys) == 0 {
			uris = members
		} else {
			uris = intersect(uris, members)
		}
	}

	return e.getListings(ctx, uris)
}

func (e *QueryEngine) indexMembers(ctx context.Context, key string) ([]string, error) {
	rctx, cancel := withTimeout(ctx, e.opts.Timeout)
	defer cancel()

	members, err := e.indexes.IndexMembers(rctx, key)
	if err != nil {
		return nil, &StorageReadError{Op: "read index " + key, Err: err}
	}
	return members, nil
}

func (e *QueryEngine) getListings(ctx context.Context, uris []string) ([]Listing, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	rctx, cancel := withTimeout(ctx, e.opts.Timeout)
	defer cancel()

	listings, err := e.listings.GetListings(rctx, uris)
	if err != nil {
		return nil, &StorageReadError{Op: "get listings", Err: err}
	}
	return listings, nil
}

func intersect(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if _, ok := in[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

package domain

import (
	"context"
)

// ListingRepository defines persistence operations for the primary store,
// keyed by listing URI.
type ListingRepository interface {
	// PutListing inserts or replaces the listing stored under its URI. A
	// replaced listing keeps its original insertion sequence.
	PutListing(ctx context.Context, listing *Listing) error

	// GetListing returns the listing stored under uri, or ErrNotFound.
	GetListing(ctx context.Context, uri string) (*Listing, error)

	// GetListings returns the listings stored under the given URIs in
	// insertion order. Unknown URIs are skipped.
	GetListings(ctx context.Context, uris []string) ([]Listing, error)

	// AllListings returns every stored listing in insertion order.
	AllListings(ctx context.Context) ([]Listing, error)
}

// IndexRepository defines persistence operations for secondary indexes.
// An index entry is a set of URIs under a key such as "tag:bike".
type IndexRepository interface {
	// AddToIndex adds uri to the set stored under key. Adding a URI that is
	// already present is a no-op.
	AddToIndex(ctx context.Context, key, uri string) error

	// IndexMembers returns the URIs stored under key in the order they were
	// first added. A missing key yields an empty slice.
	IndexMembers(ctx context.Context, key string) ([]string, error)

	// IndexKeys returns every key starting with prefix.
	IndexKeys(ctx context.Context, prefix string) ([]string, error)
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

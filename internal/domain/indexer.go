package domain

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// IndexRequest is a notification that a listing was created in an author's
// repository.
type IndexRequest struct {
	URI     string         `json:"uri" validate:"required,aturi"`
	CID     string         `json:"cid,omitempty"`
	Listing *ListingRecord `json:"listing" validate:"required"`
	Author  *Author        `json:"author" validate:"required"`
}

// IndexResult reports the outcome of index fan-out for a stored listing.
type IndexResult struct {
	URI     string
	Keys    []string
	Failed  []*StorageWriteError
	Indexed time.Time
}

// Partial reports whether at least one index write failed.
func (r *IndexResult) Partial() bool {
	return len(r.Failed) > 0
}

// Indexer stores listings and fans them out into secondary indexes.
type Indexer struct {
	listings ListingRepository
	indexes  IndexRepository
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewIndexer creates an Indexer. Each storage call is bounded by timeout;
// a zero timeout leaves calls bounded only by the caller's context.
func NewIndexer(listings ListingRepository, indexes IndexRepository, timeout time.Duration, logger *slog.Logger) *Indexer {
	return &Indexer{
		listings: listings,
		indexes:  indexes,
		timeout:  timeout,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IndexListing validates req, writes the primary record and then adds the
// URI to every index the listing belongs to. A primary write failure aborts
// with a *StorageWriteError. Index writes run concurrently and their
// failures are collected in the result rather than returned.
func (ix *Indexer) IndexListing(ctx context.Context, req *IndexRequest) (*IndexResult, error) {
	if req == nil {
		return nil, &ValidationError{Message: "request is required"}
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	indexedAt := ix.now()
	listing := &Listing{
		URI:           req.URI,
		CID:           req.CID,
		Author:        *req.Author,
		ListingRecord: *req.Listing,
		IndexedAt:     indexedAt,
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = indexedAt
	}

	if err := ix.putListing(ctx, listing); err != nil {
		ix.logger.Error("failed to store listing", "uri", req.URI, "error", err)
		return nil, &StorageWriteError{Err: err}
	}

	keys := listing.IndexKeys()
	result := &IndexResult{
		URI:     req.URI,
		Keys:    keys,
		Indexed: indexedAt,
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, key := range keys {
		g.Go(func() error {
			if err := ix.addToIndex(ctx, key, req.URI); err != nil {
				ix.logger.Error("failed to update index", "uri", req.URI, "key", key, "error", err)
				mu.Lock()
				result.Failed = append(result.Failed, &StorageWriteError{Key: key, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].Key < result.Failed[j].Key
	})

	ix.logger.Info("indexed listing",
		"uri", req.URI,
		"author", listing.Author.DID,
		"indexes", len(keys),
		"failed_indexes", len(result.Failed),
	)
	return result, nil
}

func (ix *Indexer) putListing(ctx context.Context, listing *Listing) error {
	ctx, cancel := withTimeout(ctx, ix.timeout)
	defer cancel()
	return ix.listings.PutListing(ctx, listing)
}

func (ix *Indexer) addToIndex(ctx context.Context, key, uri string) error {
	ctx, cancel := withTimeout(ctx, ix.timeout)
	defer cancel()
	return ix.indexes.AddToIndex(ctx, key, uri)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

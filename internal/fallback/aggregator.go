package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNoKnownUsers is returned when there is no identity to aggregate from.
// It is distinct from an aggregation that found zero listings.
var ErrNoKnownUsers = errors.New("no known marketplace users")

// RepoFetcher reads the listings stored in one identity's repository.
type RepoFetcher interface {
	ListListings(ctx context.Context, did string) ([]domain.Listing, error)
}

// PerIdentityFetchError records a failed fetch for one identity. It is
// reported in Aggregation.Failed and never fails the whole aggregation.
type PerIdentityFetchError struct {
	DID string
	Err error
}

func (e *PerIdentityFetchError) Error() string {
	return fmt.Sprintf("fetch listings for %s: %v", e.DID, e.Err)
}

func (e *PerIdentityFetchError) Unwrap() error { return e.Err }

// Options configures an Aggregator.
type Options struct {
	// SelfDID is the authenticated identity, always queried first.
	SelfDID string

	// PerIdentityTimeout bounds each repository fetch independently.
	PerIdentityTimeout time.Duration

	// Concurrency caps simultaneous repository fetches. Values below one
	// mean sequential fetching.
	Concurrency int

	// RequestsPerSecond throttles fetches across identities. Zero disables
	// throttling.
	RequestsPerSecond float64
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		PerIdentityTimeout: 10 * time.Second,
		Concurrency:        4,
		RequestsPerSecond:  5,
	}
}

// Aggregation is the merged result of querying known identities directly.
type Aggregation struct {
	Listings []domain.Listing
	Failed   []*PerIdentityFetchError
	Queried  int
}

// Aggregator approximates browse and search when the indexed service is
// unavailable, by reading known authors' repositories and merging the
// results locally.
type Aggregator struct {
	fetcher RepoFetcher
	known   *KnownUsers
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator creates an Aggregator. known may be nil.
func NewAggregator(fetcher RepoFetcher, known *KnownUsers, opts Options, logger *slog.Logger) *Aggregator {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Aggregator{
		fetcher: fetcher,
		known:   known,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// AggregateKnownUsers fetches the listings of every identity in
// knownUserIDs, plus the session identity, and merges them newest first.
// Expired and draft listings and listings past expiresAt are dropped.
// Per-identity failures are collected in the result; the only error is
// ErrNoKnownUsers (or the context error if ctx ends first).
func (a *Aggregator) AggregateKnownUsers(ctx context.Context, knownUserIDs []string) (*Aggregation, error) {
	dids := identities(a.opts.SelfDID, knownUserIDs)
	if len(dids) == 0 {
		return nil, ErrNoKnownUsers
	}

	a.logger.Debug("aggregating known users", "identities", len(dids))

	fetched := make([][]domain.Listing, len(dids))
	var (
		mu     sync.Mutex
		failed []*PerIdentityFetchError
		g      errgroup.Group
	)
	g.SetLimit(max(a.opts.Concurrency, 1))

	for i, did := range dids {
		g.Go(func() error {
			listings, err := a.fetch(ctx, did)
			if err != nil {
				a.logger.Warn("failed to fetch listings", "did", did, "error", err)
				mu.Lock()
				failed = append(failed, &PerIdentityFetchError{DID: did, Err: err})
				mu.Unlock()
				return nil
			}
			fetched[i] = listings
			if len(listings) > 0 && a.known != nil {
				a.known.Add(did)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := a.now()
	var merged []domain.Listing
	for _, listings := range fetched {
		for _, l := range listings {
			if keepFromRepo(&l, now) {
				merged = append(merged, l)
			}
		}
	}
	domain.SortByRecency(merged)

	sort.Slice(failed, func(i, j int) bool { return failed[i].DID < failed[j].DID })

	a.logger.Info("aggregated known users",
		"identities", len(dids),
		"failed", len(failed),
		"listings", len(merged),
	)
	return &Aggregation{Listings: merged, Failed: failed, Queried: len(dids)}, nil
}

func (a *Aggregator) fetch(ctx context.Context, did string) ([]domain.Listing, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fctx, cancel := ctx, context.CancelFunc(func() {})
	if a.opts.PerIdentityTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, a.opts.PerIdentityTimeout)
	}
	defer cancel()

	return a.fetcher.ListListings(fctx, did)
}

// keepFromRepo drops listings the author withdrew or that lapsed. Sold
// listings are kept, as the repositories still advertise them.
func keepFromRepo(l *domain.Listing, now time.Time) bool {
	switch l.Status {
	case domain.StatusExpired, domain.StatusDraft:
		return false
	}
	return !l.Expired(now)
}

// identities puts self first when absent and removes duplicates and empty
// entries, keeping first-seen order.
func identities(self string, known []string) []string {
	seen := make(map[string]struct{}, len(known)+1)
	var out []string
	add := func(did string) {
		if did == "" {
			return
		}
		if _, ok := seen[did]; ok {
			return
		}
		seen[did] = struct{}{}
		out = append(out, did)
	}
	add(self)
	for _, did := range known {
		add(did)
	}
	return out
}

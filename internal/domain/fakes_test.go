package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory ListingRepository and IndexRepository with
// per-key failure injection.
type memStore struct {
	mu       sync.Mutex
	seq      int64
	listings map[string]Listing
	indexes  map[string][]string

	failPut   bool
	failRead  bool
	failIndex map[string]bool

	// blockIndex keys hang until the write's context ends.
	blockIndex map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		listings:   make(map[string]Listing),
		indexes:    make(map[string][]string),
		failIndex:  make(map[string]bool),
		blockIndex: make(map[string]bool),
	}
}

func (m *memStore) PutListing(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errStoreDown
	}
	stored := *l
	if existing, ok := m.listings[l.URI]; ok {
		stored.Seq = existing.Seq
	} else {
		m.seq++
		stored.Seq = m.seq
	}
	m.listings[l.URI] = stored
	return nil
}

func (m *memStore) GetListing(_ context.Context, uri string) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errStoreDown
	}
	l, ok := m.listings[uri]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *memStore) GetListings(_ context.Context, uris []string) ([]Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errStoreDown
	}
	var out []Listing
	for _, uri := range uris {
		if l, ok := m.listings[uri]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memStore) AllListings(_ context.Context) ([]Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errStoreDown
	}
	out := make([]Listing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memStore) AddToIndex(ctx context.Context, key, uri string) error {
	m.mu.Lock()
	block := m.blockIndex[key]
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIndex[key] {
		return errStoreDown
	}
	for _, existing := range m.indexes[key] {
		if existing == uri {
			return nil
		}
	}
	m.indexes[key] = append(m.indexes[key], uri)
	return nil
}

func (m *memStore) IndexMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errStoreDown
	}
	return append([]string(nil), m.indexes[key]...), nil
}

func (m *memStore) IndexKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errStoreDown
	}
	var keys []string
	for k := range m.indexes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func testRequest(rkey, title string, created time.Time) *IndexRequest {
	return &IndexRequest{
		URI: "at://did:plc:alice/" + ListingCollection + "/" + rkey,
		CID: "bafy" + rkey,
		Listing: &ListingRecord{
			Title:       title,
			Description: "A " + title + " in good shape",
			Price:       "$100",
			CreatedAt:   created,
		},
		Author: &Author{DID: "did:plc:alice", Handle: "alice.bsky.social"},
	}
}

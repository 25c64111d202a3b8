package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		uri        TEXT NOT NULL UNIQUE,
		cid        TEXT NOT NULL DEFAULT '',
		author_did TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS index_entries (
		key TEXT NOT NULL,
		uri TEXT NOT NULL,
		PRIMARY KEY (key, uri)
	)`,
	`CREATE TABLE IF NOT EXISTS cursors (
		service      TEXT PRIMARY KEY,
		cursor_value INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
}

// maxInArgs keeps IN (...) lists well below SQLite's bound-parameter limit.
const maxInArgs = 500

// Repository implements domain.ListingRepository, domain.IndexRepository
// and domain.CursorRepository on a single SQLite database.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the SQLite database at path (":memory:" for a
// throwaway store), verifies the connection, and creates the schema. The
// caller should call Close when the repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// PutListing inserts a listing or replaces the stored copy. The sequence
// assigned on first insert is kept.
func (r *Repository) PutListing(ctx context.Context, listing *domain.Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("encode listing %s: %w", listing.URI, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO listings (uri, cid, author_did, data, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO UPDATE SET
			cid = excluded.cid,
			author_did = excluded.author_did,
			data = excluded.data,
			created_at = excluded.created_at,
			indexed_at = excluded.indexed_at`,
		listing.URI,
		listing.CID,
		listing.Author.DID,
		string(data),
		listing.CreatedAt.UnixMilli(),
		listing.IndexedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", listing.URI, err)
	}
	return nil
}

// GetListing returns the listing stored under uri, or domain.ErrNotFound.
func (r *Repository) GetListing(ctx context.Context, uri string) (*domain.Listing, error) {
	var (
		seq  int64
		data string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT seq, data FROM listings WHERE uri = ?`, uri,
	).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query listing %s: %w", uri, err)
	}

	l, err := decodeListing(seq, data)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetListings returns the stored listings among uris in insertion order.
func (r *Repository) GetListings(ctx context.Context, uris []string) ([]domain.Listing, error) {
	var listings []domain.Listing
	for start := 0; start < len(uris); start += maxInArgs {
		chunk := uris[start:min(start+maxInArgs, len(uris))]

		args := make([]any, len(chunk))
		for i, u := range chunk {
			args[i] = u
		}
		query := `SELECT seq, data FROM listings WHERE uri IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `) ORDER BY seq`

		batch, err := r.queryListings(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		listings = append(listings, batch...)
	}

	if len(uris) > maxInArgs {
		sort.Slice(listings, func(i, j int) bool { return listings[i].Seq < listings[j].Seq })
	}
	return listings, nil
}

// AllListings returns every stored listing in insertion order.
func (r *Repository) AllListings(ctx context.Context) ([]domain.Listing, error) {
	return r.queryListings(ctx, `SELECT seq, data FROM listings ORDER BY seq`)
}

func (r *Repository) queryListings(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		var (
			seq  int64
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		l, err := decodeListing(seq, data)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

func decodeListing(seq int64, data string) (domain.Listing, error) {
	var l domain.Listing
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return domain.Listing{}, fmt.Errorf("decode listing seq %d: %w", seq, err)
	}
	l.Seq = seq
	return l, nil
}

// AddToIndex adds uri to the set under key. Re-adding is a no-op and keeps
// the original position.
func (r *Repository) AddToIndex(ctx context.Context, key, uri string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO index_entries (key, uri) VALUES (?, ?)`,
		key, uri,
	)
	if err != nil {
		return fmt.Errorf("add %s to index %s: %w", uri, key, err)
	}
	return nil
}

// IndexMembers returns the URIs under key in the order they were added.
func (r *Repository) IndexMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT uri FROM index_entries WHERE key = ? ORDER BY rowid`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", key, err)
	}
	defer rows.Close()

	uris := make([]string, 0)
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan index %s: %w", key, err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index %s: %w", key, err)
	}
	return uris, nil
}

// IndexKeys returns the distinct index keys starting with prefix, sorted.
func (r *Repository) IndexKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT key FROM index_entries
		WHERE substr(key, 1, ?) = ?
		ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("query index keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan index key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET
			cursor_value = excluded.cursor_value,
			updated_at = excluded.updated_at`,
		service, cursor, time.Now().UTC().UnixMilli(),
	)
	return err
}

package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
	reconnectDelay     = 5 * time.Second
	statsInterval      = 30 * time.Second
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream.
var wantedCollections = []string{
	domain.ListingCollection,
}

// ProfileResolver looks up the author snapshot stored with a listing.
type ProfileResolver interface {
	GetProfile(ctx context.Context, actor string) (*domain.Author, error)
}

// Subscriber connects to the Jetstream firehose and indexes listing
// commits as they happen.
type Subscriber struct {
	url      string
	indexer  *domain.Indexer
	cursors  domain.CursorRepository
	profiles ProfileResolver
	logger   *slog.Logger
}

// NewSubscriber creates a new firehose subscriber. profiles may be nil, in
// which case listings are indexed with only the author DID.
func NewSubscriber(
	firehoseURL string,
	indexer *domain.Indexer,
	cursors domain.CursorRepository,
	profiles ProfileResolver,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:      firehoseURL,
		indexer:  indexer,
		cursors:  cursors,
		profiles: profiles,
		logger:   logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.cursors.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to firehose")

	lastCursorSave := time.Now()
	var latestCursor int64
	var eventsReceived, commitsReceived, listingsIndexed int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			commitsReceived++
			if indexed, err := s.handleCommit(ctx, event); err != nil {
				s.logger.Error("failed to handle commit", "uri", event.uri(), "error", err)
			} else if indexed {
				listingsIndexed++
			}
		}

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"commits_received", commitsReceived,
				"listings_indexed", listingsIndexed,
			)
			lastStatsLog = time.Now()
		}

		if time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.cursors.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

// handleCommit indexes created and updated listings. Deletes are logged
// only: indexes are append-only and stale entries are filtered at query
// time.
func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent) (indexed bool, err error) {
	commit := event.Commit
	if commit.Collection != domain.ListingCollection {
		return false, nil
	}

	uri := event.uri()

	switch commit.Operation {
	case "create", "update":
		if commit.Record == nil {
			return false, nil
		}

		req := &domain.IndexRequest{
			URI:     uri,
			CID:     commit.CID,
			Listing: commit.Record,
			Author:  s.resolveAuthor(ctx, event.DID),
		}

		result, err := s.indexer.IndexListing(ctx, req)
		if err != nil {
			return false, err
		}
		if result.Partial() {
			s.logger.Warn("listing partially indexed", "uri", uri, "failed_indexes", len(result.Failed))
		}
		return true, nil

	case "delete":
		s.logger.Info("ignoring listing delete", "uri", uri)
		return false, nil

	default:
		return false, nil
	}
}

func (s *Subscriber) resolveAuthor(ctx context.Context, did string) *domain.Author {
	if s.profiles == nil {
		return &domain.Author{DID: did}
	}
	author, err := s.profiles.GetProfile(ctx, did)
	if err != nil {
		s.logger.Warn("failed to resolve author profile", "did", did, "error", err)
		return &domain.Author{DID: did}
	}
	author.DID = did
	return author
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var raw struct {
		DID    string          `json:"did"`
		TimeUS int64           `json:"time_us"`
		Kind   string          `json:"kind"`
		Commit json.RawMessage `json:"commit,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &jetstreamEvent{
		DID:    raw.DID,
		TimeUS: raw.TimeUS,
		Kind:   raw.Kind,
	}

	if raw.Kind == "commit" && len(raw.Commit) > 0 {
		var rc struct {
			Rev        string          `json:"rev"`
			Operation  string          `json:"operation"`
			Collection string          `json:"collection"`
			RKey       string          `json:"rkey"`
			Record     json.RawMessage `json:"record,omitempty"`
			CID        string          `json:"cid"`
		}
		if err := json.Unmarshal(raw.Commit, &rc); err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}

		commit := &jetstreamCommit{
			Rev:        rc.Rev,
			Operation:  rc.Operation,
			Collection: rc.Collection,
			RKey:       rc.RKey,
			CID:        rc.CID,
		}

		if len(rc.Record) > 0 && rc.Collection == domain.ListingCollection {
			var record domain.ListingRecord
			if err := json.Unmarshal(rc.Record, &record); err != nil {
				return nil, fmt.Errorf("unmarshal listing record: %w", err)
			}
			commit.Record = &record
		}

		event.Commit = commit
	}

	return event, nil
}

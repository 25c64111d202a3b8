package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
)

const (
	defaultPDS = "https://bsky.social"

	// listRecordsLimit is the page size requested from listRecords.
	listRecordsLimit = 100
	// maxListPages bounds how many listRecords pages are read per repository.
	maxListPages = 10
)

// Client is a minimal AT Protocol XRPC client for reading and writing
// marketplace listing records.
type Client struct {
	pds        string
	httpClient *http.Client
	logger     *slog.Logger

	// populated after Login
	accessJwt string
	did       string
}

// NewClient creates a new AT Protocol client. If pds is empty, it defaults
// to https://bsky.social.
func NewClient(pds string, logger *slog.Logger) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		pds:    pds,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx XRPC response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// CreateListing writes a listing record to the authenticated user's repo
// via com.atproto.repo.createRecord and returns its URI and CID.
func (c *Client) CreateListing(ctx context.Context, record domain.ListingRecord) (string, string, error) {
	if c.accessJwt == "" {
		return "", "", fmt.Errorf("not authenticated: call Login first")
	}

	if record.Status == "" {
		record.Status = domain.StatusActive
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	body := createRecordRequest{
		Repo:       c.did,
		Collection: domain.ListingCollection,
		Record: typedListing{
			Type:          domain.ListingCollection,
			ListingRecord: record,
		},
	}

	var resp createRecordResponse
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp); err != nil {
		return "", "", fmt.Errorf("create record: %w", err)
	}
	return resp.URI, resp.CID, nil
}

// GetProfile resolves an actor (DID or handle) to an author snapshot.
func (c *Client) GetProfile(ctx context.Context, actor string) (*domain.Author, error) {
	var resp profileResponse
	q := url.Values{"actor": {actor}}
	if err := c.get(ctx, "/xrpc/app.bsky.actor.getProfile", q, &resp); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", actor, err)
	}
	return &domain.Author{
		DID:         resp.DID,
		Handle:      resp.Handle,
		DisplayName: resp.DisplayName,
		Avatar:      resp.Avatar,
	}, nil
}

// GetListing reads a single listing record by URI. A missing record yields
// domain.ErrNotFound.
func (c *Client) GetListing(ctx context.Context, uri string) (*domain.Listing, error) {
	at, err := domain.ParseAtURI(uri)
	if err != nil {
		return nil, err
	}

	var resp recordResponse
	q := url.Values{
		"repo":       {at.Repo},
		"collection": {at.Collection},
		"rkey":       {at.RKey},
	}
	if err := c.get(ctx, "/xrpc/com.atproto.repo.getRecord", q, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == "RecordNotFound" || apiErr.StatusCode == http.StatusNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get record %s: %w", uri, err)
	}

	listing, err := decodeListing(resp, domain.Author{DID: at.Repo})
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", uri, err)
	}
	listing.Author = c.author(ctx, at.Repo)
	return listing, nil
}

// ListListings reads every listing record in a repository, following the
// listRecords cursor. Records that do not decode as listings are skipped.
// The author snapshot is resolved once through getProfile; if that fails
// only the DID is filled in.
func (c *Client) ListListings(ctx context.Context, did string) ([]domain.Listing, error) {
	var (
		records []recordResponse
		cursor  string
	)
	for page := 0; page < maxListPages; page++ {
		q := url.Values{
			"repo":       {did},
			"collection": {domain.ListingCollection},
			"limit":      {strconv.Itoa(listRecordsLimit)},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp listRecordsResponse
		if err := c.get(ctx, "/xrpc/com.atproto.repo.listRecords", q, &resp); err != nil {
			return nil, fmt.Errorf("list records %s: %w", did, err)
		}
		records = append(records, resp.Records...)

		if resp.Cursor == "" || len(resp.Records) == 0 {
			break
		}
		cursor = resp.Cursor
	}

	author := c.author(ctx, did)
	listings := make([]domain.Listing, 0, len(records))
	for _, rec := range records {
		l, err := decodeListing(rec, author)
		if err != nil {
			c.logger.Debug("skipping malformed listing record", "uri", rec.URI, "error", err)
			continue
		}
		listings = append(listings, *l)
	}
	return listings, nil
}

func (c *Client) author(ctx context.Context, did string) domain.Author {
	a, err := c.GetProfile(ctx, did)
	if err != nil {
		c.logger.Warn("failed to fetch profile", "did", did, "error", err)
		return domain.Author{DID: did}
	}
	a.DID = did
	return *a
}

func decodeListing(rec recordResponse, author domain.Author) (*domain.Listing, error) {
	var record domain.ListingRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		return nil, err
	}
	if record.Title == "" {
		return nil, fmt.Errorf("record has no title")
	}
	// A missing createdAt stays zero and sorts as oldest, so the order is
	// the same on every fetch.
	return &domain.Listing{
		URI:           rec.URI,
		CID:           rec.CID,
		Author:        author,
		ListingRecord: record,
		IndexedAt:     record.CreatedAt,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pds+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type typedListing struct {
	Type string `json:"$type"`
	domain.ListingRecord
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type recordResponse struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type listRecordsResponse struct {
	Cursor  string           `json:"cursor"`
	Records []recordResponse `json:"records"`
}

type profileResponse struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

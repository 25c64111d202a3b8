package appview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
)

// Client calls the marketplace AppView over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the AppView at endpoint, e.g.
// "https://market.example".
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Page is a browse or search response.
type Page struct {
	Listings []domain.Listing `json:"listings"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"hasMore"`
	Cursor   string           `json:"cursor,omitempty"`
	Query    string           `json:"query,omitempty"`
}

// StatusError is a non-2xx AppView response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("appview error (status %d): %s", e.StatusCode, e.Message)
}

// GetListings browses the indexed catalog.
func (c *Client) GetListings(ctx context.Context, filters *domain.Filters, p domain.Pagination) (*Page, error) {
	var page Page
	if err := c.get(ctx, "com.marketplace.getListings", encodeQuery("", filters, p), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchListings runs a text search against the indexed catalog.
func (c *Client) SearchListings(ctx context.Context, query string, filters *domain.Filters, p domain.Pagination) (*Page, error) {
	var page Page
	if err := c.get(ctx, "com.marketplace.searchListings", encodeQuery(query, filters, p), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// NotifyNewListing asks the AppView to index a listing that was just
// written to the author's repository.
func (c *Client) NotifyNewListing(ctx context.Context, req *domain.IndexRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/xrpc/com.marketplace.notifyNewListing", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, nil)
}

func encodeQuery(query string, f *domain.Filters, p domain.Pagination) url.Values {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if f != nil {
		if f.Category != "" {
			q.Set("category", f.Category)
		}
		if f.Location != "" {
			q.Set("location", f.Location)
		}
		if f.MinPrice != nil {
			q.Set("minPrice", strconv.FormatFloat(*f.MinPrice, 'f', -1, 64))
		}
		if f.MaxPrice != nil {
			q.Set("maxPrice", strconv.FormatFloat(*f.MaxPrice, 'f', -1, 64))
		}
		if len(f.Tags) > 0 {
			q.Set("tags", strings.Join(f.Tags, ","))
		}
		for _, c := range f.Conditions {
			q.Add("condition", c)
		}
		if f.HasImages != nil {
			q.Set("hasImages", strconv.FormatBool(*f.HasImages))
		}
		if f.PostedSince != nil {
			q.Set("postedSince", f.PostedSince.UTC().Format(time.RFC3339))
		}
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	return q
}

func (c *Client) get(ctx context.Context, method string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/xrpc/"+method+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(body)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

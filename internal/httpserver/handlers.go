package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/gorilla/schema"
)

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// listingParams are the query parameters shared by browse, search and
// author listing requests. Pointer fields distinguish absent from zero.
// Prices stay strings so that an empty form field means no bound.
type listingParams struct {
	Query       string   `schema:"q"`
	Category    string   `schema:"category"`
	Location    string   `schema:"location"`
	MinPrice    string   `schema:"minPrice"`
	MaxPrice    string   `schema:"maxPrice"`
	Tags        []string `schema:"tags"`
	Conditions  []string `schema:"condition"`
	HasImages   *bool    `schema:"hasImages"`
	PostedSince string   `schema:"postedSince"`

	Limit  *int   `schema:"limit"`
	Offset *int   `schema:"offset"`
	Cursor string `schema:"cursor"`

	URI             string `schema:"uri"`
	Author          string `schema:"author"`
	IncludeInactive bool   `schema:"includeInactive"`
}

func decodeParams(r *http.Request) (*listingParams, error) {
	var p listingParams
	if err := decoder.Decode(&p, r.URL.Query()); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *listingParams) filters() (*domain.Filters, error) {
	f := &domain.Filters{
		Category:   p.Category,
		Location:   strings.TrimSpace(p.Location),
		Tags:       domain.ParseTags(p.Tags...),
		Conditions: p.Conditions,
		HasImages:  p.HasImages,
	}
	var err error
	if f.MinPrice, err = priceBound("minPrice", p.MinPrice); err != nil {
		return nil, err
	}
	if f.MaxPrice, err = priceBound("maxPrice", p.MaxPrice); err != nil {
		return nil, err
	}
	if p.PostedSince != "" {
		t, err := parseTime(p.PostedSince)
		if err != nil {
			return nil, &domain.ValidationError{Field: "postedSince", Message: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}
		}
		f.PostedSince = &t
	}
	return f, nil
}

// pagination applies the defaults: offset 0 (or the numeric cursor) and
// limit 20.
func (p *listingParams) pagination() (domain.Pagination, error) {
	pg := domain.DefaultPagination()
	if p.Limit != nil {
		pg.Limit = *p.Limit
	}
	switch {
	case p.Offset != nil:
		pg.Offset = *p.Offset
	case p.Cursor != "":
		n, err := strconv.Atoi(p.Cursor)
		if err != nil {
			return pg, &domain.ValidationError{Field: "cursor", Message: "must be an integer offset"}
		}
		pg.Offset = n
	}
	return pg, nil
}

// priceBound parses an optional numeric bound. Blank means unbounded.
func priceBound(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &domain.ValidationError{Field: field, Message: "must be a number"}
	}
	return &v, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type pageResponse struct {
	Listings []domain.Listing `json:"listings"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"hasMore"`
	Cursor   string           `json:"cursor,omitempty"`
	Query    string           `json:"query,omitempty"`
}

func newPageResponse(page *domain.Page, pg domain.Pagination) pageResponse {
	return pageResponse{
		Listings: page.Listings,
		Total:    page.Total,
		HasMore:  page.HasMore,
		Cursor:   domain.NextCursor(page, pg),
	}
}

func (s *Server) handleNotifyNewListing(w http.ResponseWriter, r *http.Request) {
	var req domain.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("invalid notifyNewListing body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.indexer.IndexListing(r.Context(), &req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			s.logger.Warn("rejected listing notification", "uri", req.URI, "error", err)
			writeError(w, http.StatusBadRequest, "Missing required fields: "+ve.Error())
			return
		}
		s.logger.Error("failed to index listing",
			"uri", req.URI,
			"timeout", domain.IsTimeout(err),
			"request_id", requestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Failed to index listing")
		return
	}

	resp := map[string]any{
		"success": true,
		"message": "Listing indexed successfully",
		"uri":     result.URI,
	}
	if result.Partial() {
		failed := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			failed = append(failed, f.Key)
		}
		resp["failedIndexes"] = failed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	_, filters, pg, ok := s.parseListingRequest(w, r)
	if !ok {
		return
	}

	page, err := s.engine.ListAll(r.Context(), filters, pg)
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to fetch listings")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(page, pg))
}

func (s *Server) handleSearchListings(w http.ResponseWriter, r *http.Request) {
	params, filters, pg, ok := s.parseListingRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(params.Query) == "" {
		writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	page, err := s.engine.Search(r.Context(), params.Query, filters, pg)
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to search listings")
		return
	}
	resp := newPageResponse(&page.Page, pg)
	resp.Query = page.Query
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	lookup, err := s.engine.GetListing(r.Context(), uri)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Listing not found")
			return
		}
		s.writeQueryError(w, r, err, "Failed to fetch listing")
		return
	}

	if !lookup.Available() {
		writeJSON(w, http.StatusGone, map[string]any{
			"error":        "Listing is no longer available",
			"availability": lookup.Availability,
			"uri":          uri,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing":      lookup.Listing,
		"availability": lookup.Availability,
	})
}

func (s *Server) handleGetAuthorListings(w http.ResponseWriter, r *http.Request) {
	params, _, pg, ok := s.parseListingRequest(w, r)
	if !ok {
		return
	}
	if params.Author == "" {
		writeError(w, http.StatusBadRequest, "author is required")
		return
	}

	page, err := s.engine.AuthorListings(r.Context(), params.Author, pg, params.IncludeInactive)
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to fetch author listings")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(page, pg))
}

func (s *Server) handleGetKnownAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := s.engine.KnownAuthors(r.Context())
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to fetch authors")
		return
	}
	if authors == nil {
		authors = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"authors": authors})
}

func (s *Server) parseListingRequest(w http.ResponseWriter, r *http.Request) (*listingParams, *domain.Filters, domain.Pagination, bool) {
	params, err := decodeParams(r)
	if err != nil {
		s.logger.Warn("invalid query parameters", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid query parameters")
		return nil, nil, domain.Pagination{}, false
	}
	filters, err := params.filters()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, domain.Pagination{}, false
	}
	pg, err := params.pagination()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, domain.Pagination{}, false
	}
	return params, filters, pg, true
}

// writeQueryError maps validation failures to 400 and everything else to
// 500 with a generic message.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	}
	s.logger.Error(message,
		"path", r.URL.Path,
		"timeout", domain.IsTimeout(err),
		"request_id", requestID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, message)
}

package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ListingCollection is the AT Protocol collection NSID holding marketplace
// listing records in each author's repository.
const ListingCollection = "com.marketplace.listing"

// Listing statuses. An empty status is treated as active.
const (
	StatusActive  = "active"
	StatusSold    = "sold"
	StatusExpired = "expired"
	StatusDraft   = "draft"
)

// Listing conditions accepted by the condition filter.
const (
	ConditionNew     = "new"
	ConditionLikeNew = "like-new"
	ConditionGood    = "good"
	ConditionFair    = "fair"
	ConditionPoor    = "poor"
)

// Author is the denormalized snapshot of the posting identity captured at
// index time. Handle, DisplayName and Avatar may go stale.
type Author struct {
	DID         string `json:"did" validate:"required,startswith=did:"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Location is where the listed item can be picked up.
type Location struct {
	ZipCode   string   `json:"zipCode"`
	Address   string   `json:"address,omitempty"`
	City      string   `json:"city,omitempty"`
	State     string   `json:"state,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// UnmarshalJSON accepts both the structured form and the bare string form
// written by older clients, which is kept as the address.
func (l *Location) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = Location{Address: s}
		return nil
	}
	type plain Location
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Location(p)
	return nil
}

// String joins the non-empty location parts, used for substring matching.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{l.ZipCode, l.Address, l.City, l.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Tokens returns the lower-cased location values that get their own
// secondary index entry.
func (l *Location) Tokens() []string {
	if l == nil {
		return nil
	}
	var tokens []string
	for _, p := range []string{l.ZipCode, l.City, l.State} {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Image is an attachment on a listing. The blob reference is opaque.
type Image struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image,omitempty"`
}

// ListingRecord is the com.marketplace.listing record body as written to
// the author's repository.
type ListingRecord struct {
	Title         string     `json:"title" validate:"required,notblank"`
	Description   string     `json:"description"`
	Price         string     `json:"price"`
	Category      string     `json:"category,omitempty"`
	Condition     string     `json:"condition,omitempty"`
	Location      *Location  `json:"location,omitempty"`
	Images        []Image    `json:"images,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Status        string     `json:"status,omitempty"`
	AllowMessages *bool      `json:"allowMessages,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	ViewCount     int        `json:"viewCount,omitempty"`
	Featured      bool       `json:"featured,omitempty"`
	CrossPostedTo []string   `json:"crossPostedTo,omitempty"`
}

// Listing is a listing record as served by the catalog: the record merged
// with its identity, author snapshot and index time.
type Listing struct {
	URI    string `json:"uri"`
	CID    string `json:"cid,omitempty"`
	Author Author `json:"author"`
	ListingRecord
	IndexedAt time.Time `json:"indexedAt"`

	// Seq is the store insertion order, used to break createdAt ties.
	Seq int64 `json:"-"`
}

// EffectiveStatus returns the listing status, defaulting to active.
func (r *ListingRecord) EffectiveStatus() string {
	if r.Status == "" {
		return StatusActive
	}
	return r.Status
}

// Expired reports whether expiresAt is set and lies before now.
func (r *ListingRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Visible reports whether the listing may appear in browse and search
// results: it must be active and not expired.
func (r *ListingRecord) Visible(now time.Time) bool {
	return r.EffectiveStatus() == StatusActive && !r.Expired(now)
}

// Availability describes whether a directly looked-up listing can be shown.
type Availability string

const (
	Available         Availability = "available"
	UnavailableStatus Availability = "inactive"
	UnavailableExpiry Availability = "expired"
)

// Availability classifies the record for direct URI lookups.
func (r *ListingRecord) Availability(now time.Time) Availability {
	switch {
	case r.EffectiveStatus() != StatusActive:
		return UnavailableStatus
	case r.Expired(now):
		return UnavailableExpiry
	default:
		return Available
	}
}

// IndexKeys returns every secondary index key the listing belongs to. Keys
// are de-duplicated; the order is category, location, tags, author.
func (l *Listing) IndexKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	if c := strings.TrimSpace(l.Category); c != "" {
		add(CategoryKey(c))
	}
	for _, tok := range l.Location.Tokens() {
		add(LocationKey(tok))
	}
	for _, t := range l.Tags {
		if t = strings.TrimSpace(t); t != "" {
			add(TagKey(t))
		}
	}
	if l.Author.DID != "" {
		add(AuthorKey(l.Author.DID))
	}
	return keys
}

// CategoryKey is the index key for a category. Categories match exactly.
func CategoryKey(category string) string { return "category:" + category }

// LocationKey is the index key for a location token.
func LocationKey(token string) string { return "location:" + strings.ToLower(token) }

// TagKey is the index key for a tag. Tags match case-insensitively.
func TagKey(tag string) string { return "tag:" + strings.ToLower(tag) }

// AuthorKey is the index key listing every URI posted by an author.
func AuthorKey(did string) string { return "author:" + did }

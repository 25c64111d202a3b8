package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Filters narrows browse and search results. Every set field must be
// satisfied for a listing to match.
type Filters struct {
	// Category matches exactly.
	Category string

	// Location is a case-insensitive substring of the listing location.
	Location string

	// MinPrice and MaxPrice bound the parsed price. While either is set,
	// listings whose price cannot be parsed are excluded.
	MinPrice *float64
	MaxPrice *float64

	// Tags are lower-cased; a listing matches if any of its tags equals any
	// of these.
	Tags []string

	// Conditions matches any of the given item conditions.
	Conditions []string

	// HasImages, when set, requires the listing to have (or lack) images.
	HasImages *bool

	// PostedSince excludes listings created before it.
	PostedSince *time.Time
}

// ParseTags splits a comma-separated tag list, trimming and lower-casing
// each tag. Empty entries are dropped.
func ParseTags(raw ...string) []string {
	var tags []string
	for _, r := range raw {
		for _, t := range strings.Split(r, ",") {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

var priceNumber = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice extracts the first numeric run from a free-form price such as
// "$1,200 OBO". Prices like "Free" or "Negotiable" do not parse.
func ParsePrice(price string) (float64, bool) {
	m := priceNumber.FindString(price)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Match reports whether the listing satisfies every filter.
func (f *Filters) Match(l *Listing) bool {
	if f == nil {
		return true
	}
	if f.Category != "" && l.Category != f.Category {
		return false
	}
	if f.Location != "" {
		if !strings.Contains(strings.ToLower(l.Location.String()), strings.ToLower(f.Location)) {
			return false
		}
	}
	if f.MinPrice != nil || f.MaxPrice != nil {
		price, ok := ParsePrice(l.Price)
		if !ok {
			return false
		}
		if f.MinPrice != nil && price < *f.MinPrice {
			return false
		}
		if f.MaxPrice != nil && price > *f.MaxPrice {
			return false
		}
	}
	if len(f.Tags) > 0 && !hasAnyTag(l.Tags, f.Tags) {
		return false
	}
	if len(f.Conditions) > 0 && !containsFold(f.Conditions, l.Condition) {
		return false
	}
	if f.HasImages != nil && (len(l.Images) > 0) != *f.HasImages {
		return false
	}
	if f.PostedSince != nil && l.CreatedAt.Before(*f.PostedSince) {
		return false
	}
	return true
}

// indexedKeys returns the category key and the tag keys the filters can be
// answered from, if any.
func (f *Filters) indexedKeys() (category string, tags []string) {
	if f == nil {
		return "", nil
	}
	if f.Category != "" {
		category = CategoryKey(f.Category)
	}
	for _, t := range f.Tags {
		tags = append(tags, TagKey(t))
	}
	return category, tags
}

func hasAnyTag(listingTags, wanted []string) bool {
	for _, lt := range listingTags {
		lt = strings.ToLower(lt)
		for _, w := range wanted {
			if lt == w {
				return true
			}
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// NormalizeQuery lower-cases and trims a search query.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// MatchesQuery reports whether the normalized term is a substring of the
// title, description, category or any tag.
func MatchesQuery(l *Listing, term string) bool {
	if strings.Contains(strings.ToLower(l.Title), term) ||
		strings.Contains(strings.ToLower(l.Description), term) ||
		strings.Contains(strings.ToLower(l.Category), term) {
		return true
	}
	for _, t := range l.Tags {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	return false
}

// ExactTitle reports whether the lower-cased title equals the normalized term.
func ExactTitle(l *Listing, term string) bool {
	return strings.ToLower(l.Title) == term
}

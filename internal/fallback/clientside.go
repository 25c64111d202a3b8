package fallback

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
)

// SortBy names a client-side sort key.
type SortBy string

const (
	SortCreatedAt SortBy = "createdAt"
	SortPrice     SortBy = "price"
	SortDistance  SortBy = "distance"
	SortRelevance SortBy = "relevance"
)

// Order is a sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseSort validates a sort key and order; empty values select createdAt
// and desc.
func ParseSort(by, order string) (SortBy, Order, error) {
	s := SortBy(by)
	switch s {
	case "":
		s = SortCreatedAt
	case SortCreatedAt, SortPrice, SortDistance, SortRelevance:
	default:
		return "", "", fmt.Errorf("unknown sort %q", by)
	}

	o := Order(strings.ToLower(order))
	switch o {
	case "":
		o = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return "", "", fmt.Errorf("unknown sort order %q", order)
	}
	return s, o, nil
}

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

const earthRadiusMiles = 3958.8

// DistanceMiles returns the great-circle distance between a and b.
func DistanceMiles(a, b Point) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ApplyClientFilters returns the listings matching filters, in their
// original order. The predicates are the ones the indexed service applies.
func ApplyClientFilters(listings []domain.Listing, filters *domain.Filters) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for i := range listings {
		if filters.Match(&listings[i]) {
			out = append(out, listings[i])
		}
	}
	return out
}

// ApplyClientSort returns a sorted copy of listings. Ties keep their input
// order.
//
// Price sorting treats an unparseable price as 0, whereas the price filter
// excludes such listings. Relevance has no text score here and always
// orders newest first. Distance needs origin; listings without
// coordinates (or every listing, when origin is nil) follow the located
// ones, newest first.
func ApplyClientSort(listings []domain.Listing, sortBy SortBy, order Order, origin *Point) []domain.Listing {
	out := append([]domain.Listing(nil), listings...)
	desc := order != OrderAsc

	switch sortBy {
	case SortPrice:
		sort.SliceStable(out, func(i, j int) bool {
			pi, pj := sortPrice(&out[i]), sortPrice(&out[j])
			if desc {
				return pi > pj
			}
			return pi < pj
		})

	case SortDistance:
		dist := func(l *domain.Listing) (float64, bool) {
			if origin == nil || !l.Location.HasCoordinates() {
				return 0, false
			}
			return DistanceMiles(*origin, Point{Lat: *l.Location.Latitude, Lng: *l.Location.Longitude}), true
		}
		sort.SliceStable(out, func(i, j int) bool {
			di, iok := dist(&out[i])
			dj, jok := dist(&out[j])
			switch {
			case iok && jok:
				if desc {
					return di > dj
				}
				return di < dj
			case iok != jok:
				return iok
			default:
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
		})

	case SortRelevance:
		domain.SortByRecency(out)

	default:
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}
	return out
}

func sortPrice(l *domain.Listing) float64 {
	p, _ := domain.ParsePrice(l.Price)
	return p
}

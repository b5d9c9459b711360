package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var ErrInvalidBBox = errors.New("invalid bbox")

// NewBound builds a lat/lng box. orb points are (lng, lat).
func NewBound(minLat, maxLat, minLng, maxLng float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{minLng, minLat},
		Max: orb.Point{maxLng, maxLat},
	}
}

// Contains reports whether lat/lng is a finite point inside b
func Contains(b orb.Bound, lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return b.Contains(orb.Point{lng, lat})
}

// PlausiblePair returns the pair when both values are set and inside b, and
// nil for both otherwise. Half-set pairs are never returned.
func PlausiblePair(b orb.Bound, lat, lng *float64) (*float64, *float64) {
	if lat == nil || lng == nil || !Contains(b, *lat, *lng) {
		return nil, nil
	}
	la, ln := *lat, *lng
	return &la, &ln
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat"
func ParseBBox(value string) (orb.Bound, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("%w: expected 4 comma separated values", ErrInvalidBBox)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return orb.Bound{}, fmt.Errorf("%w: %q is not a number", ErrInvalidBBox, p)
		}
		v[i] = f
	}

	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("%w: min exceeds max", ErrInvalidBBox)
	}
	if v[1] < -90 || v[3] > 90 || v[0] < -180 || v[2] > 180 {
		return orb.Bound{}, fmt.Errorf("%w: out of range", ErrInvalidBBox)
	}

	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

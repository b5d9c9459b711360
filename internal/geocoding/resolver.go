package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"bytovka/config"
	"bytovka/internal/database"
	"bytovka/internal/geometry"
	"bytovka/internal/metrics"
	"bytovka/internal/models"
)

var (
	ErrInvalidInput     = errors.New("invalid address input")
	ErrResolutionFailed = errors.New("address resolution failed")
)

const (
	SourceCache    = "cache"
	SourceGeocoder = "geocoder"
)

// Store is the address cache and district catalog used by the Resolver
type Store interface {
	FindStreetLocation(ctx context.Context, streetName, postalCode string) (*models.StreetLocation, error)
	InsertStreetLocation(ctx context.Context, location *models.StreetLocation) (*models.StreetLocation, error)
	MatchDistrict(ctx context.Context, neighborhood, cityPart string) (*models.District, error)
}

// GeoResult is a resolved address
type GeoResult struct {
	StreetName  string
	PostalCode  string
	Lat         float64
	Lng         float64
	FullAddress string
	District    *models.District
	Source      string
}

// Resolver maps (street, postal code) to coordinates, consulting the
// persistent cache before the external geocoder
type Resolver struct {
	store    Store
	geocoder Geocoder
	bounds   orb.Bound
	country  string
	logger   *logrus.Logger
	group    singleflight.Group
}

func NewResolver(store Store, geocoder Geocoder, bounds orb.Bound, country string, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		store:    store,
		geocoder: geocoder,
		bounds:   bounds,
		country:  country,
		logger:   logger,
	}
}

// NormalizeStreet trims and collapses internal whitespace
func NormalizeStreet(street string) string {
	return strings.Join(strings.Fields(street), " ")
}

// NormalizePostalCode removes all whitespace ("150 21" becomes "15021")
func NormalizePostalCode(postalCode string) string {
	return strings.Join(strings.Fields(postalCode), "")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Resolve returns the cached location for the address or geocodes and
// caches it. Concurrent misses for the same key share one geocoder call.
func (r *Resolver) Resolve(ctx context.Context, street, postalCode, city string) (*GeoResult, error) {
	street = NormalizeStreet(street)
	postalCode = NormalizePostalCode(postalCode)
	if street == "" || !hasLetter(street) {
		return nil, fmt.Errorf("%w: street %q", ErrInvalidInput, street)
	}

	cached, err := r.store.FindStreetLocation(ctx, street, postalCode)
	if err == nil {
		metrics.ObserveGeocode(SourceCache)
		return resultFromLocation(cached, SourceCache), nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	// The shared call outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	key := street + "|" + postalCode
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.resolveMiss(shared, street, postalCode, strings.TrimSpace(city))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.WithField("street", street).Debug("Shared in-flight geocode")
		}
		return res.Val.(*GeoResult), nil
	}
}

func (r *Resolver) resolveMiss(ctx context.Context, street, postalCode, city string) (*GeoResult, error) {
	logger := r.logger.WithFields(logrus.Fields{
		"street":      street,
		"postal_code": postalCode,
		"city":        city,
	})

	place, err := r.geocoder.Geocode(ctx, Query{
		Street:     street,
		PostalCode: postalCode,
		City:       city,
		Country:    r.country,
	})
	if err != nil {
		metrics.ObserveGeocode("failed")
		logger.WithError(err).Warn("Geocoding failed")
		return nil, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}

	if !geometry.Contains(r.bounds, place.Lat, place.Lng) {
		metrics.ObserveGeocode("failed")
		logger.WithFields(logrus.Fields{
			"latitude":  place.Lat,
			"longitude": place.Lng,
		}).Warn("Geocoder returned coordinates outside the operating area")
		return nil, fmt.Errorf("%w: coordinates %f,%f out of bounds", ErrResolutionFailed, place.Lat, place.Lng)
	}

	district, err := r.matchDistrict(ctx, place)
	if err != nil {
		return nil, err
	}

	location := &models.StreetLocation{
		StreetName:  street,
		PostalCode:  postalCode,
		Lat:         place.Lat,
		Lng:         place.Lng,
		FullAddress: place.DisplayName,
	}
	if district != nil {
		location.DistrictID = &district.ID
	}

	persisted, err := r.store.InsertStreetLocation(ctx, location)
	if err != nil {
		return nil, err
	}

	metrics.ObserveGeocode(SourceGeocoder)
	logger.WithFields(logrus.Fields{
		"latitude":  persisted.Lat,
		"longitude": persisted.Lng,
		"source":    SourceGeocoder,
	}).Info("Successfully geocoded address")

	return resultFromLocation(persisted, SourceGeocoder), nil
}

func (r *Resolver) matchDistrict(ctx context.Context, place *Place) (*models.District, error) {
	for _, name := range []string{place.Neighbourhood, place.Suburb} {
		if name == "" {
			continue
		}
		district, err := r.store.MatchDistrict(ctx, name, "")
		if err != nil || district != nil {
			return district, err
		}
	}
	if place.CityDistrict == "" {
		return nil, nil
	}
	return r.store.MatchDistrict(ctx, "", config.NormalizeCityPart(place.CityDistrict))
}

func resultFromLocation(location *models.StreetLocation, source string) *GeoResult {
	return &GeoResult{
		StreetName:  location.StreetName,
		PostalCode:  location.PostalCode,
		Lat:         location.Lat,
		Lng:         location.Lng,
		FullAddress: location.FullAddress,
		District:    location.District,
		Source:      source,
	}
}

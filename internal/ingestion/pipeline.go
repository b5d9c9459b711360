package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"bytovka/config"
	"bytovka/internal/database"
	"bytovka/internal/feed"
	"bytovka/internal/geocoding"
	"bytovka/internal/geometry"
	"bytovka/internal/models"
)

var ErrRecordInvalid = errors.New("invalid record")

const (
	defaultCity    = "Praha"
	defaultCountry = "Česko"
)

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRejected Outcome = "rejected"
)

// Result is what happened to one ingested record
type Result struct {
	Outcome   Outcome
	Apartment *models.Apartment
	Reason    error
}

type ListingStore interface {
	UpsertApartment(ctx context.Context, apt *models.Apartment) (database.UpsertOutcome, error)
}

type AddressResolver interface {
	Resolve(ctx context.Context, street, postalCode, city string) (*geocoding.GeoResult, error)
}

type Publisher interface {
	Publish(evt feed.Event)
}

// Pipeline turns raw scraper records into stored listings
type Pipeline struct {
	store     ListingStore
	resolver  AddressResolver
	publisher Publisher
	bounds    orb.Bound
	logger    *logrus.Logger
}

// NewPipeline wires the pipeline. resolver may be nil, in which case only
// the scraper's own coordinates are used.
func NewPipeline(store ListingStore, resolver AddressResolver, publisher Publisher, bounds orb.Bound, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		store:     store,
		resolver:  resolver,
		publisher: publisher,
		bounds:    bounds,
		logger:    logger,
	}
}

func rejected(reason error) (Result, error) {
	return Result{Outcome: OutcomeRejected, Reason: reason}, reason
}

// Ingest validates, normalizes, geocodes and upserts one record, then
// publishes the resulting change. Rejections are returned together with
// ErrRecordInvalid or database.ErrDuplicateLink; any other error means the
// record was not processed and may be retried.
func (p *Pipeline) Ingest(ctx context.Context, record models.RawRecord) (Result, error) {
	apt, err := p.normalize(record)
	if err != nil {
		return rejected(err)
	}

	if err := p.locate(ctx, record, apt); err != nil {
		return Result{}, err
	}

	outcome, err := p.store.UpsertApartment(ctx, apt)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateLink) {
			return rejected(err)
		}
		return Result{}, err
	}

	stored := outcome.Apartment
	result := Result{Outcome: OutcomeUpdated, Apartment: &stored}
	eventType := feed.EventUpdated
	if outcome.Created {
		result.Outcome = OutcomeCreated
		eventType = feed.EventCreated
	}

	if p.publisher != nil {
		p.publisher.Publish(feed.NewEvent(eventType, &stored))
		if outcome.ValidityChanged {
			validity := feed.EventInvalidated
			if stored.LastPingIsValid {
				validity = feed.EventRevalidated
			}
			p.publisher.Publish(feed.NewEvent(validity, &stored))
		}
	}

	p.logger.WithFields(logrus.Fields{
		"scraper": stored.Scraper,
		"id":      stored.RemoteID,
		"outcome": result.Outcome,
	}).Debug("Ingested record")

	return result, nil
}

// normalize validates the record and maps it onto a listing without location
func (p *Pipeline) normalize(record models.RawRecord) (*models.Apartment, error) {
	remoteID := strings.TrimSpace(record.ID)
	scraper := strings.TrimSpace(record.Scraper)
	link := strings.TrimSpace(record.Link)
	title := strings.TrimSpace(record.Title)

	switch {
	case remoteID == "":
		return nil, fmt.Errorf("%w: missing id", ErrRecordInvalid)
	case scraper == "":
		return nil, fmt.Errorf("%w: missing scraper", ErrRecordInvalid)
	case title == "":
		return nil, fmt.Errorf("%w: missing title", ErrRecordInvalid)
	case !validLink(link):
		return nil, fmt.Errorf("%w: link %q is not an absolute http(s) URL", ErrRecordInvalid, link)
	}

	price, err := ParsePrice(record.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordInvalid, err)
	}

	apt := &models.Apartment{
		Scraper:         scraper,
		RemoteID:        remoteID,
		Link:            link,
		Title:           title,
		Description:     optional(record.Description),
		Price:           price,
		ImageURL:        optional(record.ImageURL),
		Address:         optional(record.Address),
		City:            defaultCity,
		District:        optional(record.District),
		StreetName:      optional(record.StreetName),
		Region:          optional(record.Region),
		PostalCode:      optional(record.PostalCode),
		BatchNumber:     record.BatchNumber,
		LastPingIsValid: record.LastPingIsValid == nil || *record.LastPingIsValid,
	}
	if city := optional(record.City); city != nil {
		apt.City = *city
	}
	apt.Country = optional(record.Country)
	if apt.Country == nil {
		country := defaultCountry
		apt.Country = &country
	}
	if apt.PostalCode != nil {
		postal := geocoding.NormalizePostalCode(*apt.PostalCode)
		apt.PostalCode = &postal
	}

	if cityPart := optional(record.CityPart); cityPart != nil {
		normalized := config.NormalizeCityPart(*cityPart)
		apt.CityPart = &normalized
		// "Praha 5 - Smíchov" carries the neighborhood after the dash
		if _, suffix, ok := strings.Cut(*cityPart, "-"); ok && apt.District == nil {
			if seed := config.FindDistrict(normalized, suffix); seed != nil {
				neighborhood := seed.Neighborhood
				apt.District = &neighborhood
			}
		}
	} else if apt.District != nil {
		if seed := config.FindDistrict("", *apt.District); seed != nil {
			cityPart := seed.CityPart
			apt.CityPart = &cityPart
		}
	}

	apt.Disposition = optional(record.Disposition)
	if apt.Disposition == nil {
		apt.Disposition = ParseDisposition(title)
	}
	if apt.Disposition == nil && apt.Description != nil {
		apt.Disposition = ParseDisposition(*apt.Description)
	}

	apt.Area = record.Area
	if apt.Area != nil && *apt.Area <= 0 {
		apt.Area = nil
	}
	if apt.Area == nil {
		apt.Area = ParseArea(title)
	}
	if apt.Area == nil && apt.Description != nil {
		apt.Area = ParseArea(*apt.Description)
	}

	return apt, nil
}

// locate fills the coordinates, preferring the resolved street location
// and falling back to plausible scraper coordinates
func (p *Pipeline) locate(ctx context.Context, record models.RawRecord, apt *models.Apartment) error {
	logger := p.logger.WithFields(logrus.Fields{
		"scraper": apt.Scraper,
		"id":      apt.RemoteID,
	})

	if p.resolver != nil && apt.StreetName != nil {
		postal := ""
		if apt.PostalCode != nil {
			postal = *apt.PostalCode
		}

		geo, err := p.resolver.Resolve(ctx, *apt.StreetName, postal, apt.City)
		switch {
		case err == nil:
			apt.Lat = &geo.Lat
			apt.Lng = &geo.Lng
			if geo.District != nil {
				if apt.CityPart == nil && geo.District.CityPart != "" {
					apt.CityPart = &geo.District.CityPart
				}
				if apt.District == nil && geo.District.Neighborhood != "" {
					apt.District = &geo.District.Neighborhood
				}
			}
			return nil
		case errors.Is(err, geocoding.ErrInvalidInput), errors.Is(err, geocoding.ErrResolutionFailed):
			logger.WithError(err).Debug("Address not resolved, using scraper coordinates")
		default:
			return err
		}
	}

	apt.Lat, apt.Lng = geometry.PlausiblePair(p.bounds, record.Lat, record.Lng)
	if apt.Lat == nil && record.Lat != nil && record.Lng != nil {
		logger.WithFields(logrus.Fields{
			"latitude":  *record.Lat,
			"longitude": *record.Lng,
		}).Warn("Discarding coordinates outside the operating area")
	}
	return nil
}

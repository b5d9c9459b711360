package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var ErrNoResult = errors.New("no geocoding result")

// Query is a structured address lookup
type Query struct {
	Street     string
	PostalCode string
	City       string
	Country    string
}

func (q Query) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{q.Street, q.PostalCode, q.City, q.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Place is the best match returned by a geocoder
type Place struct {
	Lat         float64
	Lng         float64
	DisplayName string

	// Administrative names used to match a district
	CityDistrict  string
	Suburb        string
	Neighbourhood string
	Postcode      string
}

// Geocoder turns an address into coordinates
type Geocoder interface {
	Geocode(ctx context.Context, q Query) (*Place, error)
}

type NominatimOptions struct {
	URL               string
	UserAgent         string
	Language          string
	CountryCodes      string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Nominatim queries an OpenStreetMap Nominatim search endpoint
type Nominatim struct {
	logger  *logrus.Logger
	client  *http.Client
	limiter *rate.Limiter
	opts    NominatimOptions
}

func NewNominatim(opts NominatimOptions, logger *logrus.Logger) *Nominatim {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Nominatim{
		logger:  logger,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
	}
}

type nominatimResponse []struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		CityDistrict  string `json:"city_district"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		Quarter       string `json:"quarter"`
		Postcode      string `json:"postcode"`
	} `json:"address"`
}

func (n *Nominatim) Geocode(ctx context.Context, q Query) (*Place, error) {
	// Respect Nominatim's usage policy
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"format":         []string{"jsonv2"},
		"limit":          []string{"1"},
		"addressdetails": []string{"1"},
		"street":         []string{q.Street},
	}
	if q.PostalCode != "" {
		params.Set("postalcode", q.PostalCode)
	}
	if q.City != "" {
		params.Set("city", q.City)
	}
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	if n.opts.CountryCodes != "" {
		params.Set("countrycodes", n.opts.CountryCodes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", n.opts.UserAgent)
	if n.opts.Language != "" {
		req.Header.Set("Accept-Language", n.opts.Language)
	}

	n.logger.WithField("address", q.String()).Debug("Geocoding address with Nominatim")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding request failed with status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w for address: %s", ErrNoResult, q)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	neighbourhood := result[0].Address.Neighbourhood
	if neighbourhood == "" {
		neighbourhood = result[0].Address.Quarter
	}

	return &Place{
		Lat:           lat,
		Lng:           lng,
		DisplayName:   result[0].DisplayName,
		CityDistrict:  result[0].Address.CityDistrict,
		Suburb:        result[0].Address.Suburb,
		Neighbourhood: neighbourhood,
		Postcode:      result[0].Address.Postcode,
	}, nil
}

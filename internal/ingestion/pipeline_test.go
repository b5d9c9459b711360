package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytovka/internal/database"
	"bytovka/internal/feed"
	"bytovka/internal/geocoding"
	"bytovka/internal/geometry"
	"bytovka/internal/models"
)

var czechia = geometry.NewBound(48.55, 51.06, 12.09, 18.87)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func boolPtr(b bool) *bool { return &b }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeResolver struct {
	result *geocoding.GeoResult
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(ctx context.Context, street, postalCode, city string) (*geocoding.GeoResult, error) {
	f.calls++
	return f.result, f.err
}

type harness struct {
	db       *database.Database
	broker   *feed.Broker
	events   *feed.Subscription
	pipeline *Pipeline
}

func newHarness(t *testing.T, resolver AddressResolver) *harness {
	t.Helper()
	db := database.NewTestDB(t)
	broker := feed.NewBroker(quietLogger())
	t.Cleanup(broker.Close)

	return &harness{
		db:       db,
		broker:   broker,
		events:   broker.Subscribe(context.Background(), 32),
		pipeline: NewPipeline(db, resolver, broker, czechia, quietLogger()),
	}
}

func (h *harness) nextEvent(t *testing.T) feed.Event {
	t.Helper()
	select {
	case evt := <-h.events.Events():
		return evt
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
	return feed.Event{}
}

func (h *harness) noEvent(t *testing.T) {
	t.Helper()
	select {
	case evt := <-h.events.Events():
		t.Fatalf("unexpected event %s", evt.Type)
	default:
	}
}

func rawRecord(id string) models.RawRecord {
	return models.RawRecord{
		ID:       id,
		Scraper:  "sreality",
		Link:     "https://www.sreality.cz/detail/" + id,
		Title:    "Pronájem bytu 2+kk 54 m²",
		Price:    20000.0,
		CityPart: strPtr("Praha 5"),
		Lat:      floatPtr(50.08),
		Lng:      floatPtr(14.42),
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.pipeline.Ingest(ctx, rawRecord("1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)
	assert.Equal(t, feed.EventCreated, h.nextEvent(t).Type)

	second, err := h.pipeline.Ingest(ctx, rawRecord("1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, second.Outcome)
	assert.Equal(t, feed.EventUpdated, h.nextEvent(t).Type)
	h.noEvent(t)

	assert.True(t, first.Apartment.CreatedAt.Equal(second.Apartment.CreatedAt))

	total, _, err := h.db.CountApartments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestIngestRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, rawRecord("rt"))
	require.NoError(t, err)

	apt, err := h.db.GetApartment(ctx, "rt", "sreality")
	require.NoError(t, err)
	assert.Equal(t, 20000, apt.Price)
	assert.Equal(t, 50.08, *apt.Lat)
	assert.Equal(t, 14.42, *apt.Lng)
	assert.Equal(t, "Praha", apt.City)
	assert.Equal(t, "Česko", *apt.Country)
	assert.Equal(t, "2+kk", *apt.Disposition)
	assert.Equal(t, 54, *apt.Area)
	assert.True(t, apt.LastPingIsValid)
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.RawRecord)
	}{
		{"missing id", func(r *models.RawRecord) { r.ID = " " }},
		{"missing scraper", func(r *models.RawRecord) { r.Scraper = "" }},
		{"missing title", func(r *models.RawRecord) { r.Title = "" }},
		{"relative link", func(r *models.RawRecord) { r.Link = "/detail/1" }},
		{"missing price", func(r *models.RawRecord) { r.Price = nil }},
		{"negative price", func(r *models.RawRecord) { r.Price = -5.0 }},
		{"fractional price", func(r *models.RawRecord) { r.Price = 1999.5 }},
		{"text price", func(r *models.RawRecord) { r.Price = "info v RK" }},
	}

	h := newHarness(t, nil)
	ctx := context.Background()

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := rawRecord(fmt.Sprintf("bad-%d", i))
			tt.mutate(&record)

			result, err := h.pipeline.Ingest(ctx, record)
			assert.ErrorIs(t, err, ErrRecordInvalid)
			assert.Equal(t, OutcomeRejected, result.Outcome)
			assert.ErrorIs(t, result.Reason, ErrRecordInvalid)
		})
	}

	total, _, err := h.db.CountApartments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	h.noEvent(t)
}

func TestIngestFormattedPrice(t *testing.T) {
	h := newHarness(t, nil)

	record := rawRecord("price")
	record.Price = "18 500 Kč"
	result, err := h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, 18500, result.Apartment.Price)
}

func TestIngestScraperValuesWinOverParsed(t *testing.T) {
	h := newHarness(t, nil)

	record := rawRecord("explicit")
	record.Disposition = strPtr("3+1")
	area := 80
	record.Area = &area
	result, err := h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "3+1", *result.Apartment.Disposition)
	assert.Equal(t, 80, *result.Apartment.Area)
}

func TestIngestDiscardsImplausibleCoordinates(t *testing.T) {
	h := newHarness(t, nil)

	record := rawRecord("swapped")
	record.Lat = floatPtr(14.42)
	record.Lng = floatPtr(50.08)
	result, err := h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.Nil(t, result.Apartment.Lat)
	assert.Nil(t, result.Apartment.Lng)

	record = rawRecord("half")
	record.Lng = nil
	result, err = h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, result.Apartment.HasLocation())
}

func TestIngestUsesResolvedLocation(t *testing.T) {
	resolver := &fakeResolver{result: &geocoding.GeoResult{
		Lat: 50.07, Lng: 14.40,
		District: &models.District{Name: "Praha 5 - Smíchov", CityPart: "Praha 5", Neighborhood: "Smíchov"},
	}}
	h := newHarness(t, resolver)

	record := rawRecord("geo")
	record.CityPart = nil
	record.StreetName = strPtr("Nádražní")
	record.PostalCode = strPtr("150 00")

	result, err := h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, 50.07, *result.Apartment.Lat)
	assert.Equal(t, "Praha 5", *result.Apartment.CityPart)
	assert.Equal(t, "Smíchov", *result.Apartment.District)
	assert.Equal(t, "15000", *result.Apartment.PostalCode)
}

func TestIngestSplitsNeighborhoodFromCityPart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	record := rawRecord("smichov")
	record.CityPart = strPtr("Praha 5 - Smíchov")
	result, err := h.pipeline.Ingest(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, "Praha 5", *result.Apartment.CityPart)
	require.NotNil(t, result.Apartment.District)
	assert.Equal(t, "Smíchov", *result.Apartment.District)

	// Nusle exists in Praha 2 and Praha 4; the city part picks one
	record = rawRecord("nusle")
	record.CityPart = strPtr("Praha 4 - Nusle")
	result, err = h.pipeline.Ingest(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, "Praha 4", *result.Apartment.CityPart)
	require.NotNil(t, result.Apartment.District)
	assert.Equal(t, "Nusle", *result.Apartment.District)

	// an explicit district is left alone
	record = rawRecord("explicit")
	record.CityPart = strPtr("Praha 5 - Smíchov")
	record.District = strPtr("Košíře")
	result, err = h.pipeline.Ingest(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, "Košíře", *result.Apartment.District)
}

func TestIngestAmbiguousDistrictLeavesCityPartUnset(t *testing.T) {
	h := newHarness(t, nil)

	record := rawRecord("chodov")
	record.CityPart = nil
	record.District = strPtr("Chodov")
	result, err := h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.Nil(t, result.Apartment.CityPart)
	assert.Equal(t, "Chodov", *result.Apartment.District)
}

func TestIngestFallsBackWhenResolutionFails(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("%w: no result", geocoding.ErrResolutionFailed)}
	h := newHarness(t, resolver)

	record := rawRecord("fallback")
	record.StreetName = strPtr("Neznámá")
	result, err := h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, 50.08, *result.Apartment.Lat)

	record = rawRecord("nogeo")
	record.StreetName = strPtr("123")
	record.Lat, record.Lng = nil, nil
	resolver.err = fmt.Errorf("%w: street", geocoding.ErrInvalidInput)
	result, err = h.pipeline.Ingest(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, result.Apartment.HasLocation())
}

func TestIngestPropagatesStoreUnavailable(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("find street location: %w", database.ErrStoreUnavailable)}
	h := newHarness(t, resolver)

	record := rawRecord("down")
	record.StreetName = strPtr("Nádražní")
	_, err := h.pipeline.Ingest(context.Background(), record)
	assert.ErrorIs(t, err, database.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, ErrRecordInvalid))

	_, err = h.db.GetApartment(context.Background(), "down", "sreality")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestIngestDuplicateLinkIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, rawRecord("1"))
	require.NoError(t, err)
	h.nextEvent(t)

	other := rawRecord("2")
	other.Link = rawRecord("1").Link
	result, err := h.pipeline.Ingest(ctx, other)
	assert.ErrorIs(t, err, database.ErrDuplicateLink)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	h.noEvent(t)
}

func TestIngestDelistingSignal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, rawRecord("1"))
	require.NoError(t, err)
	h.nextEvent(t)

	delisted := rawRecord("1")
	delisted.LastPingIsValid = boolPtr(false)
	result, err := h.pipeline.Ingest(ctx, delisted)
	require.NoError(t, err)
	assert.False(t, result.Apartment.LastPingIsValid)
	assert.Equal(t, feed.EventUpdated, h.nextEvent(t).Type)
	assert.Equal(t, feed.EventInvalidated, h.nextEvent(t).Type)

	result, err = h.pipeline.Ingest(ctx, rawRecord("1"))
	require.NoError(t, err)
	assert.True(t, result.Apartment.LastPingIsValid)
	assert.Equal(t, feed.EventUpdated, h.nextEvent(t).Type)
	revalidated := h.nextEvent(t)
	assert.Equal(t, feed.EventRevalidated, revalidated.Type)
	assert.Equal(t, "1", revalidated.RemoteID)
}

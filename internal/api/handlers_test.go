package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytovka/internal/database"
	"bytovka/internal/feed"
	"bytovka/internal/models"
	"bytovka/internal/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

type testServer struct {
	db     *database.Database
	broker *feed.Broker
	status *status.Supervisor
	router *gin.Engine
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	db := database.NewTestDB(t)

	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})

	broker := feed.NewBroker(quietLogger())
	t.Cleanup(broker.Close)
	supervisor := status.New()

	handler := NewHandler(db, broker, supervisor, opts, quietLogger())
	return &testServer{
		db:     db,
		broker: broker,
		status: supervisor,
		router: NewRouter(handler, nil),
	}
}

func (s *testServer) insert(t *testing.T, apt models.Apartment) {
	t.Helper()
	if apt.Scraper == "" {
		apt.Scraper = "sreality"
	}
	if apt.Link == "" {
		apt.Link = "https://example.cz/detail/" + apt.RemoteID
	}
	if apt.Title == "" {
		apt.Title = "Byt " + apt.RemoteID
	}
	if apt.City == "" {
		apt.City = "Praha"
	}
	_, err := s.db.UpsertApartment(context.Background(), &apt)
	require.NoError(t, err)
}

func (s *testServer) get(t *testing.T, target string, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	s.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		page, limit int
		total       int64
		want        Pagination
	}{
		{1, 50, 125, Pagination{Page: 1, Limit: 50, TotalCount: 125, TotalPages: 3, HasNext: true, HasPrev: false}},
		{3, 50, 125, Pagination{Page: 3, Limit: 50, TotalCount: 125, TotalPages: 3, HasNext: false, HasPrev: true}},
		{1, 50, 0, Pagination{Page: 1, Limit: 50, TotalCount: 0, TotalPages: 0}},
		{2, 50, 100, Pagination{Page: 2, Limit: 50, TotalCount: 100, TotalPages: 2, HasPrev: true}},
		{5, 10, 20, Pagination{Page: 5, Limit: 10, TotalCount: 20, TotalPages: 2, HasPrev: true}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NewPagination(tt.page, tt.limit, tt.total))
	}
}

func TestGetOffersPagination(t *testing.T) {
	s := newTestServer(t, Options{})
	for i := 0; i < 125; i++ {
		s.insert(t, models.Apartment{RemoteID: fmt.Sprintf("%03d", i), Price: 20000, LastPingIsValid: true})
	}

	var first OffersResponse
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers", &first))
	assert.Len(t, first.Offers, 50)
	assert.Equal(t, "124", first.Offers[0].ID)
	assert.Equal(t, int64(125), first.Pagination.TotalCount)
	assert.Equal(t, int64(3), first.Pagination.TotalPages)
	assert.True(t, first.Pagination.HasNext)
	assert.False(t, first.Pagination.HasPrev)

	var last OffersResponse
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers?page=3&limit=50", &last))
	assert.Len(t, last.Offers, 25)
	assert.Equal(t, "000", last.Offers[24].ID)
	assert.False(t, last.Pagination.HasNext)
	assert.True(t, last.Pagination.HasPrev)

	var beyond OffersResponse
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers?page=9", &beyond))
	assert.NotNil(t, beyond.Offers)
	assert.Empty(t, beyond.Offers)
}

func TestGetOffersValidation(t *testing.T) {
	s := newTestServer(t, Options{})

	for _, query := range []string{
		"page=0",
		"page=-1",
		"page=abc",
		"limit=0",
		"limit=201",
		"limit=x",
		"min_price=-5",
		"max_price=cheap",
	} {
		var body map[string]string
		assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/offers?"+query, &body), query)
		assert.NotEmpty(t, body["error"], query)
	}

	assert.Equal(t, http.StatusOK, s.get(t, "/api/offers?limit=200", nil))
}

func TestGetOffersFilters(t *testing.T) {
	s := newTestServer(t, Options{})
	s.insert(t, models.Apartment{RemoteID: "a", Price: 18000, CityPart: strPtr("Praha 5"), LastPingIsValid: true})
	s.insert(t, models.Apartment{RemoteID: "b", Price: 30000, CityPart: strPtr("praha 5 - Smíchov"), LastPingIsValid: true})
	s.insert(t, models.Apartment{RemoteID: "c", Price: 18000, CityPart: strPtr("Praha 5"), LastPingIsValid: false})
	s.insert(t, models.Apartment{RemoteID: "d", Price: 18000, CityPart: strPtr("Praha 2"), LastPingIsValid: true})

	var byDistrict OffersResponse
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers?district=PRAHA%205", &byDistrict))
	ids := make([]string, 0, len(byDistrict.Offers))
	for _, o := range byDistrict.Offers {
		ids = append(ids, o.ID)
		assert.True(t, o.LastPingIsValid)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	var byPrice OffersResponse
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers?district=Praha%205&max_price=20000", &byPrice))
	require.Len(t, byPrice.Offers, 1)
	assert.Equal(t, "a", byPrice.Offers[0].ID)
	assert.Equal(t, int64(1), byPrice.Pagination.TotalCount)
}

func TestGetOffersMap(t *testing.T) {
	s := newTestServer(t, Options{})
	s.insert(t, models.Apartment{RemoteID: "center", Price: 20000, Lat: floatPtr(50.0875), Lng: floatPtr(14.4213), LastPingIsValid: true})
	s.insert(t, models.Apartment{RemoteID: "edge", Price: 20000, Lat: floatPtr(50.0), Lng: floatPtr(14.3), LastPingIsValid: true})
	s.insert(t, models.Apartment{RemoteID: "nowhere", Price: 20000, LastPingIsValid: true})
	s.insert(t, models.Apartment{RemoteID: "dead", Price: 20000, Lat: floatPtr(50.08), Lng: floatPtr(14.42), LastPingIsValid: false})

	var all struct {
		Offers []map[string]interface{} `json:"offers"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers-map", &all))
	require.Len(t, all.Offers, 2)
	for _, offer := range all.Offers {
		assert.NotNil(t, offer["lat"])
		assert.NotNil(t, offer["lng"])
	}

	var boxed struct {
		Offers []models.MapOffer `json:"offers"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers-map?bbox=14.40,50.05,14.45,50.10", &boxed))
	require.Len(t, boxed.Offers, 1)
	assert.Equal(t, "center", boxed.Offers[0].ID)
	assert.Equal(t, 50.0875, boxed.Offers[0].Lat)
	assert.Equal(t, 14.4213, boxed.Offers[0].Lng)

	var geo map[string]interface{}
	require.Equal(t, http.StatusOK, s.get(t, "/api/offers-map?format=geojson", &geo))
	assert.Equal(t, "FeatureCollection", geo["type"])
	features, _ := geo["features"].([]interface{})
	assert.Len(t, features, 2)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/offers-map?bbox=1,2,3", nil))
}

func TestGetDistricts(t *testing.T) {
	s := newTestServer(t, Options{})
	_, err := s.db.SeedDistricts(context.Background(), []models.District{
		{Name: "Smíchov", CityPart: "Praha 5", Neighborhood: "Smíchov"},
		{Name: "Vinohrady", CityPart: "Praha 2", Neighborhood: "Vinohrady"},
	})
	require.NoError(t, err)

	var body struct {
		Districts []map[string]string `json:"districts"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/api/districts", &body))
	require.Len(t, body.Districts, 2)
	assert.Equal(t, map[string]string{"name": "Smíchov", "city_part": "Praha 5"}, body.Districts[0])
}

func TestGetStatus(t *testing.T) {
	s := newTestServer(t, Options{})
	s.insert(t, models.Apartment{RemoteID: "1", Price: 1, LastPingIsValid: true})
	s.insert(t, models.Apartment{RemoteID: "2", Price: 1, LastPingIsValid: false})
	s.status.RecordIngest("created")
	s.status.SetPinging(true)

	var snap status.Snapshot
	require.Equal(t, http.StatusOK, s.get(t, "/api/status", &snap))
	assert.Equal(t, status.StatePinging, snap.Status)
	assert.Equal(t, int64(2), snap.TotalOffers)
	assert.Equal(t, int64(1), snap.ValidOffers)
	assert.Equal(t, int64(1), snap.Ingested.Created)
	assert.Equal(t, 0, snap.Subscribers)
}

func TestGetSettings(t *testing.T) {
	s := newTestServer(t, Options{Settings: Settings{
		ScrapingEnabled:     true,
		PingEnabled:         true,
		PingIntervalSeconds: 21600,
		FailureThreshold:    3,
	}})

	var body map[string]interface{}
	require.Equal(t, http.StatusOK, s.get(t, "/api/settings", &body))
	assert.Equal(t, true, body["scraping_enabled"])
	assert.Equal(t, float64(21600), body["ping_interval_seconds"])
	assert.Equal(t, float64(3), body["failure_threshold"])
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t, Options{})

	var body map[string]string
	require.Equal(t, http.StatusOK, s.get(t, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bytovka_http_requests_total")
}

type unavailableStore struct{}

func (unavailableStore) QueryApartments(context.Context, database.Filter, int, int) ([]models.Apartment, int64, error) {
	return nil, 0, database.ErrStoreUnavailable
}

func (unavailableStore) QueryByBounds(context.Context, *orb.Bound) ([]models.Apartment, error) {
	return nil, database.ErrStoreUnavailable
}

func (unavailableStore) CountApartments(context.Context) (int64, int64, error) {
	return 0, 0, database.ErrStoreUnavailable
}

func (unavailableStore) ListDistricts(context.Context) ([]models.District, error) {
	return nil, database.ErrStoreUnavailable
}

func (unavailableStore) Ping(context.Context) error {
	return database.ErrStoreUnavailable
}

func TestStoreUnavailable(t *testing.T) {
	broker := feed.NewBroker(quietLogger())
	defer broker.Close()
	handler := NewHandler(unavailableStore{}, broker, status.New(), Options{}, quietLogger())
	router := NewRouter(handler, []string{"http://localhost:3000"})

	for _, target := range []string{"/api/offers", "/api/offers-map", "/api/districts", "/api/status", "/healthz"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
		assert.Contains(t, w.Body.String(), `"error"`, target)
	}
}

// readEvent returns the next SSE event name and data from r
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestStream(t *testing.T) {
	s := newTestServer(t, Options{KeepAlive: time.Hour})
	server := httptest.NewServer(s.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	require.Eventually(t, func() bool { return s.broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	apt := &models.Apartment{Scraper: "sreality", RemoteID: "42", Title: "Byt 2+kk", Price: 21000, Link: "https://example.cz/42"}
	s.broker.Publish(feed.NewEvent(feed.EventCreated, apt))

	name, data := readEvent(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "created", name)

	var evt feed.Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, "42", evt.RemoteID)
	require.NotNil(t, evt.Offer)
	assert.Equal(t, 21000, evt.Offer.Price)

	cancel()
	assert.Eventually(t, func() bool { return s.broker.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamKeepAlive(t *testing.T) {
	s := newTestServer(t, Options{KeepAlive: 20 * time.Millisecond})
	server := httptest.NewServer(s.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	name, _ := readEvent(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "ping", name)
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"bytovka/internal/database"
	"bytovka/internal/feed"
	"bytovka/internal/geometry"
	"bytovka/internal/models"
	"bytovka/internal/status"
)

const (
	defaultPage  = 1
	defaultLimit = 50
	maxLimit     = 200
)

// Store is the read side of the listing store
type Store interface {
	QueryApartments(ctx context.Context, f database.Filter, offset, limit int) ([]models.Apartment, int64, error)
	QueryByBounds(ctx context.Context, box *orb.Bound) ([]models.Apartment, error)
	CountApartments(ctx context.Context) (int64, int64, error)
	ListDistricts(ctx context.Context) ([]models.District, error)
	Ping(ctx context.Context) error
}

// Settings is the runtime configuration exposed to clients
type Settings struct {
	ScrapingEnabled     bool  `json:"scraping_enabled"`
	PingEnabled         bool  `json:"ping_enabled"`
	PingIntervalSeconds int64 `json:"ping_interval_seconds"`
	FailureThreshold    int   `json:"failure_threshold"`
}

type Options struct {
	Settings   Settings
	FeedBuffer int
	KeepAlive  time.Duration
}

type Handler struct {
	store  Store
	broker *feed.Broker
	status *status.Supervisor
	opts   Options
	logger *logrus.Logger
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"total_count"`
	TotalPages int64 `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

type OffersResponse struct {
	Offers     []models.Offer `json:"offers"`
	Pagination Pagination     `json:"pagination"`
}

type districtView struct {
	Name     string `json:"name"`
	CityPart string `json:"city_part"`
}

func NewHandler(store Store, broker *feed.Broker, supervisor *status.Supervisor, opts Options, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.FeedBuffer <= 0 {
		opts.FeedBuffer = 64
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}

	return &Handler{
		store:  store,
		broker: broker,
		status: supervisor,
		opts:   opts,
		logger: logger,
	}
}

func NewPagination(page, limit int, total int64) Pagination {
	totalPages := (total + int64(limit) - 1) / int64(limit)
	return Pagination{
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: totalPages,
		HasNext:    int64(page)*int64(limit) < total,
		HasPrev:    page > 1,
	}
}

// storeError answers 503 when the store is unreachable and 500 otherwise
func (h *Handler) storeError(c *gin.Context, err error, message string) {
	h.logger.WithError(err).Error(message)
	code := http.StatusInternalServerError
	if errors.Is(err, database.ErrStoreUnavailable) {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": message})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func optionalPrice(c *gin.Context, key string) (*int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, false
	}
	return &v, true
}

// GetOffers returns one page of valid listings, newest first
func (h *Handler) GetOffers(c *gin.Context) {
	page, ok := queryInt(c, "page", defaultPage)
	if !ok || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	limit, ok := queryInt(c, "limit", defaultLimit)
	if !ok || limit < 1 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}
	minPrice, ok := optionalPrice(c, "min_price")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_price must be a non-negative integer"})
		return
	}
	maxPrice, ok := optionalPrice(c, "max_price")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_price must be a non-negative integer"})
		return
	}

	valid := true
	filter := database.Filter{
		Valid:    &valid,
		CityPart: c.Query("district"),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}

	apartments, total, err := h.store.QueryApartments(c.Request.Context(), filter, (page-1)*limit, limit)
	if err != nil {
		h.storeError(c, err, "Failed to get offers")
		return
	}

	offers := make([]models.Offer, 0, len(apartments))
	for i := range apartments {
		offers = append(offers, apartments[i].ToOffer())
	}

	c.JSON(http.StatusOK, OffersResponse{
		Offers:     offers,
		Pagination: NewPagination(page, limit, total),
	})
}

// GetOffersMap returns located valid listings, optionally inside a bbox
func (h *Handler) GetOffersMap(c *gin.Context) {
	var box *orb.Bound
	if raw := c.Query("bbox"); raw != "" {
		b, err := geometry.ParseBBox(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		box = &b
	}

	apartments, err := h.store.QueryByBounds(c.Request.Context(), box)
	if err != nil {
		h.storeError(c, err, "Failed to get map offers")
		return
	}

	if c.Query("format") == "geojson" {
		c.JSON(http.StatusOK, geometry.OffersFeatureCollection(apartments))
		return
	}

	offers := make([]models.MapOffer, 0, len(apartments))
	for i := range apartments {
		if offer, ok := apartments[i].ToMapOffer(); ok {
			offers = append(offers, offer)
		}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func (h *Handler) GetDistricts(c *gin.Context) {
	districts, err := h.store.ListDistricts(c.Request.Context())
	if err != nil {
		h.storeError(c, err, "Failed to get districts")
		return
	}

	views := make([]districtView, 0, len(districts))
	for _, d := range districts {
		views = append(views, districtView{Name: d.Name, CityPart: d.CityPart})
	}
	c.JSON(http.StatusOK, gin.H{"districts": views})
}

func (h *Handler) GetStatus(c *gin.Context) {
	total, valid, err := h.store.CountApartments(c.Request.Context())
	if err != nil {
		h.storeError(c, err, "Failed to get status")
		return
	}

	snap := h.status.Snapshot()
	snap.TotalOffers = total
	snap.ValidOffers = valid
	snap.Subscribers = h.broker.Subscribers()
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Settings)
}

// Stream pushes change events to the client as server-sent events
func (h *Handler) Stream(c *gin.Context) {
	sub := h.broker.Subscribe(c.Request.Context(), h.opts.FeedBuffer)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.opts.KeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{Id: evt.ID, Event: string(evt.Type), Data: evt})
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})

	if dropped := sub.Dropped(); dropped > 0 {
		h.logger.WithField("dropped", dropped).Info("Stream client lost events to overflow")
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

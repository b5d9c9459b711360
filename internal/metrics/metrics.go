// Package metrics exposes Prometheus collectors for the aggregator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestedRecordsTotal       *prometheus.CounterVec
	geocodeLookupsTotal        *prometheus.CounterVec
	probesTotal                *prometheus.CounterVec
	sweepDurationSeconds       prometheus.Histogram
	feedDroppedEventsTotal     prometheus.Counter
	feedSubscribers            prometheus.Gauge
	queueDepth                 prometheus.Gauge
	scraperRunsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestedRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytovka_ingested_records_total",
				Help: "Total number of scraped records ingested, labeled by scraper and outcome.",
			},
			[]string{"scraper", "outcome"},
		)

		geocodeLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytovka_geocode_lookups_total",
				Help: "Total number of address resolutions, labeled by source.",
			},
			[]string{"source"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytovka_probes_total",
				Help: "Total number of liveness probes, labeled by result.",
			},
			[]string{"result"},
		)

		sweepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bytovka_sweep_duration_seconds",
				Help:    "Histogram of liveness sweep durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		feedDroppedEventsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bytovka_feed_dropped_events_total",
				Help: "Total number of change events dropped because a subscriber was too slow.",
			},
		)

		feedSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bytovka_feed_subscribers",
				Help: "Number of active change feed subscribers.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bytovka_queue_depth",
				Help: "Number of records waiting in the intake queue.",
			},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytovka_scraper_runs_total",
				Help: "Total number of scraper runs, labeled by scraper and status.",
			},
			[]string{"scraper", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytovka_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bytovka_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveIngest counts one ingested record.
func ObserveIngest(scraper, outcome string) {
	Init()
	ingestedRecordsTotal.WithLabelValues(scraper, outcome).Inc()
}

// ObserveGeocode counts one address resolution by source ("cache", "geocoder", "failed").
func ObserveGeocode(source string) {
	Init()
	geocodeLookupsTotal.WithLabelValues(source).Inc()
}

// ObserveProbe counts one liveness probe by result ("ok", "failed", "terminal").
func ObserveProbe(result string) {
	Init()
	probesTotal.WithLabelValues(result).Inc()
}

func ObserveSweep(duration time.Duration) {
	Init()
	sweepDurationSeconds.Observe(duration.Seconds())
}

func ObserveFeedDrop() {
	Init()
	feedDroppedEventsTotal.Inc()
}

func SetFeedSubscribers(n int) {
	Init()
	feedSubscribers.Set(float64(n))
}

func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveScraperRun counts one finished scraper run.
func ObserveScraperRun(scraper, status string) {
	Init()
	scraperRunsTotal.WithLabelValues(scraper, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

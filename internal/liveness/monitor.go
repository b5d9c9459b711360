package liveness

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bytovka/internal/database"
	"bytovka/internal/feed"
	"bytovka/internal/metrics"
	"bytovka/internal/models"
)

var ErrSweepInProgress = errors.New("sweep already in progress")

type Store interface {
	ListDueForPing(ctx context.Context, cutoff time.Time, limit int) ([]models.Apartment, error)
	RecordPing(ctx context.Context, id uint, result database.PingResult, threshold int) (database.PingOutcome, error)
	Now() time.Time
}

type Publisher interface {
	Publish(evt feed.Event)
}

// StatusRecorder is told when sweeps run and how probes end
type StatusRecorder interface {
	SetPinging(pinging bool)
	RecordProbe(ok bool)
}

type Options struct {
	// Minimum age of last_ping before a listing is probed again
	PingInterval time.Duration

	SweepInterval    time.Duration
	ProbeTimeout     time.Duration
	Workers          int
	BatchSize        int
	FailureThreshold int
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Probed      int `json:"probed"`
	OK          int `json:"ok"`
	Failed      int `json:"failed"`
	Invalidated int `json:"invalidated"`
}

// Monitor periodically probes listing links and invalidates dead ones
type Monitor struct {
	store     Store
	prober    Prober
	publisher Publisher
	status    StatusRecorder
	opts      Options
	logger    *logrus.Logger
	running   atomic.Bool
}

func NewMonitor(store Store, prober Prober, publisher Publisher, status StatusRecorder, opts Options, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	return &Monitor{
		store:     store,
		prober:    prober,
		publisher: publisher,
		status:    status,
		opts:      opts,
		logger:    logger,
	}
}

// Sweep probes one batch of valid listings that are due. A store failure
// aborts the sweep; probe failures never do.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !m.running.CompareAndSwap(false, true) {
		return report, ErrSweepInProgress
	}
	defer m.running.Store(false)

	if m.status != nil {
		m.status.SetPinging(true)
		defer m.status.SetPinging(false)
	}

	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	cutoff := m.store.Now().Add(-m.opts.PingInterval)
	due, err := m.store.ListDueForPing(ctx, cutoff, m.opts.BatchSize)
	if err != nil {
		return report, err
	}
	if len(due) == 0 {
		return report, nil
	}

	var probed, ok, failed, invalidated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)

	for _, apt := range due {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, m.opts.ProbeTimeout)
			result := m.prober.Probe(probeCtx, apt.Link)
			cancel()

			// shutting down, the failure is ours and not the listing's
			if gctx.Err() != nil {
				return gctx.Err()
			}

			outcome, err := m.store.RecordPing(gctx, apt.ID, result, m.opts.FailureThreshold)
			if err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return nil
				}
				return err
			}

			probed.Add(1)
			m.observe(result)
			if result.OK {
				ok.Add(1)
			} else {
				failed.Add(1)
			}

			if outcome.Invalidated {
				invalidated.Add(1)
				m.logger.WithFields(logrus.Fields{
					"scraper":  apt.Scraper,
					"id":       apt.RemoteID,
					"status":   result.Status,
					"failures": outcome.Apartment.PingFailures,
				}).Info("Listing invalidated")
				if m.publisher != nil {
					m.publisher.Publish(feed.NewEvent(feed.EventInvalidated, &outcome.Apartment))
				}
			}
			return nil
		})
	}

	err = g.Wait()
	report = SweepReport{
		Probed:      int(probed.Load()),
		OK:          int(ok.Load()),
		Failed:      int(failed.Load()),
		Invalidated: int(invalidated.Load()),
	}
	return report, err
}

func (m *Monitor) observe(result database.PingResult) {
	label := "failed"
	switch {
	case result.OK:
		label = "ok"
	case result.Terminal:
		label = "terminal"
	}
	metrics.ObserveProbe(label)
	if m.status != nil {
		m.status.RecordProbe(result.OK)
	}
}

// Run sweeps immediately and then every SweepInterval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	interval := m.opts.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.WithField("interval", interval.String()).Info("Starting liveness monitor")

	for {
		m.runSweep(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("Liveness monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runSweep(ctx context.Context) {
	report, err := m.Sweep(ctx)
	entry := m.logger.WithFields(logrus.Fields{
		"probed":      report.Probed,
		"ok":          report.OK,
		"failed":      report.Failed,
		"invalidated": report.Invalidated,
	})
	switch {
	case err == nil:
		if report.Probed > 0 {
			entry.Info("Liveness sweep finished")
		}
	case errors.Is(err, context.Canceled):
	default:
		entry.WithError(err).Error("Liveness sweep failed")
	}
}

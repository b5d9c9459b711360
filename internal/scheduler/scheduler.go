package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bytovka/config"
	"bytovka/internal/scraping"
)

// Runner executes one scraper run
type Runner interface {
	Run(ctx context.Context, scraper config.Scraper) (scraping.RunStats, error)
}

// Scheduler runs every configured scraper on its own ticker
type Scheduler struct {
	runner   Runner
	scrapers []config.Scraper
	interval time.Duration
	logger   *logrus.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, scrapers []config.Scraper, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	return &Scheduler{
		runner:   runner,
		scrapers: scrapers,
		interval: interval,
		logger:   logger,
	}
}

// Start launches one goroutine per scraper. Each runs once at start-up and
// then on every tick until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, scraper := range s.scrapers {
		s.wg.Add(1)
		go s.loop(ctx, scraper)
	}
	s.logger.WithFields(logrus.Fields{
		"scrapers": len(s.scrapers),
		"interval": s.interval.String(),
	}).Info("Scheduler started")
}

// Stop cancels running scrapers and waits for the loops to exit
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, scraper config.Scraper) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx, scraper)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, scraper config.Scraper) {
	if ctx.Err() != nil {
		return
	}
	logger := s.logger.WithField("scraper", scraper.Name)

	stats, err := s.runner.Run(ctx, scraper)
	switch {
	case err == nil:
		logger.WithField("pushed", stats.Pushed).Info("Scheduled scraper run completed")
	case errors.Is(err, scraping.ErrAlreadyRunning):
		logger.Debug("Skipping scheduled run, previous run still active")
	case ctx.Err() != nil:
		logger.Info("Scraper run cancelled")
	default:
		logger.WithError(err).Error("Scheduled scraper run failed")
	}
}

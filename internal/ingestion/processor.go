package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bytovka/internal/database"
	"bytovka/internal/metrics"
	"bytovka/internal/models"
	"bytovka/internal/queue"
)

// Recorder receives pipeline outcomes for the status endpoint
type Recorder interface {
	RecordIngest(outcome string)
}

type RetryOptions struct {
	// Maximum number of retries when the store is unavailable
	MaxRetries int

	// Delay before the first retry, doubled on every attempt
	RetryDelay time.Duration
}

// Processor runs the pipeline on records taken from the intake queue
type Processor struct {
	pipeline *Pipeline
	queue    *queue.RecordQueue
	recorder Recorder
	opts     RetryOptions
	logger   *logrus.Logger
}

func NewProcessor(pipeline *Pipeline, q *queue.RecordQueue, recorder Recorder, opts RetryOptions, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Processor{
		pipeline: pipeline,
		queue:    q,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
	}
}

// Start subscribes to the queue and launches the workers
func (p *Processor) Start(ctx context.Context, workers int) {
	p.queue.Subscribe(func(ctx context.Context, record models.RawRecord) error {
		_, err := p.Process(ctx, record)
		return err
	})
	p.queue.Start(ctx, workers)
}

// Stop closes the queue and waits until queued records are processed
func (p *Processor) Stop() {
	p.queue.Close()
	p.queue.Wait()
}

// Process ingests one record, retrying while the store is unavailable.
// Rejected records are counted and logged but not returned as errors.
func (p *Processor) Process(ctx context.Context, record models.RawRecord) (Result, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"scraper": record.Scraper,
		"id":      record.ID,
	})

	var result Result
	var err error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.opts.RetryDelay << (attempt - 1)
			logger.WithError(err).Infof("Retrying record, attempt %d of %d", attempt, p.opts.MaxRetries)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err = p.pipeline.Ingest(ctx, record)
		if err == nil || !errors.Is(err, database.ErrStoreUnavailable) {
			break
		}
	}

	switch {
	case err == nil:
		p.observe(record.Scraper, result.Outcome)
		return result, nil
	case result.Outcome == OutcomeRejected:
		p.observe(record.Scraper, OutcomeRejected)
		logger.WithError(err).Warn("Rejected record")
		return result, nil
	case errors.Is(err, database.ErrStoreUnavailable):
		p.observe(record.Scraper, OutcomeRejected)
		return Result{}, fmt.Errorf("failed to ingest record after %d attempts: %w", p.opts.MaxRetries+1, err)
	default:
		return Result{}, err
	}
}

func (p *Processor) observe(scraper string, outcome Outcome) {
	metrics.ObserveIngest(scraper, string(outcome))
	if p.recorder != nil {
		p.recorder.RecordIngest(string(outcome))
	}
}

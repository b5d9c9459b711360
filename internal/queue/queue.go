package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"bytovka/internal/metrics"
	"bytovka/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler processes one record taken from the queue
type Handler func(ctx context.Context, record models.RawRecord) error

// RecordQueue is a bounded in-memory queue between scrapers and ingestion workers
type RecordQueue struct {
	items    chan models.RawRecord
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []Handler
	workers  sync.WaitGroup
}

// NewRecordQueue creates a new record queue with the specified buffer size
func NewRecordQueue(bufferSize int, logger *logrus.Logger) *RecordQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecordQueue{
		items:    make(chan models.RawRecord, bufferSize),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]Handler, 0),
	}
}

// Push adds a record to the queue without blocking
func (q *RecordQueue) Push(record models.RawRecord) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- record:
		metrics.SetQueueDepth(len(q.items))
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler that will be called for each record
func (q *RecordQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the given number of workers. Workers stop when ctx is
// cancelled or, after Close, once the queue is drained.
func (q *RecordQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.process(ctx)
	}
}

func (q *RecordQueue) process(ctx context.Context) {
	defer q.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-q.items:
			if !ok {
				return
			}
			metrics.SetQueueDepth(len(q.items))
			q.dispatch(ctx, record)
		}
	}
}

// dispatch sends the record to all subscribed handlers
func (q *RecordQueue) dispatch(ctx context.Context, record models.RawRecord) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, record); err != nil {
			q.logger.WithError(err).WithFields(logrus.Fields{
				"scraper": record.Scraper,
				"id":      record.ID,
			}).Error("Handler failed to process record")
		}
	}
}

// Close stops accepting records; workers finish what is already queued
func (q *RecordQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.items)
	return nil
}

// Wait blocks until all workers have exited
func (q *RecordQueue) Wait() {
	q.workers.Wait()
}

// Len returns the current number of queued records
func (q *RecordQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *RecordQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

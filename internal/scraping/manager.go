package scraping

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bytovka/config"
	"bytovka/internal/metrics"
	"bytovka/internal/models"
	"bytovka/internal/queue"
)

var ErrAlreadyRunning = errors.New("scraper is already running")

const (
	maxLineSize    = 4 * 1024 * 1024
	pushAttempts   = 20
	pushRetryDelay = 50 * time.Millisecond
)

// Sink receives the records a scraper emits
type Sink interface {
	Push(record models.RawRecord) error
}

// StatusRecorder is told when scraper runs start and end
type StatusRecorder interface {
	ScrapeStarted(scraper string)
	ScrapeFinished(scraper string)
}

// ScraperMessage is one line of scraper output
type ScraperMessage struct {
	Type string          `json:"type"` // "items", "complete", or "error"
	Data json.RawMessage `json:"data"`
}

// RunStats counts what one run produced
type RunStats struct {
	Items   int `json:"items"`
	Pushed  int `json:"pushed"`
	Dropped int `json:"dropped"`
	Errors  int `json:"errors"`
}

// Manager runs external scraper commands and feeds their output into the intake queue
type Manager struct {
	logger  *logrus.Logger
	sink    Sink
	status  StatusRecorder
	mu      sync.Mutex
	running map[string]bool
}

// NewManager creates a new scraper manager
func NewManager(sink Sink, status StatusRecorder, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Manager{
		logger:  logger,
		sink:    sink,
		status:  status,
		running: make(map[string]bool),
	}
}

func (m *Manager) acquire(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[name] {
		return false
	}
	m.running[name] = true
	return true
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, name)
}

// Run executes a scraper command and consumes its output until it exits
func (m *Manager) Run(ctx context.Context, scraper config.Scraper) (RunStats, error) {
	if len(scraper.Command) == 0 {
		return RunStats{}, fmt.Errorf("scraper %q has no command", scraper.Name)
	}
	if !m.acquire(scraper.Name) {
		return RunStats{}, fmt.Errorf("%s: %w", scraper.Name, ErrAlreadyRunning)
	}
	defer m.release(scraper.Name)

	if m.status != nil {
		m.status.ScrapeStarted(scraper.Name)
		defer m.status.ScrapeFinished(scraper.Name)
	}

	logger := m.logger.WithField("scraper", scraper.Name)
	logger.WithField("command", scraper.Command).Info("Starting scraper")

	cmd := exec.CommandContext(ctx, scraper.Command[0], scraper.Command[1:]...)

	// Create pipes for stdout and stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunStats{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return RunStats{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		metrics.ObserveScraperRun(scraper.Name, "error")
		return RunStats{}, fmt.Errorf("failed to start scraper: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warn(scanner.Text())
		}
	}()

	stats, consumeErr := m.Consume(ctx, scraper.Name, stdout)
	if consumeErr != nil {
		// unblock the process so Wait can return
		_, _ = io.Copy(io.Discard, stdout)
	}
	wg.Wait()
	waitErr := cmd.Wait()

	switch {
	case waitErr != nil:
		metrics.ObserveScraperRun(scraper.Name, "error")
		return stats, fmt.Errorf("scraper execution failed: %w", waitErr)
	case consumeErr != nil:
		metrics.ObserveScraperRun(scraper.Name, "error")
		return stats, consumeErr
	}

	metrics.ObserveScraperRun(scraper.Name, "success")
	logger.WithFields(logrus.Fields{
		"items":   stats.Items,
		"pushed":  stats.Pushed,
		"dropped": stats.Dropped,
		"errors":  stats.Errors,
	}).Info("Scraper finished")
	return stats, nil
}

// Consume reads JSON-lines scraper messages from r and pushes the items.
// Malformed lines are logged and skipped.
func (m *Manager) Consume(ctx context.Context, scraper string, r io.Reader) (RunStats, error) {
	var stats RunStats
	logger := m.logger.WithField("scraper", scraper)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg ScraperMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.WithError(err).Error("Failed to parse scraper message")
			stats.Errors++
			continue
		}

		switch msg.Type {
		case "items":
			var items []models.RawRecord
			if err := json.Unmarshal(msg.Data, &items); err != nil {
				logger.WithError(err).Error("Failed to parse items")
				stats.Errors++
				continue
			}
			for _, item := range items {
				stats.Items++
				if item.Scraper == "" {
					item.Scraper = scraper
				}
				if err := m.push(ctx, item); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
						return stats, err
					}
					stats.Dropped++
					logger.WithError(err).WithField("id", item.ID).Warn("Dropping record")
					continue
				}
				stats.Pushed++
			}

		case "complete":
			var complete struct {
				Status     string `json:"status"`
				Message    string `json:"message"`
				TotalItems int    `json:"total_items"`
			}
			if err := json.Unmarshal(msg.Data, &complete); err != nil {
				logger.WithError(err).Error("Failed to parse completion message")
				continue
			}
			logger.WithFields(logrus.Fields{
				"status":      complete.Status,
				"message":     complete.Message,
				"total_items": complete.TotalItems,
			}).Info("Scraper completed")

		case "error":
			var errMsg struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &errMsg); err != nil {
				logger.WithError(err).Error("Failed to parse error message")
				continue
			}
			stats.Errors++
			logger.WithField("message", errMsg.Message).Error("Scraper error")

		default:
			logger.WithField("type", msg.Type).Warn("Unknown scraper message type")
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read scraper output: %w", err)
	}
	return stats, nil
}

// push retries briefly while the queue is full
func (m *Manager) push(ctx context.Context, record models.RawRecord) error {
	var err error
	for attempt := 0; attempt < pushAttempts; attempt++ {
		err = m.sink.Push(record)
		if !errors.Is(err, queue.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pushRetryDelay):
		}
	}
	return err
}

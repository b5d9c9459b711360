package status

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	StateIdle     = "idle"
	StateScraping = "scraping"
	StatePinging  = "pinging"
	StateBusy     = "busy"
)

// Supervisor holds process-wide activity flags and counters. Components
// report into it; the HTTP layer reads snapshots.
type Supervisor struct {
	mu           sync.RWMutex
	startedAt    time.Time
	scraping     map[string]bool
	pinging      bool
	lastScrapeAt *time.Time
	lastSweepAt  *time.Time

	created  atomic.Int64
	updated  atomic.Int64
	rejected atomic.Int64
	probeOK  atomic.Int64
	probeBad atomic.Int64

	now func() time.Time
}

func New() *Supervisor {
	now := func() time.Time { return time.Now().UTC() }
	return &Supervisor{
		startedAt: now(),
		scraping:  make(map[string]bool),
		now:       now,
	}
}

func (s *Supervisor) ScrapeStarted(scraper string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scraping[scraper] = true
}

func (s *Supervisor) ScrapeFinished(scraper string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scraping, scraper)
	now := s.now()
	s.lastScrapeAt = &now
}

func (s *Supervisor) SetPinging(pinging bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinging = pinging
	if !pinging {
		now := s.now()
		s.lastSweepAt = &now
	}
}

// RecordIngest counts one pipeline outcome ("created", "updated" or "rejected")
func (s *Supervisor) RecordIngest(outcome string) {
	switch outcome {
	case "created":
		s.created.Add(1)
	case "updated":
		s.updated.Add(1)
	case "rejected":
		s.rejected.Add(1)
	}
}

func (s *Supervisor) RecordProbe(ok bool) {
	if ok {
		s.probeOK.Add(1)
	} else {
		s.probeBad.Add(1)
	}
}

type IngestCounters struct {
	Created  int64 `json:"created"`
	Updated  int64 `json:"updated"`
	Rejected int64 `json:"rejected"`
}

type ProbeCounters struct {
	OK     int64 `json:"ok"`
	Failed int64 `json:"failed"`
}

// Snapshot is a read-only copy of the supervisor state. Offer counts and
// subscribers are filled in by the caller.
type Snapshot struct {
	Status       string         `json:"status"`
	Scraping     bool           `json:"scraping"`
	Pinging      bool           `json:"pinging"`
	ActiveScrape []string       `json:"active_scrapers"`
	TotalOffers  int64          `json:"total_offers"`
	ValidOffers  int64          `json:"valid_offers"`
	StartedAt    time.Time      `json:"started_at"`
	Ingested     IngestCounters `json:"ingested"`
	Probes       ProbeCounters  `json:"probes"`
	LastSweepAt  *time.Time     `json:"last_sweep_at"`
	LastScrapeAt *time.Time     `json:"last_scrape_at"`
	Subscribers  int            `json:"subscribers"`
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]string, 0, len(s.scraping))
	for name := range s.scraping {
		active = append(active, name)
	}
	sort.Strings(active)

	scraping := len(active) > 0
	state := StateIdle
	switch {
	case scraping && s.pinging:
		state = StateBusy
	case scraping:
		state = StateScraping
	case s.pinging:
		state = StatePinging
	}

	return Snapshot{
		Status:       state,
		Scraping:     scraping,
		Pinging:      s.pinging,
		ActiveScrape: active,
		StartedAt:    s.startedAt,
		Ingested: IngestCounters{
			Created:  s.created.Load(),
			Updated:  s.updated.Load(),
			Rejected: s.rejected.Load(),
		},
		Probes: ProbeCounters{
			OK:     s.probeOK.Load(),
			Failed: s.probeBad.Load(),
		},
		LastSweepAt:  copyTime(s.lastSweepAt),
		LastScrapeAt: copyTime(s.lastScrapeAt),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotStates(t *testing.T) {
	s := New()
	assert.Equal(t, StateIdle, s.Snapshot().Status)

	s.ScrapeStarted("sreality")
	snap := s.Snapshot()
	assert.Equal(t, StateScraping, snap.Status)
	assert.True(t, snap.Scraping)
	assert.Equal(t, []string{"sreality"}, snap.ActiveScrape)

	s.SetPinging(true)
	assert.Equal(t, StateBusy, s.Snapshot().Status)

	s.ScrapeFinished("sreality")
	snap = s.Snapshot()
	assert.Equal(t, StatePinging, snap.Status)
	assert.NotNil(t, snap.LastScrapeAt)
	assert.Nil(t, snap.LastSweepAt)

	s.SetPinging(false)
	snap = s.Snapshot()
	assert.Equal(t, StateIdle, snap.Status)
	assert.NotNil(t, snap.LastSweepAt)
}

func TestCounters(t *testing.T) {
	s := New()
	s.RecordIngest("created")
	s.RecordIngest("created")
	s.RecordIngest("updated")
	s.RecordIngest("rejected")
	s.RecordIngest("unknown")
	s.RecordProbe(true)
	s.RecordProbe(false)
	s.RecordProbe(false)

	snap := s.Snapshot()
	assert.Equal(t, IngestCounters{Created: 2, Updated: 1, Rejected: 1}, snap.Ingested)
	assert.Equal(t, ProbeCounters{OK: 1, Failed: 2}, snap.Probes)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.SetPinging(false)
	snap := s.Snapshot()
	*snap.LastSweepAt = snap.LastSweepAt.AddDate(-1, 0, 0)

	assert.NotEqual(t, snap.LastSweepAt.Year(), s.Snapshot().LastSweepAt.Year())
}

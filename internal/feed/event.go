package feed

import (
	"time"

	"github.com/google/uuid"

	"bytovka/internal/models"
)

type EventType string

const (
	EventCreated     EventType = "created"
	EventUpdated     EventType = "updated"
	EventInvalidated EventType = "invalidated"
	EventRevalidated EventType = "revalidated"
)

// Event describes one change to a listing
type Event struct {
	ID       string        `json:"id"`
	Type     EventType     `json:"type"`
	Scraper  string        `json:"scraper"`
	RemoteID string        `json:"remote_id"`
	Offer    *models.Offer `json:"offer,omitempty"`
	At       time.Time     `json:"at"`
}

// NewEvent builds an event carrying the current state of apt
func NewEvent(eventType EventType, apt *models.Apartment) Event {
	offer := apt.ToOffer()
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Scraper:  apt.Scraper,
		RemoteID: apt.RemoteID,
		Offer:    &offer,
		At:       time.Now().UTC(),
	}
}

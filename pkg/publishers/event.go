package publishers

import (
	"time"

	"github.com/google/uuid"

	"github.com/jhusain/pocket-reader/internal/domain"
)

// Event types emitted for record lifecycle changes.
const (
	EventRecordAdded   = "record.added"
	EventRecordUpdated = "record.updated"
	EventRecordDeleted = "record.deleted"
)

// Event represents the payload published downstream.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	URL        string         `json:"url"`
	Record     *domain.Record `json:"record,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent constructs an Event for rec. Deleted records are sent without a body.
func NewEvent(typ string, rec domain.Record) Event {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		URL:        rec.URL,
		OccurredAt: time.Now().UTC(),
	}
	if typ != EventRecordDeleted {
		r := rec
		evt.Record = &r
	}
	return evt
}

// attributes are copied onto message-oriented sinks for subscription filtering.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"url":        e.URL,
	}
}

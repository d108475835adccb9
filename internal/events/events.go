// Package events provides the in-process pub/sub fan-out used by the
// activity log and the progress tracker to reach delivery-layer
// subscribers (WebSocket bridges, CLI followers, tests).
package events

import (
	"time"
)

// Type identifies the kind of event being published.
type Type string

const (
	// Activity is published for every archive activity entry (file
	// ingested, duplicate skipped, query answered, folder added, ...).
	Activity Type = "activity"

	// Progress is published for per-file ingestion progress updates,
	// keyed by session id in the payload.
	Progress Type = "progress"
)

// Event is a published event.
type Event struct {
	// Type identifies the event type.
	Type Type

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Payload contains event-specific data (*ActivityPayload or
	// *ProgressPayload).
	Payload any
}

// ActivityPayload carries one activity feed entry.
type ActivityPayload struct {
	ID        string         `json:"id"`
	EventType string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Stage is a coarse ingestion phase reported through progress events.
type Stage string

const (
	StageUpload   Stage = "UPLOAD"
	StageExtract  Stage = "EXTRACT"
	StageIndex    Stage = "INDEX"
	StageEnrich   Stage = "ENRICH"
	StageComplete Stage = "COMPLETE"
	StageError    Stage = "ERROR"
)

// ProgressPayload carries one per-file progress update.
type ProgressPayload struct {
	SessionID string         `json:"session_id"`
	FileID    string         `json:"file_id"`
	Stage     Stage          `json:"stage"`
	Percent   int            `json:"percent"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Handler processes a published event.
type Handler func(Event)

// NewEvent creates an event stamped with the current time.
func NewEvent(t Type, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}

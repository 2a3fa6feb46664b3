package crawl

import (
	"context"
	"time"
)

// EventType names a crawl lifecycle event.
type EventType string

const (
	EventScanStarted   EventType = "scan_started"
	EventScanPaused    EventType = "scan_paused"
	EventScanResumed   EventType = "scan_resumed"
	EventScanCompleted EventType = "scan_completed"
	EventScanCancelled EventType = "scan_cancelled"
)

// Event is published on every state change of a job.
type Event struct {
	Type       EventType `json:"type"`
	Job        string    `json:"job"`
	ScanID     string    `json:"scan_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Status     Status    `json:"status"`
}

// EventPublisher delivers lifecycle events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventDetected   EventType = "detected"
	EventProcessing EventType = "processing"
	EventSuccess    EventType = "success"
	EventSkipped    EventType = "skipped"
	EventRetry      EventType = "retry"
	EventFailed     EventType = "failed"
)

// Event is a document lifecycle notification.
type Event struct {
	ID           string          `json:"id"`
	Type         EventType       `json:"type"`
	DocumentID   int64           `json:"document_id"`
	WorkflowSlug string          `json:"workflow_slug,omitempty"`
	Progress     int             `json:"progress"`
	Attempts     int             `json:"attempts,omitempty"`
	Message      string          `json:"message,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	At           time.Time       `json:"at"`
}

// Status maps an event to the processing record status it implies.
func (e Event) Status() ProcessingStatus {
	switch e.Type {
	case EventDetected:
		return ProcessingDetected
	case EventSuccess:
		return ProcessingCompleted
	case EventSkipped:
		return ProcessingSkipped
	case EventRetry:
		return ProcessingRetrying
	case EventFailed:
		return ProcessingFailed
	default:
		return ProcessingInProgress
	}
}

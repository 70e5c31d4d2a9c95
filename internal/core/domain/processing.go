package domain

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

type ProcessingStatus string

const (
	ProcessingDetected   ProcessingStatus = "detected"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingRetrying   ProcessingStatus = "retrying"
	ProcessingSkipped    ProcessingStatus = "skipped"
)

// IsTerminal reports whether no further automatic processing follows this status.
func (s ProcessingStatus) IsTerminal() bool {
	switch s {
	case ProcessingCompleted, ProcessingFailed, ProcessingSkipped:
		return true
	default:
		return false
	}
}

type ProcessingRecord struct {
	ID               int64            `json:"id"`
	DocumentID       int64            `json:"document_id"`
	WorkflowSlug     string           `json:"workflow_slug"`
	Status           ProcessingStatus `json:"status"`
	Progress         int              `json:"progress"`
	Attempts         int              `json:"attempts"`
	Message          string           `json:"message,omitempty"`
	ExtractedPayload json.RawMessage  `json:"extracted_payload,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Reusable reports whether a partial retry may skip extraction and apply this payload.
func (r *ProcessingRecord) Reusable() bool {
	if r == nil || r.Status.IsTerminal() {
		return false
	}
	payload := string(r.ExtractedPayload)
	return payload != "" && payload != "null" && payload != "[]" && payload != "{}"
}

type RetryStrategy string

const (
	RetryPartial RetryStrategy = "partial"
	RetryFull    RetryStrategy = "full"
)

// ParseRetryStrategy accepts "partial" or "full"; empty maps to fallback.
func ParseRetryStrategy(raw string, fallback RetryStrategy) (RetryStrategy, error) {
	switch RetryStrategy(raw) {
	case "":
		return fallback, nil
	case RetryPartial, RetryFull:
		return RetryStrategy(raw), nil
	default:
		return "", WrapError(ErrInvalidInput, "parse retry strategy", errors.Newf("unknown strategy %q", raw))
	}
}

// Outcome is the terminal result of one execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
)

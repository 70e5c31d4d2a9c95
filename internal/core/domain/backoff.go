package domain

import "time"

// DefaultBackoffSchedule is the delay ladder applied after the 1st, 2nd and 3rd+ failure.
var DefaultBackoffSchedule = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

const DefaultMaxRetries = 3

type BackoffEntry struct {
	DocumentID  int64     `json:"document_id"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	NextRetryAt time.Time `json:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BackoffDelay returns the wait after the given attempt count, clamped to the last step.
func BackoffDelay(schedule []time.Duration, attempts int) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

type SkippedEntry struct {
	DocumentID int64     `json:"document_id"`
	Reason     string    `json:"reason"`
	FileName   string    `json:"file_name,omitempty"`
	SkippedAt  time.Time `json:"skipped_at"`
}

const SkipReasonNoData = "no data"

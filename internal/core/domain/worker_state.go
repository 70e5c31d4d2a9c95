package domain

import "time"

// WorkerState is the single persisted row shared by the worker and control processes.
type WorkerState struct {
	IsPaused            bool         `json:"is_paused"`
	PausedAt            *time.Time   `json:"paused_at,omitempty"`
	PauseReason         string       `json:"pause_reason,omitempty"`
	ScanRequestedAt     *time.Time   `json:"scan_requested_at,omitempty"`
	LastScanStartedAt   *time.Time   `json:"last_scan_started_at,omitempty"`
	LastScanCompletedAt *time.Time   `json:"last_scan_completed_at,omitempty"`
	LastScan            *ScanSummary `json:"last_scan,omitempty"`
	CycleOwner          string       `json:"cycle_owner,omitempty"`
	CycleLeaseUntil     *time.Time   `json:"cycle_lease_until,omitempty"`
}

// ScanPending reports whether a scan was requested after the last cycle started.
func (s WorkerState) ScanPending() bool {
	if s.ScanRequestedAt == nil {
		return false
	}
	return s.LastScanStartedAt == nil || s.ScanRequestedAt.After(*s.LastScanStartedAt)
}

type ScanSummary struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Workflows   int       `json:"workflows"`
	Discovered  int       `json:"discovered"`
	Retried     int       `json:"retried"`
	Succeeded   int       `json:"succeeded"`
	Skipped     int       `json:"skipped"`
	Requeued    int       `json:"requeued"`
	Failed      int       `json:"failed"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

// Record counts one execution outcome.
func (s *ScanSummary) Record(outcome Outcome) {
	switch outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeRetry:
		s.Requeued++
	case OutcomeFailed:
		s.Failed++
	}
}

// WorkerStatus is the read model returned by the control surface.
type WorkerStatus struct {
	WorkerState
	QueueSize int `json:"queue_size"`
}

type TriggerResult struct {
	Triggered bool         `json:"triggered"`
	Confirmed bool         `json:"confirmed"`
	Paused    bool         `json:"paused,omitempty"`
	Summary   *ScanSummary `json:"summary,omitempty"`
}

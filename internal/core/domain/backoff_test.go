package domain

import (
	"testing"
	"time"
)

func TestBackoffDelayFollowsSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 60 * time.Second},
		{attempts: 2, want: 300 * time.Second},
		{attempts: 3, want: 900 * time.Second},
		{attempts: 10, want: 900 * time.Second},
		{attempts: 0, want: 60 * time.Second},
	}
	for _, tc := range cases {
		if got := BackoffDelay(DefaultBackoffSchedule, tc.attempts); got != tc.want {
			t.Fatalf("BackoffDelay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestProcessingRecordReusable(t *testing.T) {
	rec := &ProcessingRecord{Status: ProcessingRetrying, ExtractedPayload: []byte(`[{"vendor":"Acme"}]`)}
	if !rec.Reusable() {
		t.Fatalf("expected retrying record with payload to be reusable")
	}
	rec.Status = ProcessingCompleted
	if rec.Reusable() {
		t.Fatalf("expected terminal record not to be reusable")
	}
	rec = &ProcessingRecord{Status: ProcessingInProgress}
	if rec.Reusable() {
		t.Fatalf("expected record without payload not to be reusable")
	}
	var nilRec *ProcessingRecord
	if nilRec.Reusable() {
		t.Fatalf("expected nil record not to be reusable")
	}
}

func TestParseRetryStrategy(t *testing.T) {
	got, err := ParseRetryStrategy("", RetryPartial)
	if err != nil || got != RetryPartial {
		t.Fatalf("expected fallback, got %q err=%v", got, err)
	}
	if _, err := ParseRetryStrategy("sideways", RetryPartial); !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

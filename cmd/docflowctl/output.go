package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

func printStatus(w io.Writer, status domain.WorkerStatus) {
	state := "running"
	if status.IsPaused {
		state = "paused"
		if status.PauseReason != "" {
			state += " (" + status.PauseReason + ")"
		}
	}
	fmt.Fprintf(w, "State:          %s\n", state)
	fmt.Fprintf(w, "Backoff queue:  %d\n", status.QueueSize)
	fmt.Fprintf(w, "Last started:   %s\n", formatTimePtr(status.LastScanStartedAt))
	fmt.Fprintf(w, "Last completed: %s\n", formatTimePtr(status.LastScanCompletedAt))
	if status.LastScan != nil {
		printSummary(w, *status.LastScan)
	}
}

func printSummary(w io.Writer, s domain.ScanSummary) {
	fmt.Fprintf(w, "Last cycle:     %d discovered, %d retried, %d succeeded, %d skipped, %d requeued, %d failed",
		s.Discovered, s.Retried, s.Succeeded, s.Skipped, s.Requeued, s.Failed)
	if s.Interrupted {
		fmt.Fprint(w, " (interrupted)")
	}
	fmt.Fprintln(w)
}

func printQueue(w io.Writer, entries []domain.BackoffEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Backoff queue is empty")
		return nil
	}
	tw := newTable(w, "DOCUMENT", "ATTEMPTS", "NEXT RETRY", "LAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", e.DocumentID, e.Attempts, formatTime(e.NextRetryAt), truncate(e.LastError, 60))
	}
	return tw.Flush()
}

func printWorkflows(w io.Writer, workflows []domain.Workflow) error {
	tw := newTable(w, "SLUG", "PRIORITY", "ENABLED", "TRIGGER", "PROCESSED", "BUILT-IN")
	for _, wf := range workflows {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\t%t\n", wf.Slug, wf.Priority, wf.Enabled, wf.TriggerLabel, wf.ProcessedLabel, wf.IsBuiltIn)
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatTime(*t)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

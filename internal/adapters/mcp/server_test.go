package mcpadapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type controlFake struct {
	ports.WorkerControl

	err      error
	reason   string
	opts     ports.TriggerOptions
	retried  int64
	strategy domain.RetryStrategy
}

func (f *controlFake) Status(context.Context) (domain.WorkerStatus, error) {
	return domain.WorkerStatus{WorkerState: domain.WorkerState{IsPaused: true, PauseReason: f.reason}, QueueSize: 3}, f.err
}

func (f *controlFake) Pause(_ context.Context, reason string) error {
	f.reason = reason
	return f.err
}

func (f *controlFake) TriggerScanAndWait(_ context.Context, opts ports.TriggerOptions) (domain.TriggerResult, error) {
	f.opts = opts
	return domain.TriggerResult{Triggered: true, Confirmed: true}, f.err
}

func (f *controlFake) RetryOne(_ context.Context, id int64, strategy domain.RetryStrategy) (domain.Outcome, error) {
	f.retried = id
	f.strategy = strategy
	return domain.OutcomeSuccess, f.err
}

func (f *controlFake) ClearQueue(context.Context) (int, error) {
	return 2, f.err
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected tool result content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestStatusAndPauseTools(t *testing.T) {
	control := &controlFake{}
	s := NewServer(control, ports.TriggerOptions{}, "test", nil)

	res, err := s.handlePause(context.Background(), callRequest(map[string]any{"reason": "backup"}))
	if err != nil || res.IsError {
		t.Fatalf("pause failed: %v %+v", err, res)
	}
	if control.reason != "backup" {
		t.Fatalf("expected reason forwarded, got %q", control.reason)
	}

	res, err = s.handleStatus(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if text := resultText(t, res); !strings.Contains(text, `"queue_size": 3`) {
		t.Fatalf("unexpected status text %s", text)
	}
}

func TestScanToolOverridesTimeout(t *testing.T) {
	control := &controlFake{}
	s := NewServer(control, ports.TriggerOptions{Timeout: time.Minute, MinWait: time.Second}, "test", nil)

	if _, err := s.handleScan(context.Background(), callRequest(map[string]any{"timeout_seconds": 5.0})); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if control.opts.Timeout != 5*time.Second || control.opts.MinWait != time.Second {
		t.Fatalf("unexpected options %+v", control.opts)
	}
}

func TestRetryDocumentTool(t *testing.T) {
	control := &controlFake{}
	s := NewServer(control, ports.TriggerOptions{}, "test", nil)

	res, err := s.handleRetryDocument(context.Background(), callRequest(map[string]any{"document_id": 42.0, "strategy": "full"}))
	if err != nil || res.IsError {
		t.Fatalf("retry failed: %v %+v", err, res)
	}
	if control.retried != 42 || control.strategy != domain.RetryFull {
		t.Fatalf("unexpected retry call %d %q", control.retried, control.strategy)
	}

	res, _ = s.handleRetryDocument(context.Background(), callRequest(map[string]any{}))
	if !res.IsError {
		t.Fatalf("expected error without document_id")
	}
	res, _ = s.handleRetryDocument(context.Background(), callRequest(map[string]any{"document_id": 1.0, "strategy": "sideways"}))
	if !res.IsError {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestToolErrorsAreReportedAsResults(t *testing.T) {
	s := NewServer(&controlFake{err: errors.New("database is locked")}, ports.TriggerOptions{}, "test", nil)

	res, err := s.handleClearQueue(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("expected no protocol error, got %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "database is locked") {
		t.Fatalf("expected tool error result, got %+v", res)
	}
}

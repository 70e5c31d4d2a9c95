package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// Server exposes the worker control surface as MCP tools over stdio.
type Server struct {
	control ports.WorkerControl
	trigger ports.TriggerOptions
	server  *server.MCPServer
	logger  *zap.SugaredLogger
}

func NewServer(control ports.WorkerControl, trigger ports.TriggerOptions, version string, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		control: control,
		trigger: trigger,
		logger:  logger.Named("mcp"),
	}
	s.server = server.NewMCPServer(
		"docflow",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("worker_status",
		mcp.WithDescription("Show whether the worker is paused, the last scan summary and the backoff queue size"),
	), s.handleStatus)

	s.server.AddTool(mcp.NewTool("worker_pause",
		mcp.WithDescription("Pause the worker; the current document finishes first"),
		mcp.WithString("reason",
			mcp.Description("Why the worker is paused"),
		),
	), s.handlePause)

	s.server.AddTool(mcp.NewTool("worker_resume",
		mcp.WithDescription("Resume a paused worker"),
	), s.handleResume)

	s.server.AddTool(mcp.NewTool("scan_now",
		mcp.WithDescription("Trigger a scan cycle and wait for it to complete"),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("How long to wait for confirmation (default: server setting)"),
		),
	), s.handleScan)

	s.server.AddTool(mcp.NewTool("retry_document",
		mcp.WithDescription("Re-run the matching workflow for one document"),
		mcp.WithNumber("document_id",
			mcp.Required(),
			mcp.Description("Document id in the document store"),
		),
		mcp.WithString("strategy",
			mcp.Description("partial reuses the stored extraction, full extracts again"),
			mcp.Enum(string(domain.RetryPartial), string(domain.RetryFull)),
		),
	), s.handleRetryDocument)

	s.server.AddTool(mcp.NewTool("retry_all",
		mcp.WithDescription("Make every backoff queue entry due now with attempts reset"),
	), s.handleRetryAll)

	s.server.AddTool(mcp.NewTool("clear_queue",
		mcp.WithDescription("Remove every entry from the backoff queue"),
	), s.handleClearQueue)
}

// Serve blocks serving MCP over stdin/stdout.
func (s *Server) Serve() error {
	return server.ServeStdio(s.server)
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.control.Status(ctx)
	if err != nil {
		return toolError("Failed to read worker status", err), nil
	}
	return jsonResult(status)
}

func (s *Server) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.control.Pause(ctx, request.GetString("reason", "paused via mcp")); err != nil {
		return toolError("Failed to pause worker", err), nil
	}
	return mcp.NewToolResultText("Worker paused"), nil
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.control.Resume(ctx); err != nil {
		return toolError("Failed to resume worker", err), nil
	}
	return mcp.NewToolResultText("Worker resumed"), nil
}

func (s *Server) handleScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := s.trigger
	if seconds := request.GetFloat("timeout_seconds", 0); seconds > 0 {
		opts.Timeout = time.Duration(seconds * float64(time.Second))
	}
	result, err := s.control.TriggerScanAndWait(ctx, opts)
	if err != nil {
		return toolError("Failed to trigger scan", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleRetryDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if id <= 0 {
		return mcp.NewToolResultError("document_id must be positive"), nil
	}
	strategy, err := domain.ParseRetryStrategy(request.GetString("strategy", ""), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	outcome, err := s.control.RetryOne(ctx, int64(id), strategy)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to retry document %d", id), err), nil
	}
	s.logger.Infow("document retried via mcp", "document_id", id, "outcome", outcome)
	return mcp.NewToolResultText(fmt.Sprintf("Document %d: %s", id, outcome)), nil
}

func (s *Server) handleRetryAll(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.control.RetryAll(ctx)
	if err != nil {
		return toolError("Failed to reset backoff queue", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d queued document(s) will be retried on the next cycle", n)), nil
}

func (s *Server) handleClearQueue(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.control.ClearQueue(ctx)
	if err != nil {
		return toolError("Failed to clear backoff queue", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed %d document(s) from the backoff queue", n)), nil
}

func toolError(message string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", message, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(body)), nil
}

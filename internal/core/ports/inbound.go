package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// WorkflowExecutor runs one workflow against one document. Errors never escape.
type WorkflowExecutor interface {
	Execute(ctx context.Context, documentID int64, wf domain.Workflow, strategy domain.RetryStrategy) domain.Outcome
}

// WorkflowCatalog is the inbound contract for workflow management.
type WorkflowCatalog interface {
	List(ctx context.Context) ([]domain.Workflow, error)
	Get(ctx context.Context, slug string) (*domain.Workflow, error)
	Create(ctx context.Context, wf domain.Workflow) (*domain.Workflow, error)
	Update(ctx context.Context, slug string, wf domain.Workflow) (*domain.Workflow, error)
	Delete(ctx context.Context, slug string) error
	ValidateSchema(source string) domain.SchemaValidation
}

// TriggerOptions bounds a synchronous scan request.
type TriggerOptions struct {
	Timeout      time.Duration
	MinWait      time.Duration
	PollInterval time.Duration
}

// WorkerControl is the inbound contract for the operator control surface.
type WorkerControl interface {
	Pause(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
	Status(ctx context.Context) (domain.WorkerStatus, error)
	TriggerScanAndWait(ctx context.Context, opts TriggerOptions) (domain.TriggerResult, error)
	RetryOne(ctx context.Context, documentID int64, strategy domain.RetryStrategy) (domain.Outcome, error)
	RetryAll(ctx context.Context) (int, error)
	ClearQueue(ctx context.Context) (int, error)
	Queue(ctx context.Context) ([]domain.BackoffEntry, error)
	Skipped(ctx context.Context) ([]domain.SkippedEntry, error)
	History(ctx context.Context, limit int) ([]domain.ProcessingRecord, error)
}

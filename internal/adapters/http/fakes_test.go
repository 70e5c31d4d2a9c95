package httpadapter

import (
	"context"
	"errors"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type controlFake struct {
	err         error
	pauseReason string
	paused      bool
	trigger     ports.TriggerOptions
	result      domain.TriggerResult
	retried     int64
	strategy    domain.RetryStrategy
	outcome     domain.Outcome
	queue       []domain.BackoffEntry
	skipped     []domain.SkippedEntry
	history     []domain.ProcessingRecord
	limit       int
}

func (f *controlFake) Pause(_ context.Context, reason string) error {
	f.pauseReason = reason
	f.paused = f.err == nil
	return f.err
}

func (f *controlFake) Resume(context.Context) error {
	f.paused = false
	return f.err
}

func (f *controlFake) Status(context.Context) (domain.WorkerStatus, error) {
	if f.err != nil {
		return domain.WorkerStatus{}, f.err
	}
	return domain.WorkerStatus{WorkerState: domain.WorkerState{IsPaused: f.paused}, QueueSize: len(f.queue)}, nil
}

func (f *controlFake) TriggerScanAndWait(_ context.Context, opts ports.TriggerOptions) (domain.TriggerResult, error) {
	f.trigger = opts
	return f.result, f.err
}

func (f *controlFake) RetryOne(_ context.Context, documentID int64, strategy domain.RetryStrategy) (domain.Outcome, error) {
	f.retried = documentID
	f.strategy = strategy
	return f.outcome, f.err
}

func (f *controlFake) RetryAll(context.Context) (int, error) {
	return len(f.queue), f.err
}

func (f *controlFake) ClearQueue(context.Context) (int, error) {
	n := len(f.queue)
	f.queue = nil
	return n, f.err
}

func (f *controlFake) Queue(context.Context) ([]domain.BackoffEntry, error) {
	return f.queue, f.err
}

func (f *controlFake) Skipped(context.Context) ([]domain.SkippedEntry, error) {
	return f.skipped, f.err
}

func (f *controlFake) History(_ context.Context, limit int) ([]domain.ProcessingRecord, error) {
	f.limit = limit
	return f.history, f.err
}

type catalogFake struct {
	items   map[string]domain.Workflow
	err     error
	deleted string
}

func newCatalogFake(workflows ...domain.Workflow) *catalogFake {
	f := &catalogFake{items: map[string]domain.Workflow{}}
	for _, wf := range workflows {
		f.items[wf.Slug] = wf
	}
	return f
}

func (f *catalogFake) List(context.Context) ([]domain.Workflow, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Workflow, 0, len(f.items))
	for _, wf := range f.items {
		out = append(out, wf)
	}
	return out, nil
}

func (f *catalogFake) Get(_ context.Context, slug string) (*domain.Workflow, error) {
	wf, ok := f.items[slug]
	if !ok {
		return nil, domain.WrapError(domain.ErrWorkflowNotFound, "get workflow", errors.New("no such workflow"))
	}
	return &wf, nil
}

func (f *catalogFake) Create(_ context.Context, wf domain.Workflow) (*domain.Workflow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if wf.Slug == "" {
		wf.Slug = domain.Slugify(wf.Name)
	}
	wf.ID = int64(len(f.items) + 1)
	f.items[wf.Slug] = wf
	return &wf, nil
}

func (f *catalogFake) Update(ctx context.Context, slug string, wf domain.Workflow) (*domain.Workflow, error) {
	if _, err := f.Get(ctx, slug); err != nil {
		return nil, err
	}
	wf.Slug = slug
	f.items[slug] = wf
	return &wf, nil
}

func (f *catalogFake) Delete(_ context.Context, slug string) error {
	f.deleted = slug
	return f.err
}

func (f *catalogFake) ValidateSchema(source string) domain.SchemaValidation {
	if source == "" {
		return domain.SchemaValidation{Valid: false, Errors: []string{"schema is empty"}}
	}
	return domain.SchemaValidation{Valid: true, Fields: []string{"vendor"}}
}

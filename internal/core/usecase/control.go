package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const (
	DefaultTriggerTimeout      = 2 * time.Minute
	DefaultTriggerMinWait      = 2 * time.Second
	DefaultTriggerPollInterval = time.Second
)

type ControlDeps struct {
	Store    ports.DocumentStore
	Registry *WorkflowRegistry
	Executor ports.WorkflowExecutor
	Resolver *EntityResolver
	Backoff  *BackoffQueue
	Skipped  ports.SkippedRepository
	Records  ports.ProcessingRepository
	State    ports.WorkerStateRepository
	Trigger  ports.ScanTrigger
}

// Controller is the operator control surface. It works through persisted state so
// it can run in a different process than the scan loop.
type Controller struct {
	deps   ControlDeps
	logger *zap.SugaredLogger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

func NewController(deps ControlDeps, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		deps:   deps,
		logger: logger.Named("control"),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func (c *Controller) Pause(ctx context.Context, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "paused by operator"
	}
	if err := c.deps.State.SetPaused(ctx, true, reason, c.now().UTC()); err != nil {
		return errors.Wrap(err, "pause worker")
	}
	c.logger.Infow("worker paused", "reason", reason)
	return nil
}

func (c *Controller) Resume(ctx context.Context) error {
	if err := c.deps.State.SetPaused(ctx, false, "", c.now().UTC()); err != nil {
		return errors.Wrap(err, "resume worker")
	}
	c.logger.Infow("worker resumed")
	return nil
}

func (c *Controller) Status(ctx context.Context) (domain.WorkerStatus, error) {
	state, err := c.deps.State.Get(ctx)
	if err != nil {
		return domain.WorkerStatus{}, errors.Wrap(err, "get worker state")
	}
	size, err := c.deps.Backoff.Size(ctx)
	if err != nil {
		return domain.WorkerStatus{}, err
	}
	return domain.WorkerStatus{WorkerState: state, QueueSize: size}, nil
}

// TriggerScanAndWait requests a scan and polls shared state until a cycle that
// started after the request has completed, or the timeout passes. It never returns
// before MinWait so a fast cycle's state writes are visible to the caller.
func (c *Controller) TriggerScanAndWait(ctx context.Context, opts ports.TriggerOptions) (domain.TriggerResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTriggerTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultTriggerPollInterval
	}
	if opts.MinWait < 0 {
		opts.MinWait = 0
	}
	if opts.MinWait > opts.Timeout {
		opts.MinWait = opts.Timeout
	}

	requestedAt := c.now().UTC().Truncate(time.Millisecond)
	if err := c.deps.State.RequestScan(ctx, requestedAt); err != nil {
		return domain.TriggerResult{}, errors.Wrap(err, "request scan")
	}
	if c.deps.Trigger != nil {
		if err := c.deps.Trigger.PublishScanRequest(ctx); err != nil {
			c.logger.Warnw("publish scan request failed, worker will pick it up by polling", "error", err)
		}
	}
	result := domain.TriggerResult{Triggered: true}

	deadline := requestedAt.Add(opts.Timeout)
	minUntil := requestedAt.Add(opts.MinWait)
	for {
		state, err := c.deps.State.Get(ctx)
		if err != nil {
			return result, errors.Wrap(err, "poll worker state")
		}
		result.Paused = state.IsPaused
		if state.LastScanCompletedAt != nil && !state.LastScanCompletedAt.Before(requestedAt) &&
			state.LastScanStartedAt != nil && !state.LastScanStartedAt.Before(requestedAt) {
			result.Confirmed = true
			result.Summary = state.LastScan
		}

		now := c.now().UTC()
		if result.Confirmed && !now.Before(minUntil) {
			return result, nil
		}
		if !now.Before(deadline) {
			if !result.Confirmed {
				c.logger.Infow("scan not confirmed before timeout", "timeout", opts.Timeout, "paused", result.Paused)
			}
			return result, nil
		}

		wait := opts.PollInterval
		if result.Confirmed {
			wait = minUntil.Sub(now)
		}
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		if err := c.sleep(ctx, wait); err != nil {
			return result, err
		}
	}
}

// RetryOne re-runs the workflow matching the document's current labels.
func (c *Controller) RetryOne(ctx context.Context, documentID int64, strategy domain.RetryStrategy) (domain.Outcome, error) {
	doc, err := c.deps.Store.GetDocument(ctx, documentID)
	if err != nil {
		return "", errors.Wrap(err, "fetch document")
	}
	labels, err := c.deps.Resolver.Names(ctx, domain.EntityTag, doc.TagIDs)
	if err != nil {
		return "", errors.Wrap(err, "resolve document labels")
	}
	wf, ok, err := c.deps.Registry.Match(ctx, labels)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.WrapError(domain.ErrWorkflowNotFound, "retry document", errors.Newf("no enabled workflow matches labels %v", labels))
	}
	if err := c.deps.Skipped.Delete(ctx, documentID); err != nil {
		c.logger.Warnw("clear skipped marker failed", "document_id", documentID, "error", err)
	}

	c.logger.Infow("manual retry", "document_id", documentID, "workflow", wf.Slug, "strategy", strategy)
	return c.deps.Executor.Execute(context.WithoutCancel(ctx), documentID, *wf, strategy), nil
}

func (c *Controller) RetryAll(ctx context.Context) (int, error) {
	n, err := c.deps.Backoff.RetryAll(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Infow("backoff queue reset", "entries", n)
	return n, nil
}

func (c *Controller) ClearQueue(ctx context.Context) (int, error) {
	n, err := c.deps.Backoff.Clear(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Infow("backoff queue cleared", "entries", n)
	return n, nil
}

func (c *Controller) Queue(ctx context.Context) ([]domain.BackoffEntry, error) {
	return c.deps.Backoff.List(ctx)
}

func (c *Controller) Skipped(ctx context.Context) ([]domain.SkippedEntry, error) {
	entries, err := c.deps.Skipped.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list skipped documents")
	}
	return entries, nil
}

func (c *Controller) History(ctx context.Context, limit int) ([]domain.ProcessingRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	records, err := c.deps.Records.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list processing records")
	}
	return records, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

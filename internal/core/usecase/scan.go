package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type ScannerConfig struct {
	Interval            time.Duration
	TriggerPollInterval time.Duration
	LeaseTTL            time.Duration
}

func (c ScannerConfig) normalize() ScannerConfig {
	out := c
	if out.Interval <= 0 {
		out.Interval = 30 * time.Second
	}
	if out.TriggerPollInterval <= 0 {
		out.TriggerPollInterval = 2 * time.Second
	}
	if out.LeaseTTL <= 0 {
		out.LeaseTTL = 30 * time.Minute
	}
	return out
}

// CycleObserver receives scan cycle outcomes and queue depth.
type CycleObserver interface {
	ObserveCycle(status string, duration time.Duration)
	SetQueueSize(n int)
}

type ScanDeps struct {
	Store    ports.DocumentStore
	Registry *WorkflowRegistry
	Executor ports.WorkflowExecutor
	Resolver *EntityResolver
	Backoff  *BackoffQueue
	Skipped  ports.SkippedRepository
	State    ports.WorkerStateRepository
	Reporter *EventReporter
	Trigger  ports.ScanTrigger
	Observer CycleObserver
}

// Scanner is the worker loop: it discovers documents per workflow, executes them
// one at a time and then drains retries that are due.
type Scanner struct {
	deps   ScanDeps
	cfg    ScannerConfig
	owner  string
	logger *zap.SugaredLogger
	now    func() time.Time

	cycleMu sync.Mutex
	wake    chan struct{}
}

func NewScanner(deps ScanDeps, cfg ScannerConfig, logger *zap.SugaredLogger) *Scanner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scanner{
		deps:   deps,
		cfg:    cfg.normalize(),
		owner:  uuid.NewString(),
		logger: logger.Named("scanner"),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Wake asks the loop to start the next cycle without waiting for the interval.
func (s *Scanner) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. A cycle in progress is allowed to finish.
func (s *Scanner) Run(ctx context.Context) error {
	if s.deps.Trigger != nil {
		if err := s.deps.Trigger.SubscribeScanRequests(ctx, s.Wake); err != nil {
			s.logger.Warnw("scan trigger subscription failed, relying on polling", "error", err)
		}
	}
	s.logger.Infow("scan loop started", "interval", s.cfg.Interval, "owner", s.owner)

	for {
		if ctx.Err() != nil {
			s.logger.Infow("scan loop stopped")
			return nil
		}

		state, err := s.deps.State.Get(ctx)
		switch {
		case err != nil:
			s.logger.Errorw("read worker state failed", "error", err)
		case state.IsPaused:
			s.logger.Debugw("worker paused, skipping cycle", "reason", state.PauseReason)
		default:
			if _, err := s.RunCycle(ctx); err != nil && !domain.IsKind(err, domain.ErrCycleInProgress) {
				s.logger.Errorw("scan cycle failed", "error", err)
			}
		}

		if !s.waitNext(ctx) {
			s.logger.Infow("scan loop stopped")
			return nil
		}
	}
}

// waitNext blocks until the interval elapses, a trigger arrives or ctx ends.
func (s *Scanner) waitNext(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	poll := time.NewTicker(s.cfg.TriggerPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-s.wake:
			s.logger.Debugw("scan triggered")
			return true
		case <-poll.C:
			state, err := s.deps.State.Get(ctx)
			if err == nil && state.ScanPending() {
				s.logger.Debugw("scan requested through shared state")
				return true
			}
		}
	}
}

// RunCycle performs one full automation cycle. It fails fast with
// ErrCycleInProgress when another cycle holds the lease.
func (s *Scanner) RunCycle(ctx context.Context) (domain.ScanSummary, error) {
	if !s.cycleMu.TryLock() {
		return domain.ScanSummary{}, domain.WrapError(domain.ErrCycleInProgress, "run scan cycle", errors.New("cycle running in this process"))
	}
	defer s.cycleMu.Unlock()

	// Documents in flight are never cancelled; ctx only stops the cycle between documents.
	work := context.WithoutCancel(ctx)
	started := s.now().UTC()

	acquired, err := s.deps.State.AcquireCycleLease(work, s.owner, started, s.cfg.LeaseTTL)
	if err != nil {
		return domain.ScanSummary{}, errors.Wrap(err, "acquire cycle lease")
	}
	if !acquired {
		s.logger.Infow("another process holds the scan cycle lease")
		return domain.ScanSummary{}, domain.WrapError(domain.ErrCycleInProgress, "run scan cycle", errors.New("lease held by another process"))
	}
	defer func() {
		if err := s.deps.State.ReleaseCycleLease(work, s.owner); err != nil {
			s.logger.Warnw("release cycle lease failed", "error", err)
		}
	}()

	if err := s.deps.State.MarkScanStarted(work, started); err != nil {
		s.logger.Warnw("record scan start failed", "error", err)
	}

	summary := domain.ScanSummary{StartedAt: started}
	cycleErr := s.cycle(ctx, work, &summary)
	summary.FinishedAt = s.now().UTC()

	status := "ok"
	switch {
	case cycleErr != nil:
		status = "error"
	case summary.Interrupted:
		status = "interrupted"
	}
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveCycle(status, summary.FinishedAt.Sub(started))
		if n, err := s.deps.Backoff.Size(work); err == nil {
			s.deps.Observer.SetQueueSize(n)
		}
	}

	if cycleErr != nil {
		return summary, cycleErr
	}
	if err := s.deps.State.MarkScanCompleted(work, summary); err != nil {
		s.logger.Warnw("record scan completion failed", "error", err)
	}
	s.logger.Infow("scan cycle finished",
		"discovered", summary.Discovered,
		"retried", summary.Retried,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"requeued", summary.Requeued,
		"failed", summary.Failed,
		"interrupted", summary.Interrupted,
		"duration", summary.FinishedAt.Sub(started),
	)
	return summary, nil
}

func (s *Scanner) cycle(ctx, work context.Context, summary *domain.ScanSummary) error {
	workflows, err := s.deps.Registry.ListEnabled(work)
	if err != nil {
		return errors.Wrap(err, "list workflows")
	}
	if len(workflows) == 0 {
		workflows = []domain.Workflow{LegacyWorkflow()}
	}
	summary.Workflows = len(workflows)

	for _, wf := range workflows {
		docs, err := s.candidates(work, wf)
		if err != nil {
			return errors.Wrapf(err, "list candidates for workflow %s", wf.Slug)
		}
		for _, doc := range docs {
			if s.shouldStop(ctx, work) {
				summary.Interrupted = true
				return nil
			}
			summary.Discovered++
			s.deps.Reporter.Report(work, domain.Event{
				Type:         domain.EventDetected,
				DocumentID:   doc.ID,
				WorkflowSlug: wf.Slug,
				Message:      "document detected",
			})
			summary.Record(s.deps.Executor.Execute(work, doc.ID, wf, ""))
		}
	}

	ready, err := s.deps.Backoff.ReadyForRetry(work)
	if err != nil {
		return err
	}
	for _, entry := range ready {
		if s.shouldStop(ctx, work) {
			summary.Interrupted = true
			return nil
		}
		s.retryEntry(work, entry, summary)
	}
	return nil
}

func (s *Scanner) retryEntry(ctx context.Context, entry domain.BackoffEntry, summary *domain.ScanSummary) {
	doc, err := s.deps.Store.GetDocument(ctx, entry.DocumentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			s.logger.Infow("document gone, dropping retry", "document_id", entry.DocumentID)
			_ = s.deps.Backoff.Remove(ctx, entry.DocumentID)
			return
		}
		s.logger.Warnw("fetch document for retry failed", "document_id", entry.DocumentID, "error", err)
		return
	}
	labels, err := s.deps.Resolver.Names(ctx, domain.EntityTag, doc.TagIDs)
	if err != nil {
		s.logger.Warnw("resolve labels for retry failed", "document_id", doc.ID, "error", err)
		return
	}
	wf, ok, err := s.deps.Registry.Match(ctx, labels)
	if err != nil {
		s.logger.Warnw("match workflow for retry failed", "document_id", doc.ID, "error", err)
		return
	}
	if !ok {
		s.logger.Infow("no workflow matches anymore, dropping retry", "document_id", doc.ID, "labels", labels)
		if err := s.deps.Backoff.Remove(ctx, doc.ID); err != nil {
			s.logger.Warnw("remove backoff entry failed", "document_id", doc.ID, "error", err)
		}
		return
	}

	summary.Retried++
	s.logger.Infow("retrying document", "document_id", doc.ID, "workflow", wf.Slug, "attempts", entry.Attempts)
	summary.Record(s.deps.Executor.Execute(ctx, doc.ID, *wf, ""))
}

// candidates lists documents carrying the trigger label and none of the outcome
// labels, minus those already waiting in the backoff queue, marked skipped or
// whose last run of this workflow gave up.
func (s *Scanner) candidates(ctx context.Context, wf domain.Workflow) ([]domain.Document, error) {
	triggerID, found, err := s.deps.Resolver.Resolve(ctx, domain.EntityTag, wf.TriggerLabel)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	query := domain.DocumentQuery{AllTagIDs: []int64{triggerID}}
	for _, label := range []string{wf.ProcessedLabel, wf.FailedLabel, wf.SkippedLabel} {
		if label == "" {
			continue
		}
		id, ok, err := s.deps.Resolver.Resolve(ctx, domain.EntityTag, label)
		if err != nil {
			return nil, err
		}
		if ok {
			query.NoneTagIDs = append(query.NoneTagIDs, id)
		}
	}

	docs, err := s.deps.Store.ListDocuments(ctx, query)
	if err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, doc := range docs {
		queued, err := s.deps.Backoff.Contains(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if queued {
			continue
		}
		skipped, err := s.deps.Skipped.Exists(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if skipped {
			continue
		}
		gaveUp, err := s.gaveUp(ctx, doc.ID, wf.Slug)
		if err != nil {
			return nil, err
		}
		if gaveUp {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// gaveUp reports whether the document's latest record is a failed run of the
// workflow. It stands in for the failed label when applying that label failed.
func (s *Scanner) gaveUp(ctx context.Context, documentID int64, slug string) (bool, error) {
	rec, err := s.deps.Reporter.LatestRecord(ctx, documentID)
	if err != nil {
		return false, errors.Wrapf(err, "load processing record for document %d", documentID)
	}
	return rec != nil && rec.Status == domain.ProcessingFailed && rec.WorkflowSlug == slug, nil
}

// shouldStop reports shutdown or a pause request observed between documents.
func (s *Scanner) shouldStop(ctx, work context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	state, err := s.deps.State.Get(work)
	if err != nil {
		return false
	}
	return state.IsPaused
}

package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// EventReporter keeps the processing record current and broadcasts lifecycle
// events. Reporting failures are logged and never interrupt processing.
type EventReporter struct {
	records    ports.ProcessingRepository
	publishers []ports.EventPublisher
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewEventReporter(records ports.ProcessingRepository, logger *zap.SugaredLogger, publishers ...ports.EventPublisher) *EventReporter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventReporter{
		records:    records,
		publishers: publishers,
		logger:     logger.Named("events"),
		now:        time.Now,
	}
}

func (r *EventReporter) Report(ctx context.Context, event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = r.now().UTC()
	}

	if err := r.persist(ctx, event); err != nil {
		r.logger.Warnw("persist processing record failed",
			"document_id", event.DocumentID,
			"event", event.Type,
			"error", err,
		)
	}

	for _, pub := range r.publishers {
		if err := pub.PublishEvent(ctx, event); err != nil {
			r.logger.Warnw("publish event failed",
				"document_id", event.DocumentID,
				"event", event.Type,
				"error", err,
			)
		}
	}

	r.logger.Debugw("document event",
		"document_id", event.DocumentID,
		"workflow", event.WorkflowSlug,
		"event", event.Type,
		"progress", event.Progress,
		"message", event.Message,
	)
}

// LatestRecord returns the current processing record for a document, or nil.
func (r *EventReporter) LatestRecord(ctx context.Context, documentID int64) (*domain.ProcessingRecord, error) {
	return r.records.Latest(ctx, documentID)
}

// persist updates the current record in place. Any event after a terminal status
// starts a new record, so a finished run's payload is never carried into the next
// one. Payloads are kept unless the event carries a new one.
func (r *EventReporter) persist(ctx context.Context, event domain.Event) error {
	if r.records == nil {
		return nil
	}
	latest, err := r.records.Latest(ctx, event.DocumentID)
	if err != nil {
		return err
	}

	if latest == nil || latest.Status.IsTerminal() {
		rec := &domain.ProcessingRecord{
			DocumentID:       event.DocumentID,
			WorkflowSlug:     event.WorkflowSlug,
			Status:           event.Status(),
			Progress:         event.Progress,
			Attempts:         event.Attempts,
			Message:          event.Message,
			ExtractedPayload: event.Payload,
			CreatedAt:        event.At,
			UpdatedAt:        event.At,
		}
		return r.records.Insert(ctx, rec)
	}

	latest.Status = event.Status()
	latest.Progress = event.Progress
	latest.Message = event.Message
	latest.UpdatedAt = event.At
	if event.WorkflowSlug != "" {
		latest.WorkflowSlug = event.WorkflowSlug
	}
	if event.Attempts > 0 {
		latest.Attempts = event.Attempts
	}
	if len(event.Payload) > 0 {
		latest.ExtractedPayload = event.Payload
	}
	return r.records.Update(ctx, latest)
}

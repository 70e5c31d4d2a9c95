package report

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// Source is the read side of the worker control surface.
type Source interface {
	Status(ctx context.Context) (domain.WorkerStatus, error)
	Queue(ctx context.Context) ([]domain.BackoffEntry, error)
	Skipped(ctx context.Context) ([]domain.SkippedEntry, error)
	History(ctx context.Context, limit int) ([]domain.ProcessingRecord, error)
}

// Collect gathers the listings a report is built from.
func Collect(ctx context.Context, src Source, historyLimit int, now time.Time) (Data, error) {
	status, err := src.Status(ctx)
	if err != nil {
		return Data{}, errors.Wrap(err, "collect status")
	}
	history, err := src.History(ctx, historyLimit)
	if err != nil {
		return Data{}, errors.Wrap(err, "collect history")
	}
	queue, err := src.Queue(ctx)
	if err != nil {
		return Data{}, errors.Wrap(err, "collect queue")
	}
	skipped, err := src.Skipped(ctx)
	if err != nil {
		return Data{}, errors.Wrap(err, "collect skipped")
	}
	return Data{
		GeneratedAt: now.UTC(),
		Status:      status,
		History:     history,
		Queue:       queue,
		Skipped:     skipped,
	}, nil
}

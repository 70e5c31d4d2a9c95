package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// BackoffQueue tracks failed documents and when they may be retried.
type BackoffQueue struct {
	repo       ports.BackoffRepository
	schedule   []time.Duration
	maxRetries int
	now        func() time.Time
}

type BackoffOption func(*BackoffQueue)

func WithBackoffSchedule(schedule []time.Duration) BackoffOption {
	return func(q *BackoffQueue) {
		if len(schedule) > 0 {
			q.schedule = append([]time.Duration(nil), schedule...)
		}
	}
}

func WithMaxRetries(n int) BackoffOption {
	return func(q *BackoffQueue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

func WithBackoffClock(now func() time.Time) BackoffOption {
	return func(q *BackoffQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewBackoffQueue(repo ports.BackoffRepository, opts ...BackoffOption) *BackoffQueue {
	q := &BackoffQueue{
		repo:       repo,
		schedule:   domain.DefaultBackoffSchedule,
		maxRetries: domain.DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *BackoffQueue) MaxRetries() int {
	return q.maxRetries
}

// Add records a failure and schedules the next retry. Returns the new attempt count.
func (q *BackoffQueue) Add(ctx context.Context, documentID int64, cause error) (int, time.Time, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	attempts, next, err := q.repo.Upsert(ctx, documentID, msg, q.now().UTC(), q.schedule)
	if err != nil {
		return 0, time.Time{}, errors.Wrapf(err, "upsert backoff entry for document %d", documentID)
	}
	return attempts, next, nil
}

// ReadyForRetry returns entries whose retry time has passed, oldest first.
func (q *BackoffQueue) ReadyForRetry(ctx context.Context) ([]domain.BackoffEntry, error) {
	entries, err := q.repo.ListReady(ctx, q.now().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "list ready backoff entries")
	}
	return entries, nil
}

func (q *BackoffQueue) ShouldGiveUp(ctx context.Context, documentID int64) (bool, error) {
	entry, err := q.repo.Get(ctx, documentID)
	if err != nil {
		return false, errors.Wrapf(err, "get backoff entry for document %d", documentID)
	}
	if entry == nil {
		return false, nil
	}
	return entry.Attempts >= q.maxRetries, nil
}

// Remove deletes the entry. Removing an absent entry is not an error.
func (q *BackoffQueue) Remove(ctx context.Context, documentID int64) error {
	if err := q.repo.Delete(ctx, documentID); err != nil {
		return errors.Wrapf(err, "delete backoff entry for document %d", documentID)
	}
	return nil
}

// RetryAll resets every entry to zero attempts and makes it ready now.
func (q *BackoffQueue) RetryAll(ctx context.Context) (int, error) {
	n, err := q.repo.ResetAll(ctx, q.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "reset backoff entries")
	}
	return n, nil
}

func (q *BackoffQueue) Clear(ctx context.Context) (int, error) {
	n, err := q.repo.DeleteAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "clear backoff entries")
	}
	return n, nil
}

func (q *BackoffQueue) Size(ctx context.Context) (int, error) {
	n, err := q.repo.Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "count backoff entries")
	}
	return n, nil
}

func (q *BackoffQueue) List(ctx context.Context) ([]domain.BackoffEntry, error) {
	entries, err := q.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list backoff entries")
	}
	return entries, nil
}

// Get returns the entry for a document, or nil when it is not queued.
func (q *BackoffQueue) Get(ctx context.Context, documentID int64) (*domain.BackoffEntry, error) {
	entry, err := q.repo.Get(ctx, documentID)
	if err != nil {
		return nil, errors.Wrapf(err, "get backoff entry for document %d", documentID)
	}
	return entry, nil
}

func (q *BackoffQueue) Contains(ctx context.Context, documentID int64) (bool, error) {
	entry, err := q.Get(ctx, documentID)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

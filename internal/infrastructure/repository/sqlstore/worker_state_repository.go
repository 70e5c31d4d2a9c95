package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// WorkerStateRepository owns the single worker_state row (id = 1).
type WorkerStateRepository struct {
	db *DB
}

func NewWorkerStateRepository(db *DB) *WorkerStateRepository {
	return &WorkerStateRepository{db: db}
}

func (r *WorkerStateRepository) Get(ctx context.Context) (domain.WorkerState, error) {
	row := r.db.queryRow(ctx, `
SELECT is_paused, paused_at, pause_reason, scan_requested_at, last_scan_started_at,
	last_scan_completed_at, last_scan_summary, cycle_owner, cycle_lease_until
FROM worker_state
WHERE id = 1
`)
	var state domain.WorkerState
	var pausedAt, requestedAt, startedAt, completedAt, leaseUntil sql.NullInt64
	var summary sql.NullString
	err := row.Scan(
		&state.IsPaused,
		&pausedAt,
		&state.PauseReason,
		&requestedAt,
		&startedAt,
		&completedAt,
		&summary,
		&state.CycleOwner,
		&leaseUntil,
	)
	if err != nil {
		return domain.WorkerState{}, errors.Wrap(err, "get worker state")
	}
	state.PausedAt = timePtr(pausedAt)
	state.ScanRequestedAt = timePtr(requestedAt)
	state.LastScanStartedAt = timePtr(startedAt)
	state.LastScanCompletedAt = timePtr(completedAt)
	state.CycleLeaseUntil = timePtr(leaseUntil)
	if summary.Valid && summary.String != "" {
		var s domain.ScanSummary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return domain.WorkerState{}, errors.Wrap(err, "decode last scan summary")
		}
		state.LastScan = &s
	}
	return state, nil
}

func (r *WorkerStateRepository) SetPaused(ctx context.Context, paused bool, reason string, at time.Time) error {
	var err error
	if paused {
		_, err = r.db.exec(ctx, `UPDATE worker_state SET is_paused = ?, paused_at = ?, pause_reason = ? WHERE id = 1`,
			true, toMillis(at), reason)
	} else {
		_, err = r.db.exec(ctx, `UPDATE worker_state SET is_paused = ?, paused_at = NULL, pause_reason = '' WHERE id = 1`, false)
	}
	if err != nil {
		return errors.Wrap(err, "set worker paused")
	}
	return nil
}

func (r *WorkerStateRepository) RequestScan(ctx context.Context, at time.Time) error {
	if _, err := r.db.exec(ctx, `UPDATE worker_state SET scan_requested_at = ? WHERE id = 1`, toMillis(at)); err != nil {
		return errors.Wrap(err, "request scan")
	}
	return nil
}

func (r *WorkerStateRepository) MarkScanStarted(ctx context.Context, at time.Time) error {
	if _, err := r.db.exec(ctx, `UPDATE worker_state SET last_scan_started_at = ? WHERE id = 1`, toMillis(at)); err != nil {
		return errors.Wrap(err, "mark scan started")
	}
	return nil
}

func (r *WorkerStateRepository) MarkScanCompleted(ctx context.Context, summary domain.ScanSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "marshal scan summary")
	}
	if _, err := r.db.exec(ctx, `UPDATE worker_state SET last_scan_completed_at = ?, last_scan_summary = ? WHERE id = 1`,
		toMillis(summary.FinishedAt), string(raw)); err != nil {
		return errors.Wrap(err, "mark scan completed")
	}
	return nil
}

// AcquireCycleLease claims the cycle for owner when it is free, expired or already
// held by the same owner.
func (r *WorkerStateRepository) AcquireCycleLease(ctx context.Context, owner string, now time.Time, ttl time.Duration) (bool, error) {
	nowMS := toMillis(now)
	res, err := r.db.exec(ctx, `
UPDATE worker_state
SET cycle_owner = ?, cycle_lease_until = ?
WHERE id = 1 AND (cycle_owner = '' OR cycle_lease_until IS NULL OR cycle_lease_until < ? OR cycle_owner = ?)
`, owner, nowMS+ttl.Milliseconds(), nowMS, owner)
	if err != nil {
		return false, errors.Wrap(err, "acquire cycle lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "acquire cycle lease rows affected")
	}
	return n == 1, nil
}

func (r *WorkerStateRepository) ReleaseCycleLease(ctx context.Context, owner string) error {
	if _, err := r.db.exec(ctx, `UPDATE worker_state SET cycle_owner = '', cycle_lease_until = NULL WHERE id = 1 AND cycle_owner = ?`, owner); err != nil {
		return errors.Wrap(err, "release cycle lease")
	}
	return nil
}

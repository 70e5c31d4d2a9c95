package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type BackoffRepository struct {
	db *DB
}

func NewBackoffRepository(db *DB) *BackoffRepository {
	return &BackoffRepository{db: db}
}

// Upsert records one more failure in a single statement so concurrent writers
// never lose an increment. The delay is picked from the schedule by the new count.
func (r *BackoffRepository) Upsert(ctx context.Context, documentID int64, lastError string, now time.Time, schedule []time.Duration) (int, time.Time, error) {
	if len(schedule) == 0 {
		schedule = domain.DefaultBackoffSchedule
	}
	delayCase, caseArgs := delayCaseExpr(schedule)
	nowMS := toMillis(now)

	query := `
INSERT INTO backoff_entries (document_id, attempts, last_error, next_retry_at, created_at, updated_at)
VALUES (?, 1, ?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
	attempts = backoff_entries.attempts + 1,
	last_error = excluded.last_error,
	next_retry_at = excluded.updated_at + ` + delayCase + `,
	updated_at = excluded.updated_at
RETURNING attempts, next_retry_at
`
	args := []any{documentID, lastError, nowMS + domain.BackoffDelay(schedule, 1).Milliseconds(), nowMS, nowMS}
	args = append(args, caseArgs...)

	var attempts int
	var nextMS int64
	if err := r.db.queryRow(ctx, query, args...).Scan(&attempts, &nextMS); err != nil {
		return 0, time.Time{}, errors.Wrapf(err, "upsert backoff entry %d", documentID)
	}
	return attempts, fromMillis(nextMS), nil
}

// delayCaseExpr maps the incremented attempt count onto the schedule; the last
// step repeats for every later attempt.
func delayCaseExpr(schedule []time.Duration) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, 2*len(schedule))
	b.WriteString("CASE")
	for i, step := range schedule[:len(schedule)-1] {
		b.WriteString(" WHEN backoff_entries.attempts + 1 <= CAST(? AS BIGINT) THEN CAST(? AS BIGINT)")
		args = append(args, int64(i+1), step.Milliseconds())
	}
	b.WriteString(" ELSE CAST(? AS BIGINT) END")
	args = append(args, schedule[len(schedule)-1].Milliseconds())
	return b.String(), args
}

const backoffColumns = `document_id, attempts, last_error, next_retry_at, created_at, updated_at`

func (r *BackoffRepository) Get(ctx context.Context, documentID int64) (*domain.BackoffEntry, error) {
	row := r.db.queryRow(ctx, `SELECT `+backoffColumns+` FROM backoff_entries WHERE document_id = ?`, documentID)
	entry, err := scanBackoff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get backoff entry %d", documentID)
	}
	return &entry, nil
}

func (r *BackoffRepository) ListReady(ctx context.Context, now time.Time) ([]domain.BackoffEntry, error) {
	return r.list(ctx, `SELECT `+backoffColumns+` FROM backoff_entries WHERE next_retry_at <= ? ORDER BY next_retry_at, document_id`, toMillis(now))
}

func (r *BackoffRepository) List(ctx context.Context) ([]domain.BackoffEntry, error) {
	return r.list(ctx, `SELECT `+backoffColumns+` FROM backoff_entries ORDER BY next_retry_at, document_id`)
}

func (r *BackoffRepository) list(ctx context.Context, query string, args ...any) ([]domain.BackoffEntry, error) {
	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list backoff entries")
	}
	defer rows.Close()

	out := make([]domain.BackoffEntry, 0)
	for rows.Next() {
		entry, err := scanBackoff(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan backoff entry")
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate backoff entries")
	}
	return out, nil
}

func (r *BackoffRepository) Delete(ctx context.Context, documentID int64) error {
	if _, err := r.db.exec(ctx, `DELETE FROM backoff_entries WHERE document_id = ?`, documentID); err != nil {
		return errors.Wrapf(err, "delete backoff entry %d", documentID)
	}
	return nil
}

// ResetAll makes every entry due now with a fresh attempt budget.
func (r *BackoffRepository) ResetAll(ctx context.Context, now time.Time) (int, error) {
	nowMS := toMillis(now)
	res, err := r.db.exec(ctx, `UPDATE backoff_entries SET attempts = 0, next_retry_at = ?, updated_at = ?`, nowMS, nowMS)
	if err != nil {
		return 0, errors.Wrap(err, "reset backoff entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "reset backoff rows affected")
	}
	return int(n), nil
}

func (r *BackoffRepository) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.db.exec(ctx, `DELETE FROM backoff_entries`)
	if err != nil {
		return 0, errors.Wrap(err, "clear backoff entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "clear backoff rows affected")
	}
	return int(n), nil
}

func (r *BackoffRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM backoff_entries`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count backoff entries")
	}
	return n, nil
}

func scanBackoff(row rowScanner) (domain.BackoffEntry, error) {
	var entry domain.BackoffEntry
	var next, created, updated int64
	if err := row.Scan(&entry.DocumentID, &entry.Attempts, &entry.LastError, &next, &created, &updated); err != nil {
		return domain.BackoffEntry{}, err
	}
	entry.NextRetryAt = fromMillis(next)
	entry.CreatedAt = fromMillis(created)
	entry.UpdatedAt = fromMillis(updated)
	return entry, nil
}

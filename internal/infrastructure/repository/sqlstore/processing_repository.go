package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type ProcessingRepository struct {
	db *DB
}

func NewProcessingRepository(db *DB) *ProcessingRepository {
	return &ProcessingRepository{db: db}
}

const processingColumns = `id, document_id, workflow_slug, status, progress, attempts, message, extracted_payload, created_at, updated_at`

func (r *ProcessingRepository) Latest(ctx context.Context, documentID int64) (*domain.ProcessingRecord, error) {
	row := r.db.queryRow(ctx, `
SELECT `+processingColumns+`
FROM processing_records
WHERE document_id = ?
ORDER BY id DESC
LIMIT 1
`, documentID)
	rec, err := scanProcessing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get latest processing record for %d", documentID)
	}
	return &rec, nil
}

func (r *ProcessingRepository) Insert(ctx context.Context, rec *domain.ProcessingRecord) error {
	row := r.db.queryRow(ctx, `
INSERT INTO processing_records (document_id, workflow_slug, status, progress, attempts, message, extracted_payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`, rec.DocumentID, rec.WorkflowSlug, string(rec.Status), rec.Progress, rec.Attempts, rec.Message,
		nullString(string(rec.ExtractedPayload)), toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt))
	if err := row.Scan(&rec.ID); err != nil {
		return errors.Wrapf(err, "insert processing record for %d", rec.DocumentID)
	}
	return nil
}

func (r *ProcessingRepository) Update(ctx context.Context, rec *domain.ProcessingRecord) error {
	res, err := r.db.exec(ctx, `
UPDATE processing_records
SET workflow_slug = ?, status = ?, progress = ?, attempts = ?, message = ?, extracted_payload = ?, updated_at = ?
WHERE id = ?
`, rec.WorkflowSlug, string(rec.Status), rec.Progress, rec.Attempts, rec.Message,
		nullString(string(rec.ExtractedPayload)), toMillis(rec.UpdatedAt), rec.ID)
	if err != nil {
		return errors.Wrapf(err, "update processing record %d", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update processing record rows affected")
	}
	if n == 0 {
		return errors.Newf("processing record not found: id=%d", rec.ID)
	}
	return nil
}

func (r *ProcessingRepository) ListRecent(ctx context.Context, limit int) ([]domain.ProcessingRecord, error) {
	rows, err := r.db.query(ctx, `
SELECT `+processingColumns+`
FROM processing_records
ORDER BY updated_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list processing records")
	}
	defer rows.Close()

	out := make([]domain.ProcessingRecord, 0)
	for rows.Next() {
		rec, err := scanProcessing(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan processing record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate processing records")
	}
	return out, nil
}

func scanProcessing(row rowScanner) (domain.ProcessingRecord, error) {
	var rec domain.ProcessingRecord
	var status string
	var payload sql.NullString
	var created, updated int64
	err := row.Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.WorkflowSlug,
		&status,
		&rec.Progress,
		&rec.Attempts,
		&rec.Message,
		&payload,
		&created,
		&updated,
	)
	if err != nil {
		return domain.ProcessingRecord{}, err
	}
	rec.Status = domain.ProcessingStatus(status)
	if payload.Valid {
		rec.ExtractedPayload = json.RawMessage(payload.String)
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}

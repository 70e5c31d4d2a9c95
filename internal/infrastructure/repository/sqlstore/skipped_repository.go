package sqlstore

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type SkippedRepository struct {
	db *DB
}

func NewSkippedRepository(db *DB) *SkippedRepository {
	return &SkippedRepository{db: db}
}

func (r *SkippedRepository) Upsert(ctx context.Context, entry domain.SkippedEntry) error {
	_, err := r.db.exec(ctx, `
INSERT INTO skipped_documents (document_id, reason, file_name, skipped_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
	reason = excluded.reason,
	file_name = excluded.file_name,
	skipped_at = excluded.skipped_at
`, entry.DocumentID, entry.Reason, entry.FileName, toMillis(entry.SkippedAt))
	if err != nil {
		return errors.Wrapf(err, "upsert skipped document %d", entry.DocumentID)
	}
	return nil
}

func (r *SkippedRepository) Exists(ctx context.Context, documentID int64) (bool, error) {
	var n int
	if err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM skipped_documents WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return false, errors.Wrapf(err, "check skipped document %d", documentID)
	}
	return n > 0, nil
}

func (r *SkippedRepository) Delete(ctx context.Context, documentID int64) error {
	if _, err := r.db.exec(ctx, `DELETE FROM skipped_documents WHERE document_id = ?`, documentID); err != nil {
		return errors.Wrapf(err, "delete skipped document %d", documentID)
	}
	return nil
}

func (r *SkippedRepository) List(ctx context.Context) ([]domain.SkippedEntry, error) {
	rows, err := r.db.query(ctx, `
SELECT document_id, reason, file_name, skipped_at
FROM skipped_documents
ORDER BY skipped_at DESC, document_id
`)
	if err != nil {
		return nil, errors.Wrap(err, "list skipped documents")
	}
	defer rows.Close()

	out := make([]domain.SkippedEntry, 0)
	for rows.Next() {
		var entry domain.SkippedEntry
		var at int64
		if err := rows.Scan(&entry.DocumentID, &entry.Reason, &entry.FileName, &at); err != nil {
			return nil, errors.Wrap(err, "scan skipped document")
		}
		entry.SkippedAt = fromMillis(at)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate skipped documents")
	}
	return out, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type WorkflowRepository struct {
	db *DB
}

func NewWorkflowRepository(db *DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `id, slug, name, trigger_label, priority, enabled, schema_source, extraction_schema,
prompt_instructions, title_template, output_mapping, processed_label, failed_label, skipped_label,
is_built_in, created_at, updated_at`

func (r *WorkflowRepository) Create(ctx context.Context, wf *domain.Workflow) error {
	mapping, err := json.Marshal(wf.OutputMapping)
	if err != nil {
		return errors.Wrap(err, "marshal output mapping")
	}
	row := r.db.queryRow(ctx, `
INSERT INTO workflows (slug, name, trigger_label, priority, enabled, schema_source, extraction_schema,
	prompt_instructions, title_template, output_mapping, processed_label, failed_label, skipped_label,
	is_built_in, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`, wf.Slug, wf.Name, wf.TriggerLabel, wf.Priority, wf.Enabled, wf.SchemaSource, string(wf.ExtractionSchema),
		wf.PromptInstructions, wf.TitleTemplate, string(mapping), wf.ProcessedLabel, wf.FailedLabel, wf.SkippedLabel,
		wf.IsBuiltIn, toMillis(wf.CreatedAt), toMillis(wf.UpdatedAt))
	if err := row.Scan(&wf.ID); err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create workflow", errors.Newf("slug %q already exists", wf.Slug))
		}
		return errors.Wrapf(err, "insert workflow %s", wf.Slug)
	}
	return nil
}

func (r *WorkflowRepository) Update(ctx context.Context, wf *domain.Workflow) error {
	mapping, err := json.Marshal(wf.OutputMapping)
	if err != nil {
		return errors.Wrap(err, "marshal output mapping")
	}
	res, err := r.db.exec(ctx, `
UPDATE workflows
SET name = ?, trigger_label = ?, priority = ?, enabled = ?, schema_source = ?, extraction_schema = ?,
	prompt_instructions = ?, title_template = ?, output_mapping = ?, processed_label = ?, failed_label = ?,
	skipped_label = ?, updated_at = ?
WHERE slug = ?
`, wf.Name, wf.TriggerLabel, wf.Priority, wf.Enabled, wf.SchemaSource, string(wf.ExtractionSchema),
		wf.PromptInstructions, wf.TitleTemplate, string(mapping), wf.ProcessedLabel, wf.FailedLabel,
		wf.SkippedLabel, toMillis(wf.UpdatedAt), wf.Slug)
	if err != nil {
		return errors.Wrapf(err, "update workflow %s", wf.Slug)
	}
	return requireRow(res, "update workflow", wf.Slug)
}

func (r *WorkflowRepository) Delete(ctx context.Context, slug string) error {
	res, err := r.db.exec(ctx, `DELETE FROM workflows WHERE slug = ?`, slug)
	if err != nil {
		return errors.Wrapf(err, "delete workflow %s", slug)
	}
	return requireRow(res, "delete workflow", slug)
}

func (r *WorkflowRepository) GetBySlug(ctx context.Context, slug string) (*domain.Workflow, error) {
	row := r.db.queryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE slug = ?`, slug)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrWorkflowNotFound, "get workflow", errors.Newf("slug %q", slug))
		}
		return nil, errors.Wrapf(err, "get workflow %s", slug)
	}
	return &wf, nil
}

func (r *WorkflowRepository) List(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := r.db.query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY priority DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list workflows")
	}
	defer rows.Close()

	out := make([]domain.Workflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan workflow")
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate workflows")
	}
	return out, nil
}

func requireRow(res sql.Result, op, slug string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s rows affected", op)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrWorkflowNotFound, op, errors.Newf("slug %q", slug))
	}
	return nil
}

func scanWorkflow(row rowScanner) (domain.Workflow, error) {
	var wf domain.Workflow
	var extraction, mapping string
	var created, updated int64
	err := row.Scan(
		&wf.ID,
		&wf.Slug,
		&wf.Name,
		&wf.TriggerLabel,
		&wf.Priority,
		&wf.Enabled,
		&wf.SchemaSource,
		&extraction,
		&wf.PromptInstructions,
		&wf.TitleTemplate,
		&mapping,
		&wf.ProcessedLabel,
		&wf.FailedLabel,
		&wf.SkippedLabel,
		&wf.IsBuiltIn,
		&created,
		&updated,
	)
	if err != nil {
		return domain.Workflow{}, err
	}
	wf.ExtractionSchema = json.RawMessage(extraction)
	if mapping != "" {
		if err := json.Unmarshal([]byte(mapping), &wf.OutputMapping); err != nil {
			return domain.Workflow{}, errors.Wrapf(err, "decode output mapping of %s", wf.Slug)
		}
	}
	wf.CreatedAt = fromMillis(created)
	wf.UpdatedAt = fromMillis(updated)
	return wf, nil
}

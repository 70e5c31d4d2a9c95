package sqlstore

import "strings"

// Timestamps are unix milliseconds in both dialects.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS backoff_entries (
	document_id BIGINT PRIMARY KEY,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	next_retry_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backoff_next_retry ON backoff_entries(next_retry_at);
CREATE TABLE IF NOT EXISTS processing_records (
	id {{autoid}},
	document_id BIGINT NOT NULL,
	workflow_slug TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	extracted_payload TEXT,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_document ON processing_records(document_id, id);
CREATE INDEX IF NOT EXISTS idx_processing_updated ON processing_records(updated_at);
CREATE TABLE IF NOT EXISTS skipped_documents (
	document_id BIGINT PRIMARY KEY,
	reason TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	skipped_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS workflows (
	id {{autoid}},
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	trigger_label TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	schema_source TEXT NOT NULL DEFAULT '',
	extraction_schema TEXT NOT NULL,
	prompt_instructions TEXT NOT NULL DEFAULT '',
	title_template TEXT NOT NULL DEFAULT '',
	output_mapping TEXT NOT NULL DEFAULT '{}',
	processed_label TEXT NOT NULL,
	failed_label TEXT NOT NULL DEFAULT '',
	skipped_label TEXT NOT NULL DEFAULT '',
	is_built_in BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS worker_state (
	id INTEGER PRIMARY KEY,
	is_paused BOOLEAN NOT NULL DEFAULT FALSE,
	paused_at BIGINT,
	pause_reason TEXT NOT NULL DEFAULT '',
	scan_requested_at BIGINT,
	last_scan_started_at BIGINT,
	last_scan_completed_at BIGINT,
	last_scan_summary TEXT,
	cycle_owner TEXT NOT NULL DEFAULT '',
	cycle_lease_until BIGINT
);
INSERT INTO worker_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

func schemaStatements(dialect Dialect) []string {
	autoID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == DialectPostgres {
		autoID = "BIGSERIAL PRIMARY KEY"
	}
	ddl := strings.ReplaceAll(schemaTemplate, "{{autoid}}", autoID)

	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

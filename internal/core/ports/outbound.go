package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// DocumentStore reads and writes documents in the external document-management system.
type DocumentStore interface {
	ListDocuments(ctx context.Context, query domain.DocumentQuery) ([]domain.Document, error)
	GetDocument(ctx context.Context, id int64) (*domain.Document, error)
	Thumbnail(ctx context.Context, id int64) (domain.Blob, error)
	Download(ctx context.Context, id int64) (domain.Blob, error)
	UpdateDocument(ctx context.Context, id int64, update domain.DocumentUpdate) error
	AddNote(ctx context.Context, id int64, note string) error
}

// EntityStore manages named store entities (labels, correspondents, custom fields).
type EntityStore interface {
	ListEntities(ctx context.Context, kind domain.EntityKind) ([]domain.Entity, error)
	FindEntity(ctx context.Context, kind domain.EntityKind, name string) (*domain.Entity, error)
	CreateEntity(ctx context.Context, kind domain.EntityKind, name string, attrs map[string]any) (*domain.Entity, error)
}

// ExtractionRequest is one vision extraction call.
type ExtractionRequest struct {
	Schema         []byte
	Instructions   string
	Image          []byte
	ImageMIME      string
	Text           string
	ExistingLabels []string
}

// Extractor turns a document image (or text layer) into zero or more schema-shaped items.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) ([]map[string]any, error)
}

// PDFTextExtractor reads the text layer of a PDF.
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// BackoffRepository persists retry bookkeeping keyed by document id.
type BackoffRepository interface {
	Upsert(ctx context.Context, documentID int64, lastError string, now time.Time, schedule []time.Duration) (int, time.Time, error)
	Get(ctx context.Context, documentID int64) (*domain.BackoffEntry, error)
	ListReady(ctx context.Context, now time.Time) ([]domain.BackoffEntry, error)
	List(ctx context.Context) ([]domain.BackoffEntry, error)
	Delete(ctx context.Context, documentID int64) error
	ResetAll(ctx context.Context, now time.Time) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// ProcessingRepository persists per-document processing records.
type ProcessingRepository interface {
	Latest(ctx context.Context, documentID int64) (*domain.ProcessingRecord, error)
	Insert(ctx context.Context, rec *domain.ProcessingRecord) error
	Update(ctx context.Context, rec *domain.ProcessingRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.ProcessingRecord, error)
}

// SkippedRepository persists documents that yielded no data.
type SkippedRepository interface {
	Upsert(ctx context.Context, entry domain.SkippedEntry) error
	Exists(ctx context.Context, documentID int64) (bool, error)
	Delete(ctx context.Context, documentID int64) error
	List(ctx context.Context) ([]domain.SkippedEntry, error)
}

// WorkflowRepository persists workflow definitions.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, slug string) error
	GetBySlug(ctx context.Context, slug string) (*domain.Workflow, error)
	List(ctx context.Context) ([]domain.Workflow, error)
}

// WorkerStateRepository persists the single worker state row shared across processes.
type WorkerStateRepository interface {
	Get(ctx context.Context) (domain.WorkerState, error)
	SetPaused(ctx context.Context, paused bool, reason string, at time.Time) error
	RequestScan(ctx context.Context, at time.Time) error
	MarkScanStarted(ctx context.Context, at time.Time) error
	MarkScanCompleted(ctx context.Context, summary domain.ScanSummary) error
	AcquireCycleLease(ctx context.Context, owner string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseCycleLease(ctx context.Context, owner string) error
}

// EventPublisher broadcasts lifecycle events to external observers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}

// ScanTrigger wakes the scan loop early.
type ScanTrigger interface {
	PublishScanRequest(ctx context.Context) error
	SubscribeScanRequests(ctx context.Context, handler func()) error
}

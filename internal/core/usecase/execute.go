package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/core/schema"
)

// ExecutionObserver receives per-document timing and outcomes.
type ExecutionObserver interface {
	StartDocument()
	FinishDocument(workflow string, outcome domain.Outcome, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) StartDocument()                                       {}
func (nopObserver) FinishDocument(string, domain.Outcome, time.Duration) {}

type ExecuteDeps struct {
	Store     ports.DocumentStore
	Extractor ports.Extractor
	PDFText   ports.PDFTextExtractor
	Resolver  *EntityResolver
	Backoff   *BackoffQueue
	Skipped   ports.SkippedRepository
	Reporter  *EventReporter
	Observer  ExecutionObserver
}

// ExecuteWorkflowUseCase runs one workflow against one document and converges the
// document to success, skip, retry or failed.
type ExecuteWorkflowUseCase struct {
	store     ports.DocumentStore
	extractor ports.Extractor
	pdfText   ports.PDFTextExtractor
	resolver  *EntityResolver
	backoff   *BackoffQueue
	skipped   ports.SkippedRepository
	reporter  *EventReporter
	observer  ExecutionObserver

	defaultStrategy domain.RetryStrategy
	logger          *zap.SugaredLogger
	now             func() time.Time
}

func NewExecuteWorkflowUseCase(deps ExecuteDeps, defaultStrategy domain.RetryStrategy, logger *zap.SugaredLogger) *ExecuteWorkflowUseCase {
	if defaultStrategy == "" {
		defaultStrategy = domain.RetryPartial
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &ExecuteWorkflowUseCase{
		store:           deps.Store,
		extractor:       deps.Extractor,
		pdfText:         deps.PDFText,
		resolver:        deps.Resolver,
		backoff:         deps.Backoff,
		skipped:         deps.Skipped,
		reporter:        deps.Reporter,
		observer:        observer,
		defaultStrategy: defaultStrategy,
		logger:          logger.Named("execute"),
		now:             time.Now,
	}
}

type runResult struct {
	outcome domain.Outcome
	payload json.RawMessage
}

// Execute never returns an error: every failure is routed to the backoff queue or
// to the workflow's failed label.
func (uc *ExecuteWorkflowUseCase) Execute(ctx context.Context, documentID int64, wf domain.Workflow, strategy domain.RetryStrategy) (outcome domain.Outcome) {
	if strategy == "" {
		strategy = uc.defaultStrategy
	}
	started := uc.now()
	uc.observer.StartDocument()
	defer func() {
		uc.observer.FinishDocument(wf.Slug, outcome, uc.now().Sub(started))
	}()

	res, err := uc.runSafely(ctx, documentID, wf, strategy)
	if err != nil {
		return uc.handleFailure(ctx, documentID, wf, err)
	}
	return res.outcome
}

func (uc *ExecuteWorkflowUseCase) runSafely(ctx context.Context, documentID int64, wf domain.Workflow, strategy domain.RetryStrategy) (res runResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic while processing document: %v", r)
		}
	}()
	return uc.run(ctx, documentID, wf, strategy)
}

func (uc *ExecuteWorkflowUseCase) run(ctx context.Context, documentID int64, wf domain.Workflow, strategy domain.RetryStrategy) (runResult, error) {
	// Reuse is decided before reporting, which rewrites the current record.
	items, payload, reused := uc.reusablePayload(ctx, documentID, strategy)
	uc.report(ctx, wf, documentID, domain.EventProcessing, 10, "processing started", nil)

	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return runResult{}, err
	}
	if !reused {
		items, err = uc.extract(ctx, doc, wf)
		if err != nil {
			return runResult{}, err
		}
		if len(items) == 0 {
			if err := uc.skip(ctx, doc, wf); err != nil {
				return runResult{}, err
			}
			return runResult{outcome: domain.OutcomeSkipped}, nil
		}
		payload, err = encodePayload(items)
		if err != nil {
			return runResult{}, err
		}
		uc.report(ctx, wf, documentID, domain.EventProcessing, 50, "data extracted", payload)
	} else {
		uc.logger.Infow("reusing extracted payload", "document_id", documentID, "workflow", wf.Slug)
	}

	update, err := uc.mapOutputs(ctx, doc, wf, items, payload)
	if err != nil {
		return runResult{}, err
	}
	if err := uc.store.UpdateDocument(ctx, documentID, update); err != nil {
		return runResult{}, errors.Wrap(err, "apply document update")
	}
	if err := uc.store.AddNote(ctx, documentID, NoteText(wf.Name, items, payload)); err != nil {
		uc.logger.Warnw("add note failed", "document_id", documentID, "workflow", wf.Slug, "error", err)
	}

	uc.report(ctx, wf, documentID, domain.EventSuccess, 100, "document updated", payload)
	if err := uc.backoff.Remove(ctx, documentID); err != nil {
		uc.logger.Warnw("remove backoff entry failed", "document_id", documentID, "error", err)
	}
	uc.logger.Infow("document processed", "document_id", documentID, "workflow", wf.Slug, "items", len(items))
	return runResult{outcome: domain.OutcomeSuccess, payload: payload}, nil
}

func (uc *ExecuteWorkflowUseCase) loadDocument(ctx context.Context, documentID int64) (*domain.Document, error) {
	doc, err := uc.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch document")
	}
	return doc, nil
}

// reusablePayload returns the payload of an unfinished run under the partial
// strategy. Terminal records never qualify.
func (uc *ExecuteWorkflowUseCase) reusablePayload(ctx context.Context, documentID int64, strategy domain.RetryStrategy) ([]map[string]any, json.RawMessage, bool) {
	if strategy != domain.RetryPartial {
		return nil, nil, false
	}
	rec, err := uc.reporter.LatestRecord(ctx, documentID)
	if err != nil {
		uc.logger.Warnw("load processing record failed", "document_id", documentID, "error", err)
		return nil, nil, false
	}
	if !rec.Reusable() {
		return nil, nil, false
	}
	items, err := decodePayload(rec.ExtractedPayload)
	if err != nil || len(items) == 0 {
		uc.logger.Warnw("stored payload unusable, extracting again", "document_id", documentID, "error", err)
		return nil, nil, false
	}
	return items, rec.ExtractedPayload, true
}

func (uc *ExecuteWorkflowUseCase) extract(ctx context.Context, doc *domain.Document, wf domain.Workflow) ([]map[string]any, error) {
	compiled, err := schema.Load(wf.ExtractionSchema)
	if err != nil {
		return nil, errors.Wrapf(err, "load schema for workflow %s", wf.Slug)
	}

	req := ports.ExtractionRequest{
		Schema:       compiled.JSON(),
		Instructions: wf.PromptInstructions,
	}
	if err := uc.attachSource(ctx, doc, &req); err != nil {
		return nil, err
	}
	if labels, err := uc.resolver.Names(ctx, domain.EntityTag, doc.TagIDs); err != nil {
		uc.logger.Debugw("resolve existing labels failed", "document_id", doc.ID, "error", err)
	} else {
		req.ExistingLabels = labels
	}

	items, err := uc.extractor.Extract(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "extract data")
	}
	for i, item := range items {
		if err := compiled.ValidateItem(item); err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
	}
	return items, nil
}

// attachSource loads the thumbnail, falling back to the original file. PDFs are
// sent as their text layer.
func (uc *ExecuteWorkflowUseCase) attachSource(ctx context.Context, doc *domain.Document, req *ports.ExtractionRequest) error {
	blob, err := uc.store.Thumbnail(ctx, doc.ID)
	if err != nil || len(blob.Data) == 0 {
		uc.logger.Debugw("thumbnail unavailable, downloading original", "document_id", doc.ID, "error", err)
		blob, err = uc.store.Download(ctx, doc.ID)
		if err != nil {
			return errors.Wrap(err, "fetch document image")
		}
	}

	if blob.IsPDF() {
		if uc.pdfText == nil {
			return domain.WrapError(domain.ErrInvalidInput, "fetch document image", errors.New("only a PDF is available and no text extractor is configured"))
		}
		text, err := uc.pdfText.ExtractText(ctx, blob.Data)
		if err != nil {
			return errors.Wrap(err, "extract pdf text")
		}
		if strings.TrimSpace(text) == "" {
			text = doc.Content
		}
		if strings.TrimSpace(text) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "extract pdf text", errors.New("pdf has no text layer"))
		}
		req.Text = text
		return nil
	}

	req.Image = blob.Data
	req.ImageMIME = blob.ContentType
	return nil
}

func (uc *ExecuteWorkflowUseCase) mapOutputs(ctx context.Context, doc *domain.Document, wf domain.Workflow, items []map[string]any, payload json.RawMessage) (domain.DocumentUpdate, error) {
	primary := items[0]
	mapping := wf.OutputMapping
	var update domain.DocumentUpdate

	if wf.TitleTemplate != "" {
		if title := RenderTitle(wf.TitleTemplate, primary); title != "" {
			update.Title = &title
		}
	}
	if mapping.DateField != "" {
		if date := formatValue(primary[mapping.DateField]); date != "" {
			update.Created = &date
		}
	}
	if mapping.CorrespondentField != "" {
		if name := formatValue(primary[mapping.CorrespondentField]); name != "" {
			id, err := uc.resolver.Ensure(ctx, domain.EntityCorrespondent, name, nil)
			if err != nil {
				return update, errors.Wrap(err, "resolve correspondent")
			}
			update.CorrespondentID = &id
		}
	}

	tags, err := uc.mapLabels(ctx, doc, wf, primary)
	if err != nil {
		return update, err
	}
	update.TagIDs = tags

	fields, err := uc.mapCustomFields(ctx, doc, mapping, primary, payload)
	if err != nil {
		return update, err
	}
	update.CustomFields = fields

	if mapping.WriteContent {
		content := RenderContent(doc.Content, items)
		update.Content = &content
	}
	return update, nil
}

func (uc *ExecuteWorkflowUseCase) mapLabels(ctx context.Context, doc *domain.Document, wf domain.Workflow, item map[string]any) ([]int64, error) {
	mapping := wf.OutputMapping
	names := []string{wf.ProcessedLabel}
	names = append(names, mapping.TagsToApply...)
	for _, field := range mapping.TagFields {
		names = append(names, stringList(item[field])...)
	}
	if mapping.SuggestedTagsField != "" {
		names = append(names, stringList(item[mapping.SuggestedTagsField])...)
	}

	drop := make(map[int64]struct{})
	for _, stale := range []string{wf.FailedLabel, wf.SkippedLabel} {
		if stale == "" {
			continue
		}
		if id, found, err := uc.resolver.Resolve(ctx, domain.EntityTag, stale); err == nil && found {
			drop[id] = struct{}{}
		}
	}

	out := make([]int64, 0, len(doc.TagIDs)+len(names))
	seen := make(map[int64]struct{})
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		if _, ok := drop[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range doc.TagIDs {
		add(id)
	}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		id, err := uc.resolver.Ensure(ctx, domain.EntityTag, name, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve label %q", name)
		}
		add(id)
	}
	return out, nil
}

func (uc *ExecuteWorkflowUseCase) mapCustomFields(ctx context.Context, doc *domain.Document, mapping domain.OutputMapping, item map[string]any, payload json.RawMessage) ([]domain.CustomFieldValue, error) {
	if len(mapping.CustomFields) == 0 {
		return nil, nil
	}

	values := make(map[int64]any)
	var order []int64
	for _, cf := range doc.CustomFields {
		if _, ok := values[cf.FieldID]; !ok {
			order = append(order, cf.FieldID)
		}
		values[cf.FieldID] = cf.Value
	}

	for _, storeField := range mapping.SortedCustomFields() {
		source := mapping.CustomFields[storeField]
		dataType := mapping.CustomFieldType(storeField)

		var value any
		if source == domain.AllFieldsSentinel {
			value = string(payload)
		} else {
			raw, ok := item[source]
			if !ok || raw == nil {
				continue
			}
			value = raw
			if dataType == domain.CustomFieldTypeLongText || dataType == "string" {
				value = formatValue(raw)
			}
		}

		id, err := uc.resolver.Ensure(ctx, domain.EntityCustomField, storeField, map[string]any{"data_type": dataType})
		if err != nil {
			return nil, errors.Wrapf(err, "resolve custom field %q", storeField)
		}
		if _, ok := values[id]; !ok {
			order = append(order, id)
		}
		values[id] = value
	}

	out := make([]domain.CustomFieldValue, 0, len(order))
	for _, id := range order {
		out = append(out, domain.CustomFieldValue{FieldID: id, Value: values[id]})
	}
	return out, nil
}

func (uc *ExecuteWorkflowUseCase) skip(ctx context.Context, doc *domain.Document, wf domain.Workflow) error {
	if wf.SkippedLabel != "" {
		if err := uc.addLabel(ctx, doc.ID, wf.SkippedLabel); err != nil {
			return errors.Wrap(err, "apply skipped label")
		}
	}
	entry := domain.SkippedEntry{
		DocumentID: doc.ID,
		Reason:     domain.SkipReasonNoData,
		FileName:   doc.OriginalFileName,
		SkippedAt:  uc.now().UTC(),
	}
	if err := uc.skipped.Upsert(ctx, entry); err != nil {
		return errors.Wrap(err, "record skipped document")
	}
	uc.report(ctx, wf, doc.ID, domain.EventSkipped, 100, domain.SkipReasonNoData, nil)
	if err := uc.backoff.Remove(ctx, doc.ID); err != nil {
		uc.logger.Warnw("remove backoff entry failed", "document_id", doc.ID, "error", err)
	}
	uc.logger.Infow("document skipped", "document_id", doc.ID, "workflow", wf.Slug, "reason", domain.SkipReasonNoData)
	return nil
}

func (uc *ExecuteWorkflowUseCase) handleFailure(ctx context.Context, documentID int64, wf domain.Workflow, cause error) domain.Outcome {
	attempts, next, err := uc.backoff.Add(ctx, documentID, cause)
	if err != nil {
		uc.logger.Errorw("record failure in backoff queue failed", "document_id", documentID, "cause", cause, "error", err)
		uc.report(ctx, wf, documentID, domain.EventRetry, 0, cause.Error(), nil)
		return domain.OutcomeRetry
	}

	giveUp, err := uc.backoff.ShouldGiveUp(ctx, documentID)
	if err != nil {
		uc.logger.Warnw("check retry budget failed", "document_id", documentID, "error", err)
		giveUp = attempts >= uc.backoff.MaxRetries()
	}

	if !giveUp {
		uc.logger.Warnw("document processing failed, will retry",
			"document_id", documentID,
			"workflow", wf.Slug,
			"attempts", attempts,
			"next_retry_at", next,
			"error", cause,
		)
		uc.reportRetry(ctx, wf, documentID, attempts, next, cause)
		return domain.OutcomeRetry
	}

	if wf.FailedLabel != "" {
		if err := uc.addLabel(ctx, documentID, wf.FailedLabel); err != nil {
			uc.logger.Warnw("apply failed label failed", "document_id", documentID, "label", wf.FailedLabel, "error", err)
		}
	}
	if err := uc.backoff.Remove(ctx, documentID); err != nil {
		uc.logger.Warnw("remove backoff entry failed", "document_id", documentID, "error", err)
	}
	uc.logger.Errorw("document processing failed permanently",
		"document_id", documentID,
		"workflow", wf.Slug,
		"attempts", attempts,
		"error", cause,
	)
	uc.reporter.Report(ctx, domain.Event{
		Type:         domain.EventFailed,
		DocumentID:   documentID,
		WorkflowSlug: wf.Slug,
		Progress:     100,
		Attempts:     attempts,
		Message:      fmt.Sprintf("gave up after %d attempts: %v", attempts, cause),
	})
	return domain.OutcomeFailed
}

// addLabel attaches a label if the document does not carry it yet.
func (uc *ExecuteWorkflowUseCase) addLabel(ctx context.Context, documentID int64, label string) error {
	id, err := uc.resolver.Ensure(ctx, domain.EntityTag, label, nil)
	if err != nil {
		return err
	}
	doc, err := uc.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.HasTag(id) {
		return nil
	}
	tags := append(append([]int64(nil), doc.TagIDs...), id)
	return uc.store.UpdateDocument(ctx, documentID, domain.DocumentUpdate{TagIDs: tags})
}

func (uc *ExecuteWorkflowUseCase) report(ctx context.Context, wf domain.Workflow, documentID int64, typ domain.EventType, progress int, msg string, payload json.RawMessage) {
	uc.reporter.Report(ctx, domain.Event{
		Type:         typ,
		DocumentID:   documentID,
		WorkflowSlug: wf.Slug,
		Progress:     progress,
		Message:      msg,
		Payload:      payload,
	})
}

func (uc *ExecuteWorkflowUseCase) reportRetry(ctx context.Context, wf domain.Workflow, documentID int64, attempts int, next time.Time, cause error) {
	nextAt := next
	uc.reporter.Report(ctx, domain.Event{
		Type:         domain.EventRetry,
		DocumentID:   documentID,
		WorkflowSlug: wf.Slug,
		Attempts:     attempts,
		Message:      cause.Error(),
		NextRetryAt:  &nextAt,
	})
}

func encodePayload(items []map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(err, "encode extracted payload")
	}
	return raw, nil
}

func decodePayload(raw json.RawMessage) ([]map[string]any, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, errors.Wrap(err, "decode extracted payload")
	}
	return []map[string]any{single}, nil
}

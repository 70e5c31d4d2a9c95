package usecase

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/schema"
)

const receiptSchema = `
type: object
required: [vendor, amount]
properties:
  vendor: {type: string}
  amount: {type: number}
  currency: {type: string}
  date: {type: string}
  category: {type: string}
  suggested_tags:
    type: array
    items: {type: string}
`

func receiptWorkflow(t *testing.T) domain.Workflow {
	t.Helper()
	compiled, err := schema.Compile(receiptSchema)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return domain.Workflow{
		ID:               1,
		Name:             "Receipts",
		Slug:             "receipts",
		TriggerLabel:     "receipt",
		Enabled:          true,
		SchemaSource:     receiptSchema,
		ExtractionSchema: compiled.JSON(),
		TitleTemplate:    "{vendor} - {amount} {currency}",
		OutputMapping: domain.OutputMapping{
			CorrespondentField: "vendor",
			DateField:          "date",
			TagFields:          []string{"category"},
			SuggestedTagsField: "suggested_tags",
			CustomFields:       map[string]string{"Extracted Data": domain.AllFieldsSentinel, "Vendor": "vendor"},
		},
		ProcessedLabel: "receipt-done",
		FailedLabel:    "receipt-failed",
		SkippedLabel:   "receipt-skipped",
	}
}

type pipeline struct {
	clock     *fakeClock
	store     *storeFake
	extractor *extractorFake
	backoff   *BackoffQueue
	backoffDB *backoffRepoFake
	records   *processingRepoFake
	skipped   *skippedRepoFake
	publisher *publisherFake
	resolver  *EntityResolver
	reporter  *EventReporter
	exec      *ExecuteWorkflowUseCase
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	p := &pipeline{
		clock:     newFakeClock(),
		store:     newStoreFake(),
		extractor: &extractorFake{},
		backoffDB: newBackoffRepoFake(),
		records:   &processingRepoFake{},
		skipped:   newSkippedRepoFake(),
		publisher: &publisherFake{},
	}
	p.backoff = NewBackoffQueue(p.backoffDB, WithBackoffClock(p.clock.Now))
	p.resolver = NewEntityResolver(p.store, 0, 0, logger)
	p.reporter = NewEventReporter(p.records, logger, p.publisher)
	p.exec = NewExecuteWorkflowUseCase(ExecuteDeps{
		Store:     p.store,
		Extractor: p.extractor,
		PDFText:   pdfTextFake{text: "pdf text"},
		Resolver:  p.resolver,
		Backoff:   p.backoff,
		Skipped:   p.skipped,
		Reporter:  p.reporter,
	}, domain.RetryPartial, logger)
	p.exec.now = p.clock.Now
	return p
}

package usecase

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestBuiltinWorkflowsCompile(t *testing.T) {
	workflows, err := BuiltinWorkflows()
	if err != nil {
		t.Fatalf("builtin workflows: %v", err)
	}
	if len(workflows) < 2 {
		t.Fatalf("expected at least two built-in workflows, got %d", len(workflows))
	}
	for _, wf := range workflows {
		if !wf.IsBuiltIn || len(wf.ExtractionSchema) == 0 {
			t.Fatalf("expected compiled built-in workflow, got %+v", wf)
		}
	}
	legacy := LegacyWorkflow()
	if legacy.Slug != LegacyWorkflowSlug || !legacy.Enabled {
		t.Fatalf("unexpected legacy workflow %+v", legacy)
	}
}

func TestRegistryCreateDerivesSlugAndCompilesSchema(t *testing.T) {
	repo := newWorkflowRepoFake()
	reg := NewWorkflowRegistry(repo, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	wf, err := reg.Create(ctx, domain.Workflow{
		Name:           "Utility Bills",
		TriggerLabel:   "bill",
		ProcessedLabel: "bill-done",
		Enabled:        true,
		SchemaSource:   "type: object\nproperties:\n  provider: {type: string}\n",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wf.Slug != "utility-bills" || len(wf.ExtractionSchema) == 0 || wf.ID == 0 {
		t.Fatalf("unexpected workflow %+v", wf)
	}

	_, err = reg.Create(ctx, domain.Workflow{Name: "utility bills", TriggerLabel: "x", ProcessedLabel: "y", SchemaSource: "type: object\nproperties:\n  a: {type: string}\n"})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected slug conflict, got %v", err)
	}
}

func TestRegistryCreateRejectsUnsafeSchema(t *testing.T) {
	reg := NewWorkflowRegistry(newWorkflowRepoFake(), nil)
	_, err := reg.Create(context.Background(), domain.Workflow{
		Name:           "Evil",
		TriggerLabel:   "evil",
		ProcessedLabel: "evil-done",
		SchemaSource:   "type: object\nproperties:\n  x: {default: \"require('child_process')\"}\n",
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRegistryUpdateKeepsSlug(t *testing.T) {
	repo := newWorkflowRepoFake()
	reg := NewWorkflowRegistry(repo, nil)
	ctx := context.Background()

	created, err := reg.Create(ctx, receiptWorkflow(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	changed := *created
	changed.Name = "Renamed Receipts"
	changed.Slug = "something-else"
	changed.Priority = 7

	updated, err := reg.Update(ctx, created.Slug, changed)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Slug != "receipts" || updated.Priority != 7 || updated.ID != created.ID {
		t.Fatalf("unexpected update %+v", updated)
	}
	if _, err := reg.Get(ctx, "something-else"); !domain.IsKind(err, domain.ErrWorkflowNotFound) {
		t.Fatalf("expected slug not to change, got %v", err)
	}
}

func TestRegistryBuiltinsCannotBeDeleted(t *testing.T) {
	repo := newWorkflowRepoFake()
	reg := NewWorkflowRegistry(repo, nil)
	ctx := context.Background()

	n, err := reg.SeedBuiltins(ctx)
	if err != nil || n == 0 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	again, err := reg.SeedBuiltins(ctx)
	if err != nil || again != 0 {
		t.Fatalf("expected second seed to be a no-op, got n=%d err=%v", again, err)
	}
	if err := reg.Delete(ctx, LegacyWorkflowSlug); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected built-in delete to be refused, got %v", err)
	}
}

func TestRegistryMatchFallsBackToLegacy(t *testing.T) {
	reg := NewWorkflowRegistry(newWorkflowRepoFake(), nil)
	ctx := context.Background()

	legacy := LegacyWorkflow()
	wf, ok, err := reg.Match(ctx, []string{"inbox", legacy.TriggerLabel})
	if err != nil || !ok || wf.Slug != LegacyWorkflowSlug {
		t.Fatalf("expected legacy match, got %+v ok=%v err=%v", wf, ok, err)
	}
}

func TestRegistryMatchOrdersByLabel(t *testing.T) {
	low := receiptWorkflow(t)
	high := receiptWorkflow(t)
	high.ID, high.Slug, high.TriggerLabel, high.Priority = 2, "invoices", "invoice", 100

	reg := NewWorkflowRegistry(newWorkflowRepoFake(low, high), nil)
	wf, ok, err := reg.Match(context.Background(), []string{"receipt", "invoice"})
	if err != nil || !ok || wf.Slug != "receipts" {
		t.Fatalf("expected first label to win, got %+v ok=%v err=%v", wf, ok, err)
	}
}

func TestParseWorkflowsYAMLSingleDocument(t *testing.T) {
	workflows, err := ParseWorkflowsYAML([]byte("name: Single\ntrigger_label: s\nprocessed_label: s-done\nschema: |\n  type: object\n"))
	if err != nil || len(workflows) != 1 || workflows[0].Name != "Single" {
		t.Fatalf("unexpected %+v err=%v", workflows, err)
	}
	if _, err := ParseWorkflowsYAML([]byte("foo: bar\n")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

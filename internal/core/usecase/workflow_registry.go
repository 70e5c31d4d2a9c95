package usecase

import (
	"context"
	_ "embed"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/core/schema"
)

//go:embed builtin_workflows.yaml
var builtinWorkflowsYAML []byte

const LegacyWorkflowSlug = "legacy"

type workflowFile struct {
	Workflows []domain.Workflow `yaml:"workflows"`
}

// ParseWorkflowsYAML decodes a workflow file. Both a single workflow and a
// top-level "workflows" list are accepted.
func ParseWorkflowsYAML(data []byte) ([]domain.Workflow, error) {
	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse workflow file", err)
	}
	if len(file.Workflows) > 0 {
		return file.Workflows, nil
	}
	var single domain.Workflow
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse workflow file", err)
	}
	if strings.TrimSpace(single.Name) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse workflow file", errors.New("no workflows found"))
	}
	return []domain.Workflow{single}, nil
}

var loadBuiltins = sync.OnceValues(func() ([]domain.Workflow, error) {
	workflows, err := ParseWorkflowsYAML(builtinWorkflowsYAML)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		workflows[i].Normalize()
		workflows[i].IsBuiltIn = true
		compiled, err := schema.Compile(workflows[i].SchemaSource)
		if err != nil {
			return nil, errors.Wrapf(err, "compile built-in workflow %s", workflows[i].Slug)
		}
		workflows[i].ExtractionSchema = compiled.JSON()
	}
	return workflows, nil
})

// BuiltinWorkflows returns the embedded workflow definitions with compiled schemas.
func BuiltinWorkflows() ([]domain.Workflow, error) {
	workflows, err := loadBuiltins()
	if err != nil {
		return nil, err
	}
	return append([]domain.Workflow(nil), workflows...), nil
}

// LegacyWorkflow is the fallback used when no workflow is registered.
func LegacyWorkflow() domain.Workflow {
	workflows, err := BuiltinWorkflows()
	if err != nil {
		panic(err)
	}
	for _, wf := range workflows {
		if wf.Slug == LegacyWorkflowSlug {
			wf.Enabled = true
			return wf
		}
	}
	panic("built-in legacy workflow missing")
}

type WorkflowRegistry struct {
	repo   ports.WorkflowRepository
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewWorkflowRegistry(repo ports.WorkflowRepository, logger *zap.SugaredLogger) *WorkflowRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WorkflowRegistry{repo: repo, logger: logger.Named("workflows"), now: time.Now}
}

func (r *WorkflowRegistry) List(ctx context.Context) ([]domain.Workflow, error) {
	workflows, err := r.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list workflows")
	}
	domain.SortByPriority(workflows)
	return workflows, nil
}

// ListEnabled returns enabled workflows ordered by priority.
func (r *WorkflowRegistry) ListEnabled(ctx context.Context) ([]domain.Workflow, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, wf := range all {
		if wf.Enabled {
			enabled = append(enabled, wf)
		}
	}
	return enabled, nil
}

func (r *WorkflowRegistry) Get(ctx context.Context, slug string) (*domain.Workflow, error) {
	wf, err := r.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, errors.Wrapf(err, "get workflow %s", slug)
	}
	return wf, nil
}

// Match picks the workflow for a document's label names. With no registered
// workflows the legacy workflow handles its own trigger label.
func (r *WorkflowRegistry) Match(ctx context.Context, labels []string) (*domain.Workflow, bool, error) {
	enabled, err := r.ListEnabled(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(enabled) == 0 {
		enabled = []domain.Workflow{LegacyWorkflow()}
	}
	wf, ok := domain.MatchWorkflow(enabled, labels)
	return wf, ok, nil
}

func (r *WorkflowRegistry) Create(ctx context.Context, wf domain.Workflow) (*domain.Workflow, error) {
	wf.Normalize()
	if err := r.prepare(&wf); err != nil {
		return nil, err
	}
	existing, err := r.repo.GetBySlug(ctx, wf.Slug)
	if err != nil && !domain.IsKind(err, domain.ErrWorkflowNotFound) {
		return nil, errors.Wrapf(err, "check workflow slug %s", wf.Slug)
	}
	if existing != nil {
		return nil, domain.WrapError(domain.ErrConflict, "create workflow", errors.Newf("slug %q already exists", wf.Slug))
	}

	now := r.now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if err := r.repo.Create(ctx, &wf); err != nil {
		return nil, errors.Wrapf(err, "create workflow %s", wf.Slug)
	}
	r.logger.Infow("workflow created", "slug", wf.Slug, "trigger", wf.TriggerLabel, "priority", wf.Priority)
	return &wf, nil
}

// Update replaces a workflow's definition. The slug never changes.
func (r *WorkflowRegistry) Update(ctx context.Context, slug string, wf domain.Workflow) (*domain.Workflow, error) {
	existing, err := r.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, errors.Wrapf(err, "get workflow %s", slug)
	}
	wf.Normalize()
	wf.ID = existing.ID
	wf.Slug = existing.Slug
	wf.IsBuiltIn = existing.IsBuiltIn
	wf.CreatedAt = existing.CreatedAt
	if err := r.prepare(&wf); err != nil {
		return nil, err
	}
	wf.UpdatedAt = r.now().UTC()
	if err := r.repo.Update(ctx, &wf); err != nil {
		return nil, errors.Wrapf(err, "update workflow %s", slug)
	}
	r.logger.Infow("workflow updated", "slug", wf.Slug, "enabled", wf.Enabled)
	return &wf, nil
}

func (r *WorkflowRegistry) Delete(ctx context.Context, slug string) error {
	existing, err := r.repo.GetBySlug(ctx, slug)
	if err != nil {
		return errors.Wrapf(err, "get workflow %s", slug)
	}
	if existing.IsBuiltIn {
		return domain.WrapError(domain.ErrInvalidInput, "delete workflow", errors.Newf("built-in workflow %q can only be disabled", slug))
	}
	if err := r.repo.Delete(ctx, slug); err != nil {
		return errors.Wrapf(err, "delete workflow %s", slug)
	}
	r.logger.Infow("workflow deleted", "slug", slug)
	return nil
}

func (r *WorkflowRegistry) ValidateSchema(source string) domain.SchemaValidation {
	return schema.Validate(source)
}

// SeedBuiltins inserts built-in workflows whose slug is not yet registered.
func (r *WorkflowRegistry) SeedBuiltins(ctx context.Context) (int, error) {
	builtins, err := BuiltinWorkflows()
	if err != nil {
		return 0, err
	}
	seeded := 0
	for _, wf := range builtins {
		existing, err := r.repo.GetBySlug(ctx, wf.Slug)
		if err != nil && !domain.IsKind(err, domain.ErrWorkflowNotFound) {
			return seeded, errors.Wrapf(err, "check built-in workflow %s", wf.Slug)
		}
		if existing != nil {
			continue
		}
		now := r.now().UTC()
		wf.CreatedAt = now
		wf.UpdatedAt = now
		if err := r.repo.Create(ctx, &wf); err != nil {
			if domain.IsKind(err, domain.ErrConflict) {
				continue
			}
			return seeded, errors.Wrapf(err, "seed built-in workflow %s", wf.Slug)
		}
		seeded++
	}
	if seeded > 0 {
		r.logger.Infow("built-in workflows seeded", "count", seeded)
	}
	return seeded, nil
}

func (r *WorkflowRegistry) prepare(wf *domain.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(wf.SchemaSource) == "" {
		// Callers that only hold the compiled form still get it re-checked.
		if _, err := schema.Load(wf.ExtractionSchema); err != nil {
			return err
		}
		return nil
	}
	compiled, err := schema.Compile(wf.SchemaSource)
	if err != nil {
		return err
	}
	wf.ExtractionSchema = compiled.JSON()
	return nil
}

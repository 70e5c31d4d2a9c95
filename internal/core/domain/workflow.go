package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
)

// AllFieldsSentinel maps a custom field to the full serialized extraction payload.
const AllFieldsSentinel = "*"

type Workflow struct {
	ID                 int64           `json:"id" yaml:"-"`
	Name               string          `json:"name" yaml:"name"`
	Slug               string          `json:"slug" yaml:"slug"`
	TriggerLabel       string          `json:"trigger_label" yaml:"trigger_label"`
	Priority           int             `json:"priority" yaml:"priority"`
	Enabled            bool            `json:"enabled" yaml:"enabled"`
	SchemaSource       string          `json:"schema_source" yaml:"schema"`
	ExtractionSchema   json.RawMessage `json:"extraction_schema,omitempty" yaml:"-"`
	PromptInstructions string          `json:"prompt_instructions" yaml:"prompt_instructions"`
	TitleTemplate      string          `json:"title_template,omitempty" yaml:"title_template"`
	OutputMapping      OutputMapping   `json:"output_mapping" yaml:"output_mapping"`
	ProcessedLabel     string          `json:"processed_label" yaml:"processed_label"`
	FailedLabel        string          `json:"failed_label,omitempty" yaml:"failed_label"`
	SkippedLabel       string          `json:"skipped_label,omitempty" yaml:"skipped_label"`
	IsBuiltIn          bool            `json:"is_built_in" yaml:"-"`
	CreatedAt          time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time       `json:"updated_at" yaml:"-"`
}

// OutputMapping declares how extracted fields land on the document.
type OutputMapping struct {
	CorrespondentField string            `json:"correspondent_field,omitempty" yaml:"correspondent_field"`
	DateField          string            `json:"date_field,omitempty" yaml:"date_field"`
	TagsToApply        []string          `json:"tags_to_apply,omitempty" yaml:"tags_to_apply"`
	TagFields          []string          `json:"tag_fields,omitempty" yaml:"tag_fields"`
	SuggestedTagsField string            `json:"suggested_tags_field,omitempty" yaml:"suggested_tags_field"`
	CustomFields       map[string]string `json:"custom_fields,omitempty" yaml:"custom_fields"`
	CustomFieldTypes   map[string]string `json:"custom_field_types,omitempty" yaml:"custom_field_types"`
	WriteContent       bool              `json:"write_content,omitempty" yaml:"write_content"`
}

// CustomFieldType returns the declared data type for a store field, long text by default.
func (m OutputMapping) CustomFieldType(storeField string) string {
	if t := strings.TrimSpace(m.CustomFieldTypes[storeField]); t != "" {
		return t
	}
	return CustomFieldTypeLongText
}

// SortedCustomFields returns store field names in a stable order.
func (m OutputMapping) SortedCustomFields() []string {
	names := make([]string, 0, len(m.CustomFields))
	for name := range m.CustomFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Slugify lowercases the name and collapses every non-alphanumeric run into one hyphen.
func Slugify(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r > unicode.MaxASCII && unicode.IsLetter(r)) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// Normalize trims user-entered fields and derives the slug when absent.
func (w *Workflow) Normalize() {
	w.Name = strings.TrimSpace(w.Name)
	w.TriggerLabel = strings.TrimSpace(w.TriggerLabel)
	w.ProcessedLabel = strings.TrimSpace(w.ProcessedLabel)
	w.FailedLabel = strings.TrimSpace(w.FailedLabel)
	w.SkippedLabel = strings.TrimSpace(w.SkippedLabel)
	if strings.TrimSpace(w.Slug) == "" {
		w.Slug = Slugify(w.Name)
	} else {
		w.Slug = Slugify(w.Slug)
	}
}

// Validate checks the fields required to run the workflow.
func (w *Workflow) Validate() error {
	var problems []string
	if w.Name == "" {
		problems = append(problems, "name is required")
	}
	if w.Slug == "" {
		problems = append(problems, "name must contain at least one letter or digit")
	}
	if w.TriggerLabel == "" {
		problems = append(problems, "trigger label is required")
	}
	if w.ProcessedLabel == "" {
		problems = append(problems, "processed label is required")
	}
	if strings.EqualFold(w.TriggerLabel, w.ProcessedLabel) && w.TriggerLabel != "" {
		problems = append(problems, "processed label must differ from trigger label")
	}
	if strings.TrimSpace(w.SchemaSource) == "" && len(w.ExtractionSchema) == 0 {
		problems = append(problems, "extraction schema is required")
	}
	if len(problems) > 0 {
		return WrapError(ErrInvalidInput, "validate workflow", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// MatchWorkflow walks labels in attachment order and returns, for the first label that
// triggers any enabled workflow, the one with the highest priority. Ties go to the lowest id.
func MatchWorkflow(workflows []Workflow, labels []string) (*Workflow, bool) {
	for _, label := range labels {
		var best *Workflow
		for i := range workflows {
			wf := &workflows[i]
			if !wf.Enabled || !strings.EqualFold(wf.TriggerLabel, label) {
				continue
			}
			if best == nil || wf.Priority > best.Priority || (wf.Priority == best.Priority && wf.ID < best.ID) {
				best = wf
			}
		}
		if best != nil {
			out := *best
			return &out, true
		}
	}
	return nil, false
}

// SortByPriority orders workflows by descending priority, then ascending id.
func SortByPriority(workflows []Workflow) {
	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].Priority != workflows[j].Priority {
			return workflows[i].Priority > workflows[j].Priority
		}
		return workflows[i].ID < workflows[j].ID
	})
}

// SchemaValidation is the outcome of checking a workflow schema source.
type SchemaValidation struct {
	Valid  bool            `json:"valid"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Fields []string        `json:"fields,omitempty"`
	Errors []string        `json:"errors,omitempty"`
}

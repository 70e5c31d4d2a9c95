// Package schema turns workflow schema sources into portable JSON Schemas and
// validates extraction results against them.
package schema

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// Compiled is a validated object schema ready for use at extraction time.
type Compiled struct {
	raw    json.RawMessage
	schema *openapi3.Schema
	fields []string
}

// JSON returns the portable schema representation.
func (c *Compiled) JSON() json.RawMessage {
	return c.raw
}

// Fields returns the top-level property names in sorted order.
func (c *Compiled) Fields() []string {
	return append([]string(nil), c.fields...)
}

// ValidateItem checks one extracted item against the schema.
func (c *Compiled) ValidateItem(item map[string]any) error {
	value := make(map[string]any, len(item))
	for k, v := range item {
		value[k] = v
	}
	if err := c.schema.VisitJSON(value); err != nil {
		return domain.WrapError(domain.ErrSchemaMismatch, "extracted item does not match schema", err)
	}
	return nil
}

// Validate runs the full source pipeline and reports every problem found.
func Validate(source string) domain.SchemaValidation {
	compiled, problems := compile(source)
	if len(problems) > 0 {
		return domain.SchemaValidation{Valid: false, Errors: problems}
	}
	return domain.SchemaValidation{Valid: true, Schema: compiled.raw, Fields: compiled.Fields()}
}

// Compile turns a YAML or JSON schema source into a compiled schema.
func Compile(source string) (*Compiled, error) {
	compiled, problems := compile(source)
	if len(problems) > 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compile schema", errors.New(strings.Join(problems, "; ")))
	}
	return compiled, nil
}

// Load rebuilds a compiled schema from its stored portable form.
func Load(raw json.RawMessage) (*Compiled, error) {
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load schema", errors.New("empty schema"))
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load schema", err)
	}
	compiled, problems := fromTree(tree)
	if len(problems) > 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load schema", errors.New(strings.Join(problems, "; ")))
	}
	return compiled, nil
}

func compile(source string) (*Compiled, []string) {
	if strings.TrimSpace(source) == "" {
		return nil, []string{"schema source is empty"}
	}
	if problems := checkDenylist(source); len(problems) > 0 {
		return nil, problems
	}

	var tree any
	if err := yaml.Unmarshal([]byte(source), &tree); err != nil {
		return nil, []string{"parse schema: " + err.Error()}
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, []string{"schema must be a mapping at the top level"}
	}
	return fromTree(obj)
}

func fromTree(tree map[string]any) (*Compiled, []string) {
	var problems []string
	if t, _ := tree["type"].(string); t != "object" {
		problems = append(problems, `top-level schema must have type "object"`)
	}
	props, _ := tree["properties"].(map[string]any)
	if len(props) == 0 {
		problems = append(problems, "schema must declare at least one property")
	}
	if len(problems) > 0 {
		return nil, problems
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, []string{"encode schema: " + err.Error()}
	}
	var s openapi3.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, []string{"decode schema: " + err.Error()}
	}
	if err := s.Validate(context.Background()); err != nil {
		return nil, []string{"invalid schema: " + err.Error()}
	}

	fields := make([]string, 0, len(props))
	for name := range props {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	return &Compiled{raw: raw, schema: &s, fields: fields}, nil
}

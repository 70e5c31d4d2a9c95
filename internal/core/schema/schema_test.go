package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docflow/internal/core/domain"
)

const receiptSource = `
type: object
required: [vendor, amount]
properties:
  vendor:
    type: string
    description: Merchant name as printed on the receipt
  amount:
    type: number
  currency:
    type: string
  suggested_tags:
    type: array
    items:
      type: string
`

func TestValidateYAMLSource(t *testing.T) {
	res := Validate(receiptSource)
	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, []string{"amount", "currency", "suggested_tags", "vendor"}, res.Fields)

	var tree map[string]any
	require.NoError(t, json.Unmarshal(res.Schema, &tree))
	assert.Equal(t, "object", tree["type"])
}

func TestValidateJSONSource(t *testing.T) {
	res := Validate(`{"type":"object","properties":{"total":{"type":"number"}}}`)
	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, []string{"total"}, res.Fields)
}

func TestValidateRejectsDenylistedConstructs(t *testing.T) {
	cases := []string{
		"const fs = require('fs')",
		"type: object\nproperties:\n  x:\n    default: eval(1)",
		"import os\ntype: object",
		"type: object\nproperties:\n  x:\n    $ref: https://example.com/schema.json",
		"type: object\ndescription: child_process",
	}
	for _, src := range cases {
		res := Validate(src)
		assert.False(t, res.Valid, "expected %q to be rejected", src)
		assert.NotEmpty(t, res.Errors)
	}
}

func TestValidateRejectsNonObjectSchemas(t *testing.T) {
	for _, src := range []string{"", "type: string", "- a\n- b", "type: object"} {
		res := Validate(src)
		assert.False(t, res.Valid, "expected %q to be rejected", src)
	}
}

func TestCompileReturnsInvalidInputKind(t *testing.T) {
	_, err := Compile("type: array")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestCompiledValidateItem(t *testing.T) {
	compiled, err := Compile(receiptSource)
	require.NoError(t, err)

	assert.NoError(t, compiled.ValidateItem(map[string]any{"vendor": "Acme", "amount": 42.5, "currency": "USD"}))

	err = compiled.ValidateItem(map[string]any{"vendor": "Acme"})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrSchemaMismatch))

	err = compiled.ValidateItem(map[string]any{"vendor": 7, "amount": 1.0})
	assert.True(t, domain.IsKind(err, domain.ErrSchemaMismatch))
}

func TestLoadRoundTripsCompiledForm(t *testing.T) {
	compiled, err := Compile(receiptSource)
	require.NoError(t, err)

	loaded, err := Load(compiled.JSON())
	require.NoError(t, err)
	assert.Equal(t, compiled.Fields(), loaded.Fields())

	_, err = Load(nil)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

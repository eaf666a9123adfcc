package tool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestSchemaValidateTypes(t *testing.T) {
	s := &Schema{Parameters: []ParameterDef{
		{Name: "text", Type: TypeString, Required: true},
		{Name: "count", Type: TypeInteger},
		{Name: "ratio", Type: TypeFloat},
		{Name: "flag", Type: TypeBoolean},
		{Name: "items", Type: TypeArray},
		{Name: "blob", Type: TypeObject},
		{Name: "mode", Type: TypeEnum, EnumValues: []string{"fast", "slow"}},
	}}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"all valid", map[string]any{
			"text": "x", "count": 3, "ratio": 0.5, "flag": true,
			"items": []any{1}, "blob": map[string]any{}, "mode": "fast",
		}, false},
		{"missing required", map[string]any{}, true},
		{"wrong string", map[string]any{"text": 7}, true},
		{"float for integer", map[string]any{"text": "x", "count": 1.5}, true},
		{"whole float for integer ok", map[string]any{"text": "x", "count": float64(4)}, false},
		{"int for float ok", map[string]any{"text": "x", "ratio": 2}, false},
		{"enum out of set", map[string]any{"text": "x", "mode": "medium"}, true},
		{"array wrong type", map[string]any{"text": "x", "items": "nope"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.params, true)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, gerrors.Is(err, gerrors.KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchemaValidateConstraints(t *testing.T) {
	s := &Schema{Parameters: []ParameterDef{
		{Name: "age", Type: TypeInteger, Constraints: &Constraints{MinValue: floatPtr(0), MaxValue: floatPtr(150)}},
		{Name: "slug", Type: TypeString, Constraints: &Constraints{
			MinLength: intPtr(3), MaxLength: intPtr(10), Pattern: `^[a-z-]+$`,
		}},
		{Name: "even", Type: TypeInteger, Constraints: &Constraints{Custom: func(v any) error {
			if n, ok := v.(int); ok && n%2 != 0 {
				return fmt.Errorf("must be even")
			}
			return nil
		}}},
	}}

	assert.NoError(t, s.Validate(map[string]any{"age": 30, "slug": "my-slug", "even": 4}, true))
	assert.Error(t, s.Validate(map[string]any{"age": -1}, true))
	assert.Error(t, s.Validate(map[string]any{"age": 200}, true))
	assert.Error(t, s.Validate(map[string]any{"slug": "ab"}, true))
	assert.Error(t, s.Validate(map[string]any{"slug": "waaaaaaytoolong"}, true))
	assert.Error(t, s.Validate(map[string]any{"slug": "Not-Lower"}, true))
	assert.Error(t, s.Validate(map[string]any{"even": 3}, true))
}

func TestSchemaValidateCollectsAllWithoutFailFast(t *testing.T) {
	s := &Schema{Parameters: []ParameterDef{
		{Name: "a", Type: TypeString, Required: true},
		{Name: "b", Type: TypeInteger, Required: true},
	}}

	err := s.Validate(map[string]any{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")

	// Fail-fast surfaces only the first.
	err = s.Validate(map[string]any{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.NotContains(t, err.Error(), "field b")
}

func TestSchemaApplyDefaults(t *testing.T) {
	s := &Schema{Parameters: []ParameterDef{
		{Name: "operation", Type: TypeEnum, EnumValues: []string{"parse", "format"}, Default: "parse"},
		{Name: "input", Type: TypeString, Required: true},
	}}

	params := s.ApplyDefaults(map[string]any{"input": "{}"})
	assert.Equal(t, "parse", params["operation"])

	params = s.ApplyDefaults(map[string]any{"input": "{}", "operation": "format"})
	assert.Equal(t, "format", params["operation"])
}

func TestSchemaRequiredWithDefaultIsSatisfied(t *testing.T) {
	s := &Schema{Parameters: []ParameterDef{
		{Name: "mode", Type: TypeString, Required: true, Default: "auto"},
	}}
	assert.NoError(t, s.Validate(map[string]any{}, true))
}

func TestSchemaJSONSchemaExport(t *testing.T) {
	s := &Schema{Parameters: []ParameterDef{
		{Name: "input", Type: TypeString, Required: true, Description: "the payload"},
		{Name: "mode", Type: TypeEnum, EnumValues: []string{"a", "b"}},
	}}

	js := s.JSONSchema()
	assert.Equal(t, "object", js.Type)
	assert.Equal(t, []string{"input"}, js.Required)

	input, ok := js.Properties.Get("input")
	require.True(t, ok)
	assert.Equal(t, "string", input.Type)

	mode, ok := js.Properties.Get("mode")
	require.True(t, ok)
	assert.Len(t, mode.Enum, 2)
}

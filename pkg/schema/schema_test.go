package schema

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSchema(t *testing.T, version string, fields map[string]FieldSchema) *StateSchema {
	t.Helper()
	s, err := NewStateSchema(version, fields)
	require.NoError(t, err)
	return s
}

func TestRegistryAppendOnlyMonotonic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(mustSchema(t, "1.0.0", nil)))
	require.NoError(t, r.Register(mustSchema(t, "1.1.0", nil)))

	// Duplicate rejected.
	assert.Error(t, r.Register(mustSchema(t, "1.1.0", nil)))
	// Non-monotonic rejected.
	assert.Error(t, r.Register(mustSchema(t, "1.0.5", nil)))

	require.NoError(t, r.Register(mustSchema(t, "2.0.0", nil)))

	versions := r.Versions()
	require.Len(t, versions, 3)
	assert.Equal(t, "1.0.0", versions[0].String())
	assert.Equal(t, "2.0.0", versions[2].String())

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, "2.0.0", latest.Version.String())
}

func TestCompatibilityRules(t *testing.T) {
	base := map[string]FieldSchema{
		"name": {Type: "string", Required: true},
		"age":  {Type: "integer"},
	}

	tests := []struct {
		name           string
		from, to       *StateSchema
		wantCompatible bool
		wantRisk       RiskLevel
	}{
		{
			"identical is compatible",
			mustSchema(t, "1.0.0", base), mustSchema(t, "1.0.1", base),
			true, RiskLow,
		},
		{
			"major bump is breaking",
			mustSchema(t, "1.0.0", base), mustSchema(t, "2.0.0", base),
			false, RiskHigh,
		},
		{
			"downgrade is breaking",
			mustSchema(t, "1.1.0", base), mustSchema(t, "1.0.0", base),
			false, RiskHigh,
		},
		{
			"removed required field is breaking",
			mustSchema(t, "1.0.0", base),
			mustSchema(t, "1.1.0", map[string]FieldSchema{"age": {Type: "integer"}}),
			false, RiskHigh,
		},
		{
			"added required without default is breaking",
			mustSchema(t, "1.0.0", base),
			mustSchema(t, "1.1.0", map[string]FieldSchema{
				"name": {Type: "string", Required: true},
				"age":  {Type: "integer"},
				"ssn":  {Type: "string", Required: true},
			}),
			false, RiskHigh,
		},
		{
			"type change is breaking and critical",
			mustSchema(t, "1.0.0", base),
			mustSchema(t, "1.1.0", map[string]FieldSchema{
				"name": {Type: "string", Required: true},
				"age":  {Type: "string"},
			}),
			false, RiskCritical,
		},
		{
			"optional to required is breaking",
			mustSchema(t, "1.0.0", base),
			mustSchema(t, "1.1.0", map[string]FieldSchema{
				"name": {Type: "string", Required: true},
				"age":  {Type: "integer", Required: true},
			}),
			false, RiskHigh,
		},
		{
			"added optional field requires migration",
			mustSchema(t, "1.0.0", base),
			mustSchema(t, "1.1.0", map[string]FieldSchema{
				"name":  {Type: "string", Required: true},
				"age":   {Type: "integer"},
				"email": {Type: "string"},
			}),
			true, RiskMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Check(tt.from, tt.to)
			assert.Equal(t, tt.wantCompatible, result.Compatible)
			assert.Equal(t, tt.wantRisk, result.Risk)
			// compatible <=> no breaking changes
			assert.Equal(t, result.Compatible, len(result.BreakingChanges) == 0)
			if !tt.wantCompatible {
				assert.Equal(t, BreakingChange, result.Level)
				assert.True(t, result.MigrationRequired)
			}
		})
	}
}

func TestCompatibilityRequiredToOptionalIsWarning(t *testing.T) {
	from := mustSchema(t, "1.0.0", map[string]FieldSchema{"name": {Type: "string", Required: true}})
	to := mustSchema(t, "1.1.0", map[string]FieldSchema{"name": {Type: "string"}})

	result := Check(from, to)
	assert.True(t, result.Compatible)
	assert.NotEmpty(t, result.Warnings)
}

func TestCompatibilityDependencyChangesAreWarnings(t *testing.T) {
	from := mustSchema(t, "1.0.0", nil)
	to := mustSchema(t, "1.1.0", nil)
	to.Dependencies = []*semver.Version{semver.MustParse("0.9.0")}

	result := Check(from, to)
	assert.True(t, result.Compatible)
	assert.Contains(t, result.Warnings, "dependency list changed")
}

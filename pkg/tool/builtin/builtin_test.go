package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

func TestCalculator(t *testing.T) {
	calc, err := NewCalculator()
	require.NoError(t, err)

	tests := []struct {
		expr string
		want string
	}{
		{"2+2", "4"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"10 / 4", "2.5"},
		{"-3 + 5", "2"},
		{"2 * (1 + (2 - 3))", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := calc.Execute(context.Background(),
				component.NewInput("").WithParameter("input", tt.expr))
			require.NoError(t, err)
			require.True(t, out.Success())
			assert.Equal(t, tt.want, out.Text)
		})
	}
}

func TestCalculatorErrors(t *testing.T) {
	calc, err := NewCalculator()
	require.NoError(t, err)

	for _, expr := range []string{"", "2 +", "1 / 0", "(1 + 2", "abc"} {
		t.Run("invalid "+expr, func(t *testing.T) {
			out, execErr := calc.Execute(context.Background(),
				component.NewInput("").WithParameter("input", expr))
			if execErr == nil {
				assert.False(t, out.Success())
			}
		})
	}

	// Missing required parameter fails validation, not execution.
	_, err = calc.Execute(context.Background(), component.NewInput("2+2"))
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindValidation))
}

func TestJSONParse(t *testing.T) {
	jsonTool, err := NewJSON()
	require.NoError(t, err)

	out, err := jsonTool.Execute(context.Background(),
		component.NewInput("").WithParameter("input", `{"data":"x"}`))
	require.NoError(t, err)
	require.True(t, out.Success())
	assert.Equal(t, map[string]any{"data": "x"}, out.Value())
}

func TestJSONOperations(t *testing.T) {
	jsonTool, err := NewJSON()
	require.NoError(t, err)
	ctx := context.Background()

	out, err := jsonTool.Execute(ctx, component.NewInput("").
		WithParameter("input", `{"a":1}`).
		WithParameter("operation", "validate"))
	require.NoError(t, err)
	assert.Equal(t, "valid", out.Text)

	out, err = jsonTool.Execute(ctx, component.NewInput("").
		WithParameter("input", `{"a":1}`).
		WithParameter("operation", "format"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "\n")

	_, err = jsonTool.Execute(ctx, component.NewInput("").
		WithParameter("input", `{"a":1}`).
		WithParameter("operation", "explode"))
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindValidation))
}

func TestJSONRejectsMalformedInput(t *testing.T) {
	jsonTool, err := NewJSON()
	require.NoError(t, err)

	out, err := jsonTool.Execute(context.Background(),
		component.NewInput("").WithParameter("input", `{"broken`))
	require.NoError(t, err)
	assert.False(t, out.Success())
}

package expressions

import (
	"context"
	"testing"

	"github.com/salesgrid/salesgrid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQEngine_Name(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQEngine_Evaluate(t *testing.T) {
	engine := NewGoJQEngine()

	payload := map[string]any{
		"company": map[string]any{
			"name":      "Acme",
			"employees": 250,
		},
	}

	out, err := engine.Evaluate(context.Background(), `.company.name`, payload)
	require.NoError(t, err)
	assert.Equal(t, "Acme", out)

	out, err = engine.Evaluate(context.Background(), `.company.employees`, payload)
	require.NoError(t, err)
	assert.Equal(t, float64(250), out)
}

func TestGoJQEngine_MultipleOutputs(t *testing.T) {
	engine := NewGoJQEngine()

	payload := map[string]any{"tags": []any{"a", "b"}}
	out, err := engine.Evaluate(context.Background(), `.tags[]`, payload)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQEngine_MissingPathIsNil(t *testing.T) {
	engine := NewGoJQEngine()

	out, err := engine.Evaluate(context.Background(), `.does.not.exist`, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_ParseError(t *testing.T) {
	engine := NewGoJQEngine()

	_, err := engine.Evaluate(context.Background(), `.[unclosed`, nil)
	require.Error(t, err)

	var gridErr *schema.GridError
	require.ErrorAs(t, err, &gridErr)
	assert.Equal(t, schema.ErrCodeValidation, gridErr.Code)
}

func TestGoJQEngine_EmptyExpression(t *testing.T) {
	engine := NewGoJQEngine()

	_, err := engine.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestGoJQEngine_Parse(t *testing.T) {
	engine := NewGoJQEngine()

	assert.NoError(t, engine.Parse(`.company.name`))
	assert.Error(t, engine.Parse(`.[unclosed`))
}

func TestGoJQEngine_EnvironBlocked(t *testing.T) {
	engine := NewGoJQEngine()

	out, err := engine.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

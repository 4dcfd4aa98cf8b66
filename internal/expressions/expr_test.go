package expressions

import (
	"context"
	"testing"

	"github.com/salesgrid/salesgrid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Name(t *testing.T) {
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExprEngine_Evaluate(t *testing.T) {
	engine := NewExprEngine()

	out, err := engine.Evaluate(context.Background(), `status == "won" && revenue > 1000`, map[string]any{
		"status":  "won",
		"revenue": 2500,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_EmptyExpression(t *testing.T) {
	engine := NewExprEngine()

	_, err := engine.Evaluate(context.Background(), "", nil)
	require.Error(t, err)

	var gridErr *schema.GridError
	require.ErrorAs(t, err, &gridErr)
	assert.Equal(t, schema.ErrCodeValidation, gridErr.Code)
}

func TestExprEngine_CompileError(t *testing.T) {
	engine := NewExprEngine()

	_, err := engine.Evaluate(context.Background(), `status ==`, map[string]any{"status": "won"})
	require.Error(t, err)

	var gridErr *schema.GridError
	require.ErrorAs(t, err, &gridErr)
	assert.Equal(t, schema.ErrCodeValidation, gridErr.Code)
}

func TestExprEngine_UndefinedVariablesAllowed(t *testing.T) {
	engine := NewExprEngine()

	out, err := engine.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExprEngine_EvaluateBool(t *testing.T) {
	engine := NewExprEngine()
	row := map[string]any{"status": "won", "revenue": 500}

	fired, err := engine.EvaluateBool(context.Background(), `status == "won"`, row)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = engine.EvaluateBool(context.Background(), `revenue > 1000`, row)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestExprEngine_EvaluateBool_NonBoolResult(t *testing.T) {
	engine := NewExprEngine()

	_, err := engine.EvaluateBool(context.Background(), `revenue + 1`, map[string]any{"revenue": 500})
	require.Error(t, err)

	var gridErr *schema.GridError
	require.ErrorAs(t, err, &gridErr)
	assert.Equal(t, schema.ErrCodeEvaluation, gridErr.Code)
}

func TestExprEngine_CacheReuse(t *testing.T) {
	engine := NewExprEngine()
	expr := `status == "won"`

	for i := 0; i < 3; i++ {
		out, err := engine.Evaluate(context.Background(), expr, map[string]any{"status": "won"})
		require.NoError(t, err)
		assert.Equal(t, true, out)
	}

	engine.mu.RLock()
	defer engine.mu.RUnlock()
	assert.Len(t, engine.cache, 1)
}

package expressions

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/salesgrid/salesgrid/internal/formula"
)

// FormulaEngine adapts the column formula evaluator to the Engine interface.
// Unlike the other engines it can never fail: the evaluator's contract is
// string in, string out, with sentinel strings standing in for errors.
// Stateless and safe for concurrent use.
type FormulaEngine struct{}

// NewFormulaEngine creates a new formula engine.
func NewFormulaEngine() *FormulaEngine {
	return &FormulaEngine{}
}

// Name returns the engine identifier.
func (e *FormulaEngine) Name() string {
	return "formula"
}

// Evaluate stringifies the data map into a formula context and evaluates the
// expression. The returned value is always a string and err is always nil.
func (e *FormulaEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return formula.Evaluate(expression, StringifyContext(data)), nil
}

// StringifyContext converts raw row cells into the string-only context map
// the evaluator consumes. Strings pass through verbatim, numbers and bools
// render in their canonical form, nil becomes the empty string, and
// composite values are embedded as compact JSON.
func StringifyContext(data map[string]any) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = StringifyCell(v)
	}
	return out
}

// StringifyCell renders a single cell value as formula context text.
func StringifyCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.RawMessage:
		return string(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

var _ Engine = (*FormulaEngine)(nil)

// Package enrichment turns AI enrichment payloads into cell values.
//
// An enrichment column carries a jq extraction path. The extractor runs the
// path against the row's cells document and renders the result as the cell
// string. Null and missing results become the "N/A" placeholder, which the
// formula evaluator's CONCAT suppression treats the same as blank.
package enrichment

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// Placeholder is written when an extraction path finds nothing.
const Placeholder = "N/A"

// Extractor applies jq extraction paths to enrichment payloads.
type Extractor struct {
	jq     *expressions.GoJQEngine
	logger *slog.Logger
}

// NewExtractor creates an extractor backed by the given jq engine.
func NewExtractor(jq *expressions.GoJQEngine, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{jq: jq, logger: logger}
}

// Extract runs the jq path against the document and renders the result as a
// cell string. A null or absent result yields Placeholder. Errors are
// evaluation-grade (bad path, runtime jq error).
func (e *Extractor) Extract(ctx context.Context, path string, doc map[string]any) (string, error) {
	if path == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "empty extraction path")
	}

	out, err := e.jq.Evaluate(ctx, path, doc)
	if err != nil {
		return "", err
	}
	return renderResult(out), nil
}

// ExtractColumn extracts the cell value for one enrichment column of a row.
// On error it degrades to Placeholder and logs, so one bad payload never
// blocks a whole-row recompute.
func (e *Extractor) ExtractColumn(ctx context.Context, col *schema.Column, row *schema.Row) string {
	value, err := e.Extract(ctx, col.Extract, row.Cells)
	if err != nil {
		e.logger.WarnContext(ctx, "enrichment extraction failed",
			"column_key", col.Key,
			"row_id", row.ID,
			"error", err)
		return Placeholder
	}
	return value
}

// renderResult converts a jq output value to cell text. Scalars render in
// their canonical form; composites are embedded as compact JSON so the value
// survives a round trip through the cells map.
func renderResult(v any) string {
	switch val := v.(type) {
	case nil:
		return Placeholder
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return Placeholder
		}
		return string(b)
	}
}

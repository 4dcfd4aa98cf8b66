package expressions

import "context"

// Engine evaluates user-authored expressions against per-row data.
// Four implementations: Formula (column previews), Expr (trigger conditions),
// CEL (saved-view filters), GoJQ (enrichment payload extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

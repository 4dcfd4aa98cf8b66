// Package formula implements the column formula evaluator behind the
// "Preview (Row 1)" surface. A formula is a user-authored string referencing
// sibling columns as @key (e.g. `@first_name & " " & @last_name` or
// `IF(@status = "won", @revenue, 0)`). Evaluation is a pure function of the
// expression and a per-row context map; the contract is string in, string out,
// and nothing ever escapes Evaluate as a panic or error.
package formula

import (
	"regexp"
	"strings"
)

// refPattern matches @key column references. Keys are case-sensitive and
// follow the identifier grammar; anything else containing @ is left untouched.
var refPattern = regexp.MustCompile(`@([a-zA-Z_][a-zA-Z0-9_]*)`)

// Evaluate computes the preview value of expression against ctx, a per-row
// map of column key to already-materialized string value. It always returns
// a string: the computed text, "", or a sentinel such as "ERR:DIV/0".
//
// Stages run in fixed order: reference substitution, function reduction
// (CONCAT/IF, innermost first), then either & concatenation or a single
// binary arithmetic operation, then a final quote strip. Missing context
// keys resolve to the empty string. Any internal panic is recovered here
// and the quote-stripped original expression is returned instead; the
// authoritative value is computed server-side, this is a best-effort preview.
func Evaluate(expression string, ctx map[string]string) (result string) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			result = stripQuotes(trimmed)
		}
	}()

	substituted := substituteRefs(trimmed, ctx)
	return stripQuotes(strings.TrimSpace(evalText(substituted, true)))
}

// substituteRefs replaces every @key reference with a double-quoted literal
// of the context value. Runs exactly once, before any function or operator
// evaluation, so downstream stages only ever see string literals.
func substituteRefs(expression string, ctx map[string]string) string {
	return refPattern.ReplaceAllStringFunc(expression, func(ref string) string {
		key := ref[1:] // drop '@'
		return `"` + ctx[key] + `"`
	})
}

// Refs returns the distinct column keys referenced by the expression, in
// order of first appearance. Used by column validation to check that every
// reference resolves and that formula columns do not form cycles.
func Refs(expression string) []string {
	matches := refPattern.FindAllStringSubmatch(expression, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

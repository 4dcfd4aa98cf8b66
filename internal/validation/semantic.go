package validation

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/formula"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// validateSemantic performs the checks JSON Schema cannot express: key
// grammar and collisions, kind-specific field rules, formula references
// resolving to known columns, jq path syntax, and cron spec syntax.
// existing holds the table's current columns; a definition reusing an
// existing key is treated as an update of that column.
func validateSemantic(def *schema.ColumnDefinition, existing []*schema.Column, jq *expressions.GoJQEngine, cronParser cron.Parser) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if !schema.ColumnKeyPattern.MatchString(def.Key) {
		result.AddError("key", schema.ErrCodeValidation,
			fmt.Sprintf("key %q must match %s", def.Key, schema.ColumnKeyPattern.String()))
	}

	kind := def.Kind
	if kind == "" {
		kind = schema.ColumnKindData
	}

	keys := make(map[string]*schema.Column, len(existing))
	for _, col := range existing {
		keys[col.Key] = col
	}

	switch kind {
	case schema.ColumnKindData:
		if def.Formula != "" {
			result.AddError("formula", schema.ErrCodeValidation, "data columns cannot carry a formula")
		}
		if def.Extract != "" {
			result.AddError("extract", schema.ErrCodeValidation, "data columns cannot carry an extraction path")
		}

	case schema.ColumnKindFormula:
		if def.Formula == "" {
			result.AddError("formula", schema.ErrCodeValidation, "formula columns require a formula")
		}
		if def.Extract != "" {
			result.AddError("extract", schema.ErrCodeValidation, "formula columns cannot carry an extraction path")
		}
		validateFormulaRefs(def, keys, result)

	case schema.ColumnKindEnrichment:
		if def.Extract == "" {
			result.AddError("extract", schema.ErrCodeValidation, "enrichment columns require an extraction path")
		} else if err := jq.Parse(def.Extract); err != nil {
			result.AddError("extract", schema.ErrCodeValidation, err.Error())
		}
		if def.Formula != "" {
			result.AddError("formula", schema.ErrCodeValidation, "enrichment columns cannot carry a formula")
		}
	}

	if def.Refresh != "" {
		if kind == schema.ColumnKindData {
			result.AddError("refresh", schema.ErrCodeValidation, "data columns cannot be refreshed on a schedule")
		} else if _, err := cronParser.Parse(def.Refresh); err != nil {
			result.AddError("refresh", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron spec %q: %s", def.Refresh, err.Error()))
		}
	}

	return result
}

// validateFormulaRefs checks that every @reference resolves to a column of
// the table. References to unknown keys are warnings: the evaluator resolves
// them to the empty string rather than failing, so the column still previews.
func validateFormulaRefs(def *schema.ColumnDefinition, keys map[string]*schema.Column, result *schema.ValidationResult) {
	for _, ref := range formula.Refs(def.Formula) {
		if ref == def.Key {
			result.AddError("formula", schema.ErrCodeValidation,
				fmt.Sprintf("formula references its own column %q", ref))
			continue
		}
		if _, ok := keys[ref]; !ok {
			result.AddWarning("formula", schema.ErrCodeValidation,
				fmt.Sprintf("reference @%s does not match any column; it will resolve to an empty value", ref))
		}
	}
}

// validateCycles runs Kahn's algorithm over the formula dependency graph that
// would result from applying the definition, and reports a cycle as an error
// naming the columns involved.
func validateCycles(def *schema.ColumnDefinition, existing []*schema.Column) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def.Kind != schema.ColumnKindFormula {
		return result
	}

	// formulas is the post-apply view: existing formula columns with the
	// definition's key overridden by the definition itself.
	formulas := make(map[string]string)
	for _, col := range existing {
		if col.Kind == schema.ColumnKindFormula {
			formulas[col.Key] = col.Formula
		}
	}
	formulas[def.Key] = def.Formula

	// edges[key] = formula columns key depends on, reverse[dep] = dependents.
	edges := make(map[string][]string, len(formulas))
	reverse := make(map[string][]string, len(formulas))
	for key, expr := range formulas {
		seen := make(map[string]bool)
		for _, ref := range formula.Refs(expr) {
			if _, isFormula := formulas[ref]; !isFormula || seen[ref] {
				continue // data and enrichment refs cannot form cycles
			}
			seen[ref] = true
			edges[key] = append(edges[key], ref)
			reverse[ref] = append(reverse[ref], key)
		}
	}

	inDegree := make(map[string]int, len(formulas))
	for key := range formulas {
		inDegree[key] = len(edges[key])
	}

	queue := make([]string, 0, len(formulas))
	for key, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(formulas) {
		var cyclic []string
		for key, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, key)
			}
		}
		sort.Strings(cyclic)
		result.AddError("formula", schema.ErrCodeValidation,
			fmt.Sprintf("formula columns form a reference cycle: %v", cyclic))
	}

	return result
}

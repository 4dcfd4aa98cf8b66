// Package validation checks column definitions before they are persisted.
// The pipeline runs structural (JSON Schema), semantic, and dependency-graph
// checks, accumulating every issue instead of stopping at the first.
package validation

import (
	"github.com/robfig/cron/v3"

	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// Validator runs the full column definition validation pipeline.
type Validator struct {
	structural *JSONSchemaValidator
	jq         *expressions.GoJQEngine
	cronParser cron.Parser
}

// NewValidator creates a validator. The standard five-field cron grammar with
// descriptors (@hourly etc.) is accepted for refresh schedules.
func NewValidator(jq *expressions.GoJQEngine) (*Validator, error) {
	structural, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		structural: structural,
		jq:         jq,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// ValidateDefinition validates a column definition against a table's current
// columns. Structural failures short-circuit the later stages: semantic
// checks on a malformed document produce noise, not signal.
func (v *Validator) ValidateDefinition(def *schema.ColumnDefinition, existing []*schema.Column) *schema.ValidationResult {
	if def == nil {
		result := &schema.ValidationResult{}
		result.AddError("", schema.ErrCodeValidation, "column definition is nil")
		return result
	}

	result := v.structural.validateStructural(def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, existing, v.jq, v.cronParser))
	if result.Valid() {
		result.Merge(validateCycles(def, existing))
	}
	return result
}

package schema

import (
	"encoding/json"
	"regexp"
	"time"
)

// ColumnKeyPattern is the grammar for column keys. Formulas reference columns
// as @key, so the same pattern drives reference substitution in the evaluator.
// Keys are case-sensitive.
var ColumnKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ColumnKind enumerates the kinds of columns a table can hold.
type ColumnKind string

const (
	// ColumnKindData holds values written directly by users or imports.
	ColumnKindData ColumnKind = "data"
	// ColumnKindFormula holds values derived from other columns via a formula
	// expression (e.g. `@first_name & " " & @last_name`).
	ColumnKindFormula ColumnKind = "formula"
	// ColumnKindEnrichment holds values extracted from AI enrichment payloads
	// via a jq path.
	ColumnKindEnrichment ColumnKind = "enrichment"
)

// Table is a dynamic data table owned by a workspace.
type Table struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Column is a single column of a table. Kind-specific fields:
// Formula for formula columns (persisted verbatim, never as an AST),
// Extract for enrichment columns (a jq path into the enrichment payload).
type Column struct {
	ID        string     `json:"id"`
	TableID   string     `json:"table_id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Kind      ColumnKind `json:"kind"`
	Formula   string     `json:"formula,omitempty"`
	Extract   string     `json:"extract,omitempty"`
	Position  int        `json:"position"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ColumnDefinition is the JSON document agents and the configuration surface
// submit to create or update a column. Validated by internal/validation before
// it is persisted.
type ColumnDefinition struct {
	Key     string     `json:"key"`
	Name    string     `json:"name,omitempty"`
	Kind    ColumnKind `json:"kind,omitempty"` // default: data
	Formula string     `json:"formula,omitempty"`
	Extract string     `json:"extract,omitempty"`
	Refresh string     `json:"refresh,omitempty"` // cron spec for scheduled recomputation
}

// Row is a single record of a table. Cells maps column key to the stored
// value; values are stringified when a formula context is built from them.
type Row struct {
	ID        string         `json:"id"`
	TableID   string         `json:"table_id"`
	Cells     map[string]any `json:"cells"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TriggerRule fires an agent action when a row matching Condition changes.
// Condition is an expr-lang expression over the row's cells.
type TriggerRule struct {
	ID        string          `json:"id"`
	TableID   string          `json:"table_id"`
	Name      string          `json:"name"`
	Condition string          `json:"condition"`
	Action    json.RawMessage `json:"action,omitempty"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

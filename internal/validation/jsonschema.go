package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/salesgrid/salesgrid/pkg/schema"
)

// columnSchemaJSON is the JSON Schema for ColumnDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const columnSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://salesgrid.dev/schemas/column.json",
  "type": "object",
  "required": ["key"],
  "properties": {
    "key": {
      "type": "string",
      "pattern": "^[a-zA-Z_][a-zA-Z0-9_]*$"
    },
    "name": {
      "type": "string",
      "maxLength": 200
    },
    "kind": {
      "type": "string",
      "enum": ["data", "formula", "enrichment"]
    },
    "formula": {
      "type": "string",
      "maxLength": 10000
    },
    "extract": {
      "type": "string",
      "maxLength": 2000
    },
    "refresh": {
      "type": "string",
      "maxLength": 100
    }
  },
  "additionalProperties": false
}`

// JSONSchemaValidator validates column definitions against the column JSON
// Schema (Draft 2020-12). It is safe for concurrent use: the compiled schema
// is immutable after construction.
type JSONSchemaValidator struct {
	columnSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the column schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(columnSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal column schema: %w", err)
	}
	if err := c.AddResource("https://salesgrid.dev/schemas/column.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add column schema resource: %w", err)
	}

	compiled, err := c.Compile("https://salesgrid.dev/schemas/column.json")
	if err != nil {
		return nil, fmt.Errorf("compile column schema: %w", err)
	}

	return &JSONSchemaValidator{columnSchema: compiled}, nil
}

// validateStructural validates a ColumnDefinition against the column schema.
func (v *JSONSchemaValidator) validateStructural(def *schema.ColumnDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("", schema.ErrCodeValidation, "failed to serialize column definition: "+err.Error())
		return result
	}

	if err := v.columnSchema.Validate(doc); err != nil {
		for _, violation := range violations(err) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
	}
	return result
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

type violation struct {
	path    string
	message string
}

// violations walks a ValidationError tree and collects leaf messages with
// their instance locations.
func violations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "", message: err.Error()}}
	}
	return collectViolations(verr)
}

func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

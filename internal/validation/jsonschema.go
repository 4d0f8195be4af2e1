package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for workflow configuration
// documents. Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://zengrowth.dev/schemas/workflow.json",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "version": { "type": "string" },
    "settings": {
      "type": "object",
      "properties": {
        "mode": {
          "type": "string",
          "enum": ["sequential", "parallel"]
        },
        "pool_size": {
          "type": "integer",
          "minimum": 1
        },
        "history_size": {
          "type": "integer",
          "minimum": 1
        }
      },
      "additionalProperties": false
    },
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/task" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "task": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1,
          "pattern": "^[A-Za-z_][A-Za-z0-9_-]*$"
        },
        "description": { "type": "string" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" },
          "uniqueItems": true
        },
        "priority": { "type": "integer" },
        "retries": {
          "type": "integer",
          "minimum": 0
        },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h)([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))*$"
        },
        "condition": { "type": "string" },
        "params": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

// ConfigValidator validates workflow configuration documents against the
// embedded JSON Schema plus the semantic and graph checks the schema
// cannot express. It is safe for concurrent use.
type ConfigValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewConfigValidator compiles the workflow schema.
func NewConfigValidator() (*ConfigValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://zengrowth.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://zengrowth.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &ConfigValidator{workflowSchema: wfSchema}, nil
}

// ValidateDocument checks a decoded configuration document against the
// workflow schema. Run this on the raw document before struct decoding:
// it catches misspelled field names that decoding would silently drop.
func (v *ConfigValidator) ValidateDocument(doc any) error {
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// toEngineError converts a jsonschema.ValidationError into an
// EngineError with one message per leaf violation.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("configuration schema validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

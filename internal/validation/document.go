package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// IsJSON sniffs whether data is a JSON document. Anything else is
// treated as YAML by the callers.
func IsJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// Document decodes raw JSON or YAML bytes into the generic value shape
// the schema validator expects: json.Number for numbers and
// map[string]any for objects. YAML input is round-tripped through JSON
// encoding so both formats validate identically.
func Document(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "configuration is empty")
	}

	if IsJSON(data) {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("parse configuration JSON: %s", err.Error())).WithCause(err)
		}
		return doc, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("parse configuration YAML: %s", err.Error())).WithCause(err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"configuration YAML does not map to a JSON document").WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(encoded)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("parse configuration: %s", err.Error())).WithCause(err)
	}
	return doc, nil
}

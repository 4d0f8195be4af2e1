package validation

import "github.com/xiongQvQ/ZenGrowth/pkg/schema"

// ValidateBytes runs the structural stage on raw configuration bytes,
// JSON or YAML. Decode the struct only after this passes.
func (v *ConfigValidator) ValidateBytes(data []byte) error {
	doc, err := Document(data)
	if err != nil {
		return err
	}
	return v.ValidateDocument(doc)
}

// Validate runs the semantic and graph stages over a decoded
// configuration and returns the aggregated result. Graph analysis is
// skipped when semantic errors are present: the edges may be invalid.
func (v *ConfigValidator) Validate(cfg *schema.WorkflowConfig) *schema.ValidationResult {
	if cfg == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow configuration is nil")
		return r
	}

	result := validateSemantic(cfg)
	if result.Valid() {
		result.Merge(validateDAG(cfg))
	}
	return result
}

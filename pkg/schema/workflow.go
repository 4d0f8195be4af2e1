package schema

import "time"

// ConfigVersion is the current workflow configuration format version.
const ConfigVersion = "1"

// WorkflowConfig is the serializable workflow format produced by
// ExportConfiguration and accepted by ImportConfiguration, in JSON or
// YAML form. Handlers never serialize; they are bound by task id at
// import time.
type WorkflowConfig struct {
	Version  string           `json:"version,omitempty" yaml:"version,omitempty"`
	Settings WorkflowSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
	Tasks    []TaskConfig     `json:"tasks" yaml:"tasks"`
}

// WorkflowSettings carries the orchestration knobs that travel with a
// workflow definition. On import they are advisory: the owning process
// decides whether to rebuild its orchestrator around them.
type WorkflowSettings struct {
	Mode        ExecutionMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	PoolSize    int           `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	HistorySize int           `json:"history_size,omitempty" yaml:"history_size,omitempty"`
}

// TaskConfig is the serialized form of a TaskDefinition. Timeout uses Go
// duration syntax ("30s", "5m").
type TaskConfig struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Priority    int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Retries     int            `json:"retries,omitempty" yaml:"retries,omitempty"`
	Timeout     string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Condition   string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Definition converts the serialized task into a runtime TaskDefinition
// with the handler left unbound.
func (c TaskConfig) Definition() (TaskDefinition, error) {
	def := TaskDefinition{
		ID:          c.ID,
		Description: c.Description,
		DependsOn:   append([]string(nil), c.DependsOn...),
		Priority:    c.Priority,
		Retries:     c.Retries,
		Condition:   c.Condition,
		Params:      c.Params,
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return def, NewErrorf(ErrCodeValidation,
				"task %s has invalid timeout %q: %s", c.ID, c.Timeout, err.Error()).WithTask(c.ID)
		}
		if d < 0 {
			return def, NewErrorf(ErrCodeValidation,
				"task %s has negative timeout %q", c.ID, c.Timeout).WithTask(c.ID)
		}
		def.Timeout = d
	}
	return def, nil
}

// ConfigFromDefinition converts a runtime definition back to its
// serialized form.
func ConfigFromDefinition(def *TaskDefinition) TaskConfig {
	cfg := TaskConfig{
		ID:          def.ID,
		Description: def.Description,
		DependsOn:   append([]string(nil), def.DependsOn...),
		Priority:    def.Priority,
		Retries:     def.Retries,
		Condition:   def.Condition,
	}
	if def.Timeout > 0 {
		cfg.Timeout = def.Timeout.String()
	}
	if len(def.Params) > 0 {
		params := make(map[string]any, len(def.Params))
		for k, v := range def.Params {
			params[k] = v
		}
		cfg.Params = params
	}
	return cfg
}

package orchestrator

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/xiongQvQ/ZenGrowth/internal/validation"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// ExportConfiguration snapshots the registered tasks as a portable
// configuration, in registration order. Handlers are code and do not
// travel with the export; imports re-bind them by task id.
func (o *Orchestrator) ExportConfiguration() *schema.WorkflowConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cfg := &schema.WorkflowConfig{
		Version: schema.ConfigVersion,
		Settings: schema.WorkflowSettings{
			PoolSize:    o.cfg.PoolSize,
			HistorySize: o.cfg.HistorySize,
		},
		Tasks: make([]schema.TaskConfig, 0, len(o.regOrder)),
	}
	for _, id := range o.regOrder {
		cfg.Tasks = append(cfg.Tasks, schema.ConfigFromDefinition(o.defs[id]))
	}
	return cfg
}

// ExportJSON renders the current configuration as indented JSON.
func (o *Orchestrator) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(o.ExportConfiguration(), "", "  ")
}

// ExportYAML renders the current configuration as YAML.
func (o *Orchestrator) ExportYAML() ([]byte, error) {
	return yaml.Marshal(o.ExportConfiguration())
}

// ImportConfiguration replaces the task registry with the tasks decoded
// from data, JSON or YAML. Every task must have a handler in handlers,
// keyed by task id. The import is all-or-nothing: any validation error
// or unbound handler leaves the existing registry untouched. Settings
// in the document are advisory and do not resize a live orchestrator.
func (o *Orchestrator) ImportConfiguration(data []byte, handlers map[string]schema.TaskHandler) error {
	if err := o.validator.ValidateBytes(data); err != nil {
		return err
	}

	var cfg schema.WorkflowConfig
	var err error
	if validation.IsJSON(data) {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"decode configuration: %s", err.Error()).WithCause(err)
	}

	if cfg.Version != "" && cfg.Version != schema.ConfigVersion {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported configuration version %q", cfg.Version)
	}

	res := o.validator.Validate(&cfg)
	for _, w := range res.Warnings {
		o.logger.Warn("configuration warning", "path", w.Path, "message", w.Message)
	}
	if !res.Valid() {
		return res.ToError()
	}

	defs := make([]*schema.TaskDefinition, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		def, err := tc.Definition()
		if err != nil {
			return err
		}
		handler, ok := handlers[tc.ID]
		if !ok || handler == nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"no handler bound for task %q", tc.ID).WithTask(tc.ID)
		}
		def.Handler = handler
		defs = append(defs, &def)
	}

	// Recomputing the plan keeps the registry swap all-or-nothing.
	if _, err := computePlan(defs); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runActive {
		return schema.NewError(schema.ErrCodeExecution,
			"cannot import configuration while a run is active")
	}
	o.defs = make(map[string]*schema.TaskDefinition, len(defs))
	o.regOrder = make([]string, 0, len(defs))
	o.results = make(map[string]*schema.TaskResult, len(defs))
	for _, def := range defs {
		o.defs[def.ID] = def
		o.regOrder = append(o.regOrder, def.ID)
	}

	o.logger.Info("configuration imported", "tasks", len(defs))
	return nil
}

package config

import (
	"encoding/json"

	domainconfig "github.com/felixgeelhaar/explore-go/domain/config"
)

// JSONSchema represents a JSON Schema document.
type JSONSchema struct {
	Schema               string                 `json:"$schema,omitempty"`
	ID                   string                 `json:"$id,omitempty"`
	Title                string                 `json:"title,omitempty"`
	Description          string                 `json:"description,omitempty"`
	Type                 string                 `json:"type,omitempty"`
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	AdditionalProperties *JSONSchema            `json:"additionalProperties,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	Default              any                    `json:"default,omitempty"`
	Minimum              *float64               `json:"minimum,omitempty"`
	Maximum              *float64               `json:"maximum,omitempty"`
	Format               string                 `json:"format,omitempty"`
}

// GenerateSchema generates a JSON Schema for the ExploreConfig.
func GenerateSchema() *JSONSchema {
	return &JSONSchema{
		Schema:      "https://json-schema.org/draft/2020-12/schema",
		ID:          "https://github.com/felixgeelhaar/explore-go/explore-config.schema.json",
		Title:       "Exploration Configuration",
		Description: "Configuration schema for explore-go runs",
		Type:        "object",
		Required:    []string{"name", "device"},
		Properties: map[string]*JSONSchema{
			"name":        str("A human-readable name for this configuration"),
			"version":     {Type: "string", Description: "The configuration schema version", Default: "1.0"},
			"description": str("Describes the exploration"),
			"app": object("Application under exploration", map[string]*JSONSchema{
				"package":             str("Package name, or host for web applications"),
				"file_name":           str("Installable file the package came from"),
				"launchable_activity": str("Entry screen"),
			}, "package"),
			"exploration": generateExplorationSchema(),
			"executor":    generateExecutorSchema(),
			"selectors": {
				Type:        "array",
				Description: "Expression selectors handing control to registered policies",
				Items: object("Expression selector", map[string]*JSONSchema{
					"description": str("Name of the selector in logs"),
					"priority":    {Type: "integer", Description: "Lower values are tried first"},
					"expression":  str("Boolean expression over the exploration state"),
					"policy":      str("Policy that receives control"),
				}, "description", "expression", "policy"),
			},
			"flows": {
				Type:        "array",
				Description: "Guided flows",
				Items:       generateFlowSchema(),
			},
			"observers": generateObserversSchema(),
			"report": object("Report sinks", map[string]*JSONSchema{
				"dir": {Type: "string", Description: "Report directory", Default: "explore-output"},
				"sinks": {
					Type:        "array",
					Description: "Sinks to write",
					Items: &JSONSchema{
						Type: "string",
						Enum: []string{domainconfig.SinkFilesystem, domainconfig.SinkSQLite, domainconfig.SinkBadger},
					},
				},
				"indent": {Type: "boolean", Description: "Pretty-print JSON files"},
			}),
			"device": generateDeviceSchema(),
			"logging": object("Process logger", map[string]*JSONSchema{
				"level":  {Type: "string", Enum: []string{"trace", "debug", "info", "warn", "error"}, Default: "info"},
				"format": {Type: "string", Enum: []string{"console", "json"}, Default: "console"},
			}),
		},
	}
}

func generateExplorationSchema() *JSONSchema {
	return object("Loop and termination settings", map[string]*JSONSchema{
		"max_actions":            {Type: "integer", Description: "Terminate after this many actions", Minimum: floatPtr(0)},
		"time_limit":             duration("Terminate after this much exploration time", ""),
		"stop_when_all_explored": {Type: "boolean", Description: "Terminate once every seen widget was explored"},
		"terminate_when": {
			Type:        "array",
			Description: "Expression conditions that end the run",
			Items: object("Named condition", map[string]*JSONSchema{
				"name":       str("Condition name"),
				"expression": str("Boolean expression over the exploration state"),
			}, "name", "expression"),
		},
		"random_seed":       {Type: "integer", Description: "Seed of the random widget policy (0 = time based)", Minimum: floatPtr(0)},
		"take_screenshots":  {Type: "boolean", Description: "Request a screenshot after every action", Default: false},
		"selection_workers": {Type: "integer", Description: "Concurrent selector predicates (0 = processors - 1)", Minimum: floatPtr(0)},
	})
}

func generateExecutorSchema() *JSONSchema {
	return object("Action executor", map[string]*JSONSchema{
		"interaction_timeout": duration("Bound of every device call", "30s"),
		"reconnect_attempts":  {Type: "integer", Description: "Reconnects before the coordinate fallback", Minimum: floatPtr(0), Maximum: floatPtr(1), Default: 1},
		"reconnect_delay":     duration("Delay between reconnect attempts", "100ms"),
		"settle_delay":        duration("Wait after every successful action", "0s"),
	})
}

func generateFlowSchema() *JSONSchema {
	marker := object("Widget marker", map[string]*JSONSchema{
		"text":        str("Widget text, case-insensitive"),
		"resource_id": str("Widget resource id"),
	})
	return object("Guided flow, a preset or a custom definition", map[string]*JSONSchema{
		"preset":  {Type: "string", Enum: []string{domainconfig.PresetLoginWithGoogle}},
		"name":    str("Name of a custom flow"),
		"initial": str("Initial state"),
		"final":   str("Final state"),
		"transitions": {
			Type: "array",
			Items: object("Flow transition", map[string]*JSONSchema{
				"name":    str("Transition name"),
				"from":    {Type: "array", Items: &JSONSchema{Type: "string"}},
				"to":      str("Target state"),
				"markers": {Type: "array", Items: marker},
			}, "name", "from", "to", "markers"),
		},
		"delay": duration("Wait after each flow action", "1s"),
	})
}

func generateObserversSchema() *JSONSchema {
	return object("Observers; the action counter is always enabled", map[string]*JSONSchema{
		"coverage": object("Statement coverage", map[string]*JSONSchema{
			"enabled":             {Type: "boolean"},
			"instrumentation_dir": str("Directory of the instrumentation files"),
			"breaker_threshold":   {Type: "integer", Minimum: floatPtr(0), Default: 3},
			"breaker_timeout":     duration("How long reads stay suspended", "30s"),
		}),
		"img_trace":        {Type: "boolean", Description: "Outline targets on screenshots"},
		"view_count":       {Type: "boolean", Description: "Seen and clicked views over time"},
		"api_action_trace": {Type: "boolean", Description: "API calls per action"},
		"state_graph":      {Type: "boolean", Description: "Explored states as a DOT graph"},
	})
}

func generateDeviceSchema() *JSONSchema {
	return object("Control surface", map[string]*JSONSchema{
		"type":  {Type: "string", Enum: []string{domainconfig.DeviceSimulated, domainconfig.DeviceBrowser}, Default: domainconfig.DeviceSimulated},
		"model": str("App model of a simulated device"),
		"browser": object("Browser device", map[string]*JSONSchema{
			"start_url":          {Type: "string", Format: "uri"},
			"control_url":        str("DevTools URL of a running browser"),
			"bin":                str("Browser binary to launch"),
			"headless":           {Type: "boolean"},
			"navigation_timeout": duration("Bound of page loads", "30s"),
		}),
	}, "type")
}

func object(description string, props map[string]*JSONSchema, required ...string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  props,
		Required:    required,
	}
}

func str(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

func duration(description, def string) *JSONSchema {
	s := &JSONSchema{Type: "string", Format: "duration", Description: description}
	if def != "" {
		s.Default = def
	}
	return s
}

func floatPtr(f float64) *float64 {
	return &f
}

// SchemaJSON returns the JSON Schema as a JSON string.
func SchemaJSON() (string, error) {
	data, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// PresetLoginWithGoogle is the built-in Google sign-in flow.
const PresetLoginWithGoogle = "login-with-google"

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the JSON path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates exploration configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *ExploreConfig) ValidationErrors {
	v.errors = nil

	v.validateRequired(config)
	v.validateExploration(config)
	v.validateExecutor(config)
	v.validateSelectors(config)
	v.validateFlows(config)
	v.validateObservers(config)
	v.validateReport(config)
	v.validateDevice(config)
	v.validateLogging(config)

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateRequired(config *ExploreConfig) {
	if config.Name == "" {
		v.addError("name", "name is required")
	}
	if config.App.Package == "" && config.Device.Type != DeviceBrowser {
		v.addError("app.package", "package is required")
	}
}

func (v *Validator) validateExploration(config *ExploreConfig) {
	e := config.Exploration
	if e.MaxActions < 0 {
		v.addError("exploration.max_actions", "max_actions must be non-negative")
	}
	if e.TimeLimit < 0 {
		v.addError("exploration.time_limit", "time_limit must be non-negative")
	}
	if e.SelectionWorkers < 0 {
		v.addError("exploration.selection_workers", "selection_workers must be non-negative")
	}
	if e.MaxActions == 0 && e.TimeLimit == 0 && !e.StopWhenAllExplored && len(e.TerminateWhen) == 0 {
		v.addError("exploration", "at least one termination condition is required")
	}
	names := make(map[string]bool)
	for i, c := range e.TerminateWhen {
		path := fmt.Sprintf("exploration.terminate_when[%d]", i)
		if c.Name == "" {
			v.addError(path+".name", "condition name is required")
		} else if names[c.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate condition: %s", c.Name))
		}
		names[c.Name] = true
		if c.Expression == "" {
			v.addError(path+".expression", "expression is required")
		}
	}
}

// maxReconnectAttempts is the number of reconnects a step may make.
const maxReconnectAttempts = 1

func (v *Validator) validateExecutor(config *ExploreConfig) {
	e := config.Executor
	if e.InteractionTimeout < 0 {
		v.addError("executor.interaction_timeout", "interaction_timeout must be non-negative")
	}
	switch {
	case e.ReconnectAttempts < 0:
		v.addError("executor.reconnect_attempts", "reconnect_attempts must be non-negative")
	case e.ReconnectAttempts > maxReconnectAttempts:
		v.addError("executor.reconnect_attempts", fmt.Sprintf("reconnect_attempts must be at most %d per step", maxReconnectAttempts))
	}
	if e.ReconnectDelay < 0 {
		v.addError("executor.reconnect_delay", "reconnect_delay must be non-negative")
	}
	if e.SettleDelay < 0 {
		v.addError("executor.settle_delay", "settle_delay must be non-negative")
	}
}

func (v *Validator) validateSelectors(config *ExploreConfig) {
	for i, s := range config.Selectors {
		path := fmt.Sprintf("selectors[%d]", i)
		if s.Description == "" {
			v.addError(path+".description", "description is required")
		}
		if s.Expression == "" {
			v.addError(path+".expression", "expression is required")
		}
		if s.Policy == "" {
			v.addError(path+".policy", "policy is required")
		}
	}
}

func (v *Validator) validateFlows(config *ExploreConfig) {
	names := make(map[string]bool)
	for i, f := range config.Flows {
		path := fmt.Sprintf("flows[%d]", i)
		switch {
		case f.Preset != "":
			if f.Preset != PresetLoginWithGoogle {
				v.addError(path+".preset", fmt.Sprintf("unknown preset: %s", f.Preset))
			}
			if f.Name != "" || len(f.Transitions) > 0 {
				v.addError(path, "preset and custom definition are mutually exclusive")
			}
		default:
			if err := f.Definition().Validate(); err != nil {
				v.addError(path, err.Error())
			}
		}
		if f.Delay < 0 {
			v.addError(path+".delay", "delay must be non-negative")
		}
		if name := f.FlowName(); name != "" {
			if names[name] {
				v.addError(path, fmt.Sprintf("duplicate flow: %s", name))
			}
			names[name] = true
		}
	}
}

func (v *Validator) validateObservers(config *ExploreConfig) {
	c := config.Observers.Coverage
	if !c.Enabled {
		return
	}
	if c.BreakerThreshold < 0 {
		v.addError("observers.coverage.breaker_threshold", "breaker_threshold must be non-negative")
	}
	if c.BreakerTimeout < 0 {
		v.addError("observers.coverage.breaker_timeout", "breaker_timeout must be non-negative")
	}
}

func (v *Validator) validateReport(config *ExploreConfig) {
	valid := []string{SinkFilesystem, SinkSQLite, SinkBadger}
	seen := make(map[string]bool)
	for i, s := range config.Report.Sinks {
		path := fmt.Sprintf("report.sinks[%d]", i)
		if !slices.Contains(valid, s) {
			v.addError(path, fmt.Sprintf("unknown sink: %s", s))
		} else if seen[s] {
			v.addError(path, fmt.Sprintf("duplicate sink: %s", s))
		}
		seen[s] = true
	}
}

func (v *Validator) validateDevice(config *ExploreConfig) {
	d := config.Device
	switch d.Type {
	case "", DeviceSimulated:
		if d.Model == "" {
			v.addError("device.model", "model is required for simulated devices")
		}
	case DeviceBrowser:
		if d.Browser.StartURL == "" {
			v.addError("device.browser.start_url", "start_url is required for browser devices")
			return
		}
		u, err := url.Parse(d.Browser.StartURL)
		if err != nil || u.Host == "" {
			v.addError("device.browser.start_url", fmt.Sprintf("invalid url: %s", d.Browser.StartURL))
			return
		}
		if config.App.Package != "" && config.App.Package != u.Host {
			v.addError("app.package", fmt.Sprintf("package must match the start url host %s", u.Host))
		}
	default:
		v.addError("device.type", fmt.Sprintf("unknown device type: %s", d.Type))
	}
}

func (v *Validator) validateLogging(config *ExploreConfig) {
	if l := config.Logging.Level; l != "" {
		if !slices.Contains([]string{"trace", "debug", "info", "warn", "error"}, strings.ToLower(l)) {
			v.addError("logging.level", fmt.Sprintf("invalid level: %s", l))
		}
	}
	if f := config.Logging.Format; f != "" && f != "console" && f != "json" {
		v.addError("logging.format", fmt.Sprintf("invalid format: %s", f))
	}
}

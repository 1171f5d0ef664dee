// Package config provides domain models for exploration configuration.
package config

import (
	"time"

	"github.com/felixgeelhaar/explore-go/domain/strategy"
)

// ExploreConfig represents the complete exploration configuration.
type ExploreConfig struct {
	// Name is a human-readable name for this configuration.
	Name string `json:"name" yaml:"name"`
	// Version is the configuration schema version.
	Version string `json:"version" yaml:"version"`
	// Description describes the exploration.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// App identifies the application under exploration.
	App AppConfig `json:"app" yaml:"app"`
	// Exploration contains loop and termination settings.
	Exploration ExplorationConfig `json:"exploration,omitempty" yaml:"exploration,omitempty"`
	// Executor contains action executor settings.
	Executor ExecutorConfig `json:"executor,omitempty" yaml:"executor,omitempty"`
	// Selectors are additional expression selectors.
	Selectors []SelectorConfig `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	// Flows are the guided flows to register.
	Flows []FlowConfig `json:"flows,omitempty" yaml:"flows,omitempty"`
	// Observers enables the observers of a run.
	Observers ObserversConfig `json:"observers,omitempty" yaml:"observers,omitempty"`
	// Report configures the report sinks.
	Report ReportConfig `json:"report,omitempty" yaml:"report,omitempty"`
	// Device selects the control surface.
	Device DeviceConfig `json:"device" yaml:"device"`
	// Logging configures the process logger.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// AppConfig identifies the application under exploration.
type AppConfig struct {
	// Package is the package name (or host, for web applications).
	Package string `json:"package" yaml:"package"`
	// FileName is the installable file the package came from.
	FileName string `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	// LaunchableActivity is the entry screen.
	LaunchableActivity string `json:"launchable_activity,omitempty" yaml:"launchable_activity,omitempty"`
}

// ExplorationConfig contains loop and termination settings.
type ExplorationConfig struct {
	// MaxActions terminates after this many actions (0 = unlimited).
	MaxActions int `json:"max_actions,omitempty" yaml:"max_actions,omitempty"`
	// TimeLimit terminates after this much exploration time (0 = unlimited).
	TimeLimit Duration `json:"time_limit,omitempty" yaml:"time_limit,omitempty"`
	// StopWhenAllExplored terminates once every seen widget was explored.
	StopWhenAllExplored bool `json:"stop_when_all_explored,omitempty" yaml:"stop_when_all_explored,omitempty"`
	// TerminateWhen lists expression conditions that end the run.
	TerminateWhen []ConditionConfig `json:"terminate_when,omitempty" yaml:"terminate_when,omitempty"`
	// RandomSeed seeds the random widget policy (0 = time based).
	RandomSeed uint64 `json:"random_seed,omitempty" yaml:"random_seed,omitempty"`
	// TakeScreenshots requests a screenshot after every action.
	TakeScreenshots bool `json:"take_screenshots,omitempty" yaml:"take_screenshots,omitempty"`
	// SelectionWorkers bounds concurrent selector predicates (0 = default).
	SelectionWorkers int `json:"selection_workers,omitempty" yaml:"selection_workers,omitempty"`
}

// ConditionConfig is a named expression condition.
type ConditionConfig struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
}

// ExecutorConfig contains action executor settings.
type ExecutorConfig struct {
	// InteractionTimeout bounds every device call.
	InteractionTimeout Duration `json:"interaction_timeout,omitempty" yaml:"interaction_timeout,omitempty"`
	// ReconnectAttempts bounds the reconnect before the coordinate fallback.
	ReconnectAttempts int `json:"reconnect_attempts,omitempty" yaml:"reconnect_attempts,omitempty"`
	// ReconnectDelay is the delay between reconnect attempts.
	ReconnectDelay Duration `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"`
	// SettleDelay is waited after every successful action.
	SettleDelay Duration `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`
}

// SelectorConfig defines an expression selector.
type SelectorConfig struct {
	// Description names the selector in logs.
	Description string `json:"description" yaml:"description"`
	// Priority orders the selector; lower values are tried first.
	Priority int `json:"priority" yaml:"priority"`
	// Expression is evaluated against the exploration state.
	Expression string `json:"expression" yaml:"expression"`
	// Policy is the policy that receives control.
	Policy string `json:"policy" yaml:"policy"`
}

// FlowConfig defines a guided flow, either a preset or a full definition.
type FlowConfig struct {
	// Preset selects a built-in flow (login-with-google).
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`
	// Name names a custom flow.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Initial is the initial state of a custom flow.
	Initial string `json:"initial,omitempty" yaml:"initial,omitempty"`
	// Final is the final state of a custom flow.
	Final string `json:"final,omitempty" yaml:"final,omitempty"`
	// Transitions are the transitions of a custom flow.
	Transitions []strategy.FlowTransition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	// Delay is waited after each flow action.
	Delay Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// FlowName returns the name of the flow.
func (f FlowConfig) FlowName() string {
	if f.Preset != "" {
		return f.Preset
	}
	return f.Name
}

// Definition returns the definition of a custom flow.
func (f FlowConfig) Definition() strategy.FlowDefinition {
	return strategy.FlowDefinition{
		Name:        f.Name,
		Initial:     f.Initial,
		Final:       f.Final,
		Transitions: f.Transitions,
	}
}

// ObserversConfig enables observers. The action counter is always on.
type ObserversConfig struct {
	Coverage       CoverageConfig `json:"coverage,omitempty" yaml:"coverage,omitempty"`
	ImgTrace       bool           `json:"img_trace,omitempty" yaml:"img_trace,omitempty"`
	ViewCount      bool           `json:"view_count,omitempty" yaml:"view_count,omitempty"`
	APIActionTrace bool           `json:"api_action_trace,omitempty" yaml:"api_action_trace,omitempty"`
	StateGraph     bool           `json:"state_graph,omitempty" yaml:"state_graph,omitempty"`
}

// CoverageConfig configures statement coverage.
type CoverageConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// InstrumentationDir holds the instrumentation files.
	InstrumentationDir string `json:"instrumentation_dir,omitempty" yaml:"instrumentation_dir,omitempty"`
	// BreakerThreshold is the number of failed reads that suspend reading.
	BreakerThreshold int `json:"breaker_threshold,omitempty" yaml:"breaker_threshold,omitempty"`
	// BreakerTimeout is how long reads stay suspended.
	BreakerTimeout Duration `json:"breaker_timeout,omitempty" yaml:"breaker_timeout,omitempty"`
}

// Report sink names.
const (
	SinkFilesystem = "filesystem"
	SinkSQLite     = "sqlite"
	SinkBadger     = "badger"
)

// ReportConfig configures where finished runs are written.
type ReportConfig struct {
	// Dir is the report directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Sinks lists the sinks to write (filesystem, sqlite, badger).
	Sinks []string `json:"sinks,omitempty" yaml:"sinks,omitempty"`
	// Indent pretty-prints the JSON files.
	Indent bool `json:"indent,omitempty" yaml:"indent,omitempty"`
}

// Device types.
const (
	DeviceSimulated = "simulated"
	DeviceBrowser   = "browser"
)

// DeviceConfig selects the control surface.
type DeviceConfig struct {
	// Type is simulated or browser.
	Type string `json:"type" yaml:"type"`
	// Model is the app model of a simulated device.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Browser configures a browser device.
	Browser BrowserConfig `json:"browser,omitempty" yaml:"browser,omitempty"`
}

// BrowserConfig configures a browser device.
type BrowserConfig struct {
	StartURL          string   `json:"start_url,omitempty" yaml:"start_url,omitempty"`
	ControlURL        string   `json:"control_url,omitempty" yaml:"control_url,omitempty"`
	Bin               string   `json:"bin,omitempty" yaml:"bin,omitempty"`
	Headless          bool     `json:"headless,omitempty" yaml:"headless,omitempty"`
	NavigationTimeout Duration `json:"navigation_timeout,omitempty" yaml:"navigation_timeout,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is console or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *ExploreConfig) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Executor.InteractionTimeout == 0 {
		c.Executor.InteractionTimeout = Duration(30 * time.Second)
	}
	if c.Executor.ReconnectAttempts == 0 {
		c.Executor.ReconnectAttempts = 1
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "explore-output"
	}
	if len(c.Report.Sinks) == 0 {
		c.Report.Sinks = []string{SinkFilesystem}
	}
	if c.Device.Type == "" {
		c.Device.Type = DeviceSimulated
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Handle null
	if string(b) == "null" {
		return nil
	}

	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

package exploration

import (
	"errors"
	"time"
)

// EmptyLocator is the locator of the synthetic seed result.
const EmptyLocator = "test://empty"

// LogEntry is one record of the target's background log stream.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level,omitempty"`
	Tag     string    `json:"tag,omitempty"`
	Message string    `json:"message"`

	// Method is the signature of a monitored API call, if the entry is one.
	Method string `json:"method,omitempty"`

	// Intent carries the intent of activity launches.
	Intent string `json:"intent,omitempty"`

	// Background marks entries that are expected noise.
	Background bool `json:"background,omitempty"`
}

// LogBundle is the set of log entries attributed to one step.
type LogBundle []LogEntry

// APICalls returns the entries describing monitored API calls.
func (b LogBundle) APICalls() LogBundle {
	var out LogBundle
	for _, e := range b {
		if e.Method != "" {
			out = append(out, e)
		}
	}
	return out
}

// Foreground returns the entries that are not background noise.
func (b LogBundle) Foreground() LogBundle {
	var out LogBundle
	for _, e := range b {
		if !e.Background {
			out = append(out, e)
		}
	}
	return out
}

// ExecutionResult is the outcome of executing one action.
type ExecutionResult struct {
	Success  bool          `json:"success"`
	Logs     LogBundle     `json:"logs,omitempty"`
	Snapshot Snapshot      `json:"snapshot"`
	Err      error         `json:"-"`
	Locator  string        `json:"locator,omitempty"`
	Duration time.Duration `json:"duration"`
}

// EmptyResult returns the always successful result used to seed a run.
func EmptyResult() ExecutionResult {
	return ExecutionResult{
		Success:  true,
		Snapshot: MissingSnapshot(),
		Locator:  EmptyLocator,
	}
}

// FailedResult returns an unsuccessful result carrying the cause and any
// logs that could still be drained.
func FailedResult(cause error, logs LogBundle) ExecutionResult {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return ExecutionResult{
		Success:  false,
		Logs:     logs,
		Snapshot: MissingSnapshot(),
		Err:      cause,
	}
}

// ErrorMessage returns the failure cause as text.
func (r ExecutionResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// TraceRecord pairs an action with its result.
type TraceRecord struct {
	Index  int             `json:"index"`
	Action Action          `json:"action"`
	Result ExecutionResult `json:"result"`
}

// App describes the application under exploration.
type App struct {
	PackageName        string `json:"package_name"`
	FileName           string `json:"file_name,omitempty"`
	LaunchableActivity string `json:"launchable_activity,omitempty"`
}

// Validate checks that the application is identified.
func (a App) Validate() error {
	if a.PackageName == "" {
		return ErrInvalidApp
	}
	return nil
}

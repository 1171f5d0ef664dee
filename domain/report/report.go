// Package report defines how finished explorations are persisted.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Domain errors for reporting.
var (
	// ErrNotSealed indicates a report was requested for a running exploration.
	ErrNotSealed = errors.New("exploration is not sealed")

	// ErrNoContext indicates a report was requested without an exploration.
	ErrNoContext = errors.New("no exploration to report")
)

// Sink writes one representation of a finished exploration into a
// directory.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Write persists the exploration under dir.
	Write(ctx context.Context, ec *exploration.Context, dir string) error
}

// Summary is the digest of a finished exploration.
type Summary struct {
	RunID       string        `json:"run_id"`
	App         string        `json:"app"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Actions     int           `json:"actions"`
	Failures    int           `json:"failures"`
	States      int           `json:"states"`
	SeenWidgets int           `json:"seen_widgets"`
	Explored    int           `json:"explored_widgets"`
	APICalls    int           `json:"api_calls"`
	Terminated  bool          `json:"terminated"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Summarize computes the summary of an exploration.
func Summarize(ec *exploration.Context) Summary {
	s := Summary{
		RunID:       ec.RunID(),
		App:         ec.App().PackageName,
		StartTime:   ec.StartTime(),
		EndTime:     ec.EndTime(),
		Duration:    ec.Elapsed(),
		Actions:     ec.Size(),
		States:      len(ec.States()),
		SeenWidgets: len(ec.SeenWidgets()),
		Explored:    len(ec.ExploredWidgets()),
	}
	for _, r := range ec.Records() {
		if !r.Result.Success {
			s.Failures++
		}
		s.APICalls += len(r.Result.Logs.APICalls())
	}
	if last, ok := ec.LastAction(); ok && last.IsTerminate() {
		s.Terminated = true
		s.Reason = last.Reason
	}
	if err := ec.TerminalError(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// Record is the flat form of one trace record.
type Record struct {
	Index       int                    `json:"index"`
	ActionID    string                 `json:"action_id"`
	Kind        exploration.ActionKind `json:"kind"`
	Source      string                 `json:"source,omitempty"`
	WidgetID    string                 `json:"widget_id,omitempty"`
	WidgetText  string                 `json:"widget_text,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Locator     string                 `json:"locator,omitempty"`
	Duration    time.Duration          `json:"duration"`
	StateID     string                 `json:"state_id"`
	PackageName string                 `json:"package_name,omitempty"`
	Activity    string                 `json:"activity,omitempty"`
	Logs        int                    `json:"logs"`
}

// Flatten converts a trace record.
func Flatten(r exploration.TraceRecord) Record {
	out := Record{
		Index:       r.Index,
		ActionID:    r.Action.ID,
		Kind:        r.Action.Kind,
		Source:      r.Action.Source,
		Timestamp:   r.Action.Timestamp,
		Success:     r.Result.Success,
		Error:       r.Result.ErrorMessage(),
		Locator:     r.Result.Locator,
		Duration:    r.Result.Duration,
		StateID:     r.Result.Snapshot.ID,
		PackageName: r.Result.Snapshot.PackageName,
		Activity:    r.Result.Snapshot.Activity,
		Logs:        len(r.Result.Logs),
	}
	if t := r.Action.Target; t != nil {
		out.WidgetID = t.ID
		out.WidgetText = t.Text
	}
	return out
}

// Records flattens every record of an exploration.
func Records(ec *exploration.Context) []Record {
	records := ec.Records()
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, Flatten(r))
	}
	return out
}

// CheckReportable returns an error unless the exploration can be reported.
func CheckReportable(ec *exploration.Context) error {
	if ec == nil {
		return ErrNoContext
	}
	if !ec.Sealed() {
		return ErrNotSealed
	}
	return nil
}

// Package exploration provides the domain model of a UI exploration run:
// actions, execution results, the append-only trace and the run context.
package exploration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind classifies an action.
type ActionKind string

// Action kinds.
const (
	ActionReset     ActionKind = "reset"
	ActionBack      ActionKind = "back"
	ActionTerminate ActionKind = "terminate"
	ActionClick     ActionKind = "click"
	ActionLongClick ActionKind = "long_click"
	ActionToggle    ActionKind = "toggle"
	ActionScroll    ActionKind = "scroll"
)

// String returns the string representation of the kind.
func (k ActionKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a recognized action kind.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionReset, ActionBack, ActionTerminate,
		ActionClick, ActionLongClick, ActionToggle, ActionScroll:
		return true
	default:
		return false
	}
}

// TargetsWidget returns true if the kind interacts with a specific widget.
func (k ActionKind) TargetsWidget() bool {
	switch k {
	case ActionClick, ActionLongClick, ActionToggle, ActionScroll:
		return true
	default:
		return false
	}
}

// Action describes one interaction with the target. Actions are values and
// are never mutated once stamped.
type Action struct {
	// ID uniquely identifies the action within a run. Empty until stamped.
	ID string `json:"id,omitempty"`

	// Kind is the interaction type.
	Kind ActionKind `json:"kind"`

	// Target is the widget the action is addressed to, if any.
	Target *Widget `json:"target,omitempty"`

	// UseCoordinates addresses the target by screen coordinates instead of
	// its structural locator.
	UseCoordinates bool `json:"use_coordinates,omitempty"`

	// Delay is the settle time after a successful execution.
	Delay time.Duration `json:"delay,omitempty"`

	// Timestamp is when the action was stamped by the loop.
	Timestamp time.Time `json:"timestamp"`

	// TakeScreenshot requests a screenshot together with the snapshot.
	TakeScreenshot bool `json:"take_screenshot,omitempty"`

	// Source names the policy that decided the action.
	Source string `json:"source,omitempty"`

	// Reason is a free-form explanation, used by terminate actions.
	Reason string `json:"reason,omitempty"`
}

// NewResetAction creates an action that restarts the target application.
func NewResetAction() Action {
	return Action{Kind: ActionReset}
}

// NewBackAction creates an action that presses the back button.
func NewBackAction() Action {
	return Action{Kind: ActionBack}
}

// NewTerminateAction creates the terminate sentinel.
func NewTerminateAction(reason string) Action {
	return Action{Kind: ActionTerminate, Reason: reason}
}

// NewWidgetAction creates an interaction with the given widget.
func NewWidgetAction(w Widget, kind ActionKind) Action {
	target := w
	return Action{Kind: kind, Target: &target}
}

// WithDelay returns a copy of the action with the given settle delay.
func (a Action) WithDelay(d time.Duration) Action {
	a.Delay = d
	return a
}

// WithCoordinates returns a copy of the action addressed by coordinates.
func (a Action) WithCoordinates() Action {
	a.UseCoordinates = true
	return a
}

// WithSource returns a copy of the action attributed to the given policy.
func (a Action) WithSource(name string) Action {
	a.Source = name
	return a
}

// Stamp turns a decision into an executable action with an identifier,
// a creation timestamp and execution options.
func (a Action) Stamp(ts time.Time, screenshot bool) Action {
	a.ID = uuid.NewString()
	a.Timestamp = ts
	a.TakeScreenshot = screenshot
	return a
}

// IsReset returns true for reset actions.
func (a Action) IsReset() bool {
	return a.Kind == ActionReset
}

// IsTerminate returns true for the terminate sentinel.
func (a Action) IsTerminate() bool {
	return a.Kind == ActionTerminate
}

// String returns a short human readable description.
func (a Action) String() string {
	if a.Target != nil {
		return fmt.Sprintf("%s(%s)", a.Kind, a.Target.ID)
	}
	if a.Reason != "" {
		return fmt.Sprintf("%s(%s)", a.Kind, a.Reason)
	}
	return string(a.Kind)
}

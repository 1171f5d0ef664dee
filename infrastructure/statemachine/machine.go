// Package statemachine provides the statekit integration for exploration
// runs: the phase machine driving the loop and the machines behind guided
// flows.
package statemachine

import (
	"time"

	"github.com/felixgeelhaar/statekit"
)

// Phase is a phase of an exploration run.
type Phase string

// Run phases.
const (
	PhasePreflight Phase = "preflight"
	PhaseLooping   Phase = "looping"
	PhaseFinalize  Phase = "finalize"
	PhaseDone      Phase = "done"
	PhaseAborted   Phase = "aborted"
)

// IsTerminal returns true for phases without outgoing transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// Transition is one recorded phase change.
type Transition struct {
	From   Phase
	To     Phase
	Reason string
	At     time.Time
}

// Context carries run state through the phase machine.
type Context struct {
	RunID   string
	Phase   Phase
	Steps   int
	History []Transition
}

// NewContext creates a new machine context.
func NewContext(runID string) *Context {
	return &Context{
		RunID: runID,
		Phase: PhasePreflight,
	}
}

// State IDs as StateID type for statekit.
const (
	statePreflight statekit.StateID = statekit.StateID(PhasePreflight)
	stateLooping   statekit.StateID = statekit.StateID(PhaseLooping)
	stateFinalize  statekit.StateID = statekit.StateID(PhaseFinalize)
	stateDone      statekit.StateID = statekit.StateID(PhaseDone)
	stateAborted   statekit.StateID = statekit.StateID(PhaseAborted)
)

// Events driving the phase machine.
const (
	EventStartLoop statekit.EventType = "START_LOOP"
	EventFinalize  statekit.EventType = "FINALIZE"
	EventDone      statekit.EventType = "DONE"
	EventAbort     statekit.EventType = "ABORT"
)

// NewPhaseMachine creates the statechart of an exploration run:
// preflight -> looping -> finalize -> done, with aborts from the first two.
func NewPhaseMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context]("exploration").
		WithInitial(statePreflight).
		WithContext(&Context{}).
		WithAction("logEntry", logPhaseEntry).
		WithAction("recordTransition", recordTransition).
		WithGuard("stepsRecorded", guardStepsRecorded).
		State(statePreflight).
			OnEntry("logEntry").
			On(EventStartLoop).Target(stateLooping).Do("recordTransition").
			On(EventAbort).Target(stateAborted).Do("recordTransition").
			Done().
		State(stateLooping).
			OnEntry("logEntry").
			On(EventFinalize).Target(stateFinalize).Guard("stepsRecorded").Do("recordTransition").
			On(EventAbort).Target(stateAborted).Do("recordTransition").
			Done().
		State(stateFinalize).
			OnEntry("logEntry").
			On(EventDone).Target(stateDone).Do("recordTransition").
			Done().
		State(stateDone).
			Final().
			OnEntry("logEntry").
			Done().
		State(stateAborted).
			Final().
			OnEntry("logEntry").
			Done().
		Build()
}

// EventForPhase returns the event that leads into the given phase.
func EventForPhase(to Phase) statekit.EventType {
	switch to {
	case PhaseLooping:
		return EventStartLoop
	case PhaseFinalize:
		return EventFinalize
	case PhaseDone:
		return EventDone
	case PhaseAborted:
		return EventAbort
	default:
		return statekit.EventType(to)
	}
}

// phaseFromEventType derives the target phase from an event type.
func phaseFromEventType(eventType statekit.EventType) Phase {
	switch eventType {
	case EventStartLoop:
		return PhaseLooping
	case EventFinalize:
		return PhaseFinalize
	case EventDone:
		return PhaseDone
	case EventAbort:
		return PhaseAborted
	default:
		return ""
	}
}

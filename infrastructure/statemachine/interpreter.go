package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// ErrTransitionRejected is returned when the machine did not take a
// transition, either because it is not defined or because a guard failed.
var ErrTransitionRejected = errors.New("transition rejected")

// allowedPhases lists the legal phase transitions.
var allowedPhases = map[Phase][]Phase{
	PhasePreflight: {PhaseLooping, PhaseAborted},
	PhaseLooping:   {PhaseFinalize, PhaseAborted},
	PhaseFinalize:  {PhaseDone},
}

// Interpreter wraps the statekit interpreter with run phase functionality.
type Interpreter struct {
	interp *statekit.Interpreter[*Context]
	ctx    *Context
}

// NewInterpreter creates a new interpreter for the phase machine.
func NewInterpreter(machine *statekit.MachineConfig[*Context], ctx *Context) *Interpreter {
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	return &Interpreter{
		interp: interp,
		ctx:    ctx,
	}
}

// NewRunInterpreter builds the phase machine and starts an interpreter for
// the given run.
func NewRunInterpreter(runID string) (*Interpreter, error) {
	machine, err := NewPhaseMachine()
	if err != nil {
		return nil, fmt.Errorf("build phase machine: %w", err)
	}
	i := NewInterpreter(machine, NewContext(runID))
	i.Start()
	return i, nil
}

// Start initializes the interpreter and enters the initial phase.
func (i *Interpreter) Start() {
	i.interp.Start()
	i.ctx.Phase = Phase(i.interp.State().Value)
}

// Stop stops the interpreter.
func (i *Interpreter) Stop() {
	i.interp.Stop()
}

// Phase returns the current phase.
func (i *Interpreter) Phase() Phase {
	return Phase(i.interp.State().Value)
}

// CanTransition checks if a transition to the target phase is defined.
func (i *Interpreter) CanTransition(to Phase) bool {
	for _, p := range allowedPhases[i.Phase()] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition moves the machine to the target phase.
func (i *Interpreter) Transition(to Phase, reason string) error {
	from := i.Phase()
	if !i.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionRejected, from, to)
	}

	i.interp.Send(statekit.Event{
		Type:    EventForPhase(to),
		Payload: TransitionPayload{To: to, Reason: reason},
	})

	if got := i.Phase(); got != to {
		return fmt.Errorf("%w: %s -> %s (guard)", ErrTransitionRejected, from, to)
	}
	i.ctx.Phase = to
	return nil
}

// RecordStep counts an executed step.
func (i *Interpreter) RecordStep() {
	i.ctx.Steps++
}

// IsTerminal returns true if the interpreter is in a final phase.
func (i *Interpreter) IsTerminal() bool {
	return i.interp.Done()
}

// Context returns the interpreter context.
func (i *Interpreter) Context() *Context {
	return i.ctx
}

// Matches checks if the current phase matches the given one.
func (i *Interpreter) Matches(p Phase) bool {
	return i.interp.Matches(statekit.StateID(p))
}

// ResumeFrom restores the interpreter to a specific phase.
func (i *Interpreter) ResumeFrom(p Phase) error {
	snapshot := statekit.Snapshot[*Context]{
		MachineID:    "exploration",
		CurrentState: statekit.StateID(p),
		Context:      i.ctx,
		CreatedAt:    time.Now(),
	}
	if err := i.interp.Restore(snapshot); err != nil {
		return fmt.Errorf("failed to restore phase: %w", err)
	}
	i.ctx.Phase = p
	return nil
}

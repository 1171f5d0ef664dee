package statemachine

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
)

// FlowContext carries guided flow state through its machine.
type FlowContext struct {
	Flow     string
	Snapshot exploration.Snapshot
	Fired    []string
}

// NewFlowMachine builds a statechart from a flow definition. Every
// transition becomes an event named after it, guarded by its markers.
func NewFlowMachine(def strategy.FlowDefinition) (*statekit.MachineConfig[*FlowContext], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	b := statekit.NewMachine[*FlowContext](def.Name).
		WithInitial(statekit.StateID(def.Initial)).
		WithContext(&FlowContext{Flow: def.Name}).
		WithAction("record", recordFlowTransition)

	for _, t := range def.Transitions {
		b = b.WithGuard(guardName(t), guardMarkerPresent(t))
	}

	for _, state := range def.States() {
		if state == def.Final {
			b = b.State(statekit.StateID(state)).Final().Done()
			continue
		}

		outgoing := def.Outgoing(state)
		first := outgoing[0]
		tb := b.State(statekit.StateID(state)).
			On(flowEvent(first)).Target(statekit.StateID(first.To)).Guard(guardName(first)).Do("record")
		for _, t := range outgoing[1:] {
			tb = tb.On(flowEvent(t)).Target(statekit.StateID(t.To)).Guard(guardName(t)).Do("record")
		}
		b = tb.Done()
	}

	return b.Build()
}

func flowEvent(t strategy.FlowTransition) statekit.EventType {
	return statekit.EventType(t.Name)
}

func guardName(t strategy.FlowTransition) statekit.GuardType {
	return statekit.GuardType("marker:" + t.Name)
}

func recordFlowTransition(ctx **FlowContext, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	(*ctx).Fired = append((*ctx).Fired, string(event.Type))
}

// FlowInterpreter runs a guided flow over successive snapshots.
type FlowInterpreter struct {
	def     strategy.FlowDefinition
	machine *statekit.MachineConfig[*FlowContext]
	interp  *statekit.Interpreter[*FlowContext]
	ctx     *FlowContext
}

// NewFlowInterpreter builds and starts an interpreter for the flow.
func NewFlowInterpreter(def strategy.FlowDefinition) (*FlowInterpreter, error) {
	machine, err := NewFlowMachine(def)
	if err != nil {
		return nil, err
	}
	f := &FlowInterpreter{def: def, machine: machine}
	f.start()
	return f, nil
}

func (f *FlowInterpreter) start() {
	ctx := &FlowContext{Flow: f.def.Name}
	interp := statekit.NewInterpreter(f.machine)
	interp.UpdateContext(func(c **FlowContext) {
		*c = ctx
	})
	interp.Start()
	f.interp = interp
	f.ctx = ctx
}

// Definition returns the flow definition.
func (f *FlowInterpreter) Definition() strategy.FlowDefinition {
	return f.def
}

// State returns the current flow state.
func (f *FlowInterpreter) State() string {
	return string(f.interp.State().Value)
}

// Done returns true once the final state is reached.
func (f *FlowInterpreter) Done() bool {
	return f.interp.Done()
}

// Fired returns the names of the transitions taken so far.
func (f *FlowInterpreter) Fired() []string {
	out := make([]string, len(f.ctx.Fired))
	copy(out, f.ctx.Fired)
	return out
}

// Next returns the first transition enabled in the current state whose
// marker is visible, together with the widget to act on.
func (f *FlowInterpreter) Next(s exploration.Snapshot) (strategy.FlowTransition, exploration.Widget, bool) {
	for _, t := range f.def.Outgoing(f.State()) {
		if w, ok := t.Match(s); ok {
			return t, w, true
		}
	}
	return strategy.FlowTransition{}, exploration.Widget{}, false
}

// Fire takes the transition for the given snapshot.
func (f *FlowInterpreter) Fire(t strategy.FlowTransition, s exploration.Snapshot) error {
	from := f.State()
	f.ctx.Snapshot = s
	f.interp.Send(statekit.Event{Type: flowEvent(t)})

	if got := f.State(); got != t.To {
		return fmt.Errorf("%w: flow %s %s -[%s]-> %s", ErrTransitionRejected, f.def.Name, from, t.Name, t.To)
	}
	return nil
}

// Reset stops the current interpreter and starts over at the initial state.
func (f *FlowInterpreter) Reset() {
	f.interp.Stop()
	f.start()
}

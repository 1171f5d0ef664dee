package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/explore-go/domain/strategy"
)

// guardStepsRecorded only lets a run finalize after at least one step.
// Note: In statekit, guards receive the context by value. Since our context is
// *Context, the guard receives *Context directly.
func guardStepsRecorded(ctx *Context, _ statekit.Event) bool {
	if ctx == nil {
		return false
	}
	return ctx.Steps > 0
}

// guardMarkerPresent returns a guard that passes when the flow transition's
// marker is visible in the current snapshot.
func guardMarkerPresent(t strategy.FlowTransition) statekit.Guard[*FlowContext] {
	return func(ctx *FlowContext, _ statekit.Event) bool {
		if ctx == nil {
			return false
		}
		_, ok := t.Match(ctx.Snapshot)
		return ok
	}
}

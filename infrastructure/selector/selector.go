// Package selector provides the standard selectors that hand control to
// registered policies.
package selector

import (
	"context"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/policy"
)

// Priorities of the standard selectors. Lower values are tried first.
const (
	PriorityStartReset       = 0
	PriorityTerminate        = 10
	PriorityPermissionDialog = 20
	PriorityGuidedFlow       = 30
	PriorityCannotExplore    = 40
	PriorityExpr             = 50
	PriorityRandomWidget     = 1000
)

// applicable returns the registered policy if it can act now.
func applicable(pool strategy.PoolView, name string) strategy.Policy {
	p, ok := pool.Lookup(name)
	if !ok || !p.Applicable() {
		return nil
	}
	return p
}

// StartExplorationReset resets the application on the first step.
func StartExplorationReset() strategy.Selector {
	return strategy.Selector{
		Description: "start exploration reset",
		Priority:    PriorityStartReset,
		Predicate: func(_ context.Context, ec *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			if !ec.IsEmpty() {
				return nil, nil
			}
			return applicable(pool, policy.ResetName), nil
		},
	}
}

// Terminate hands control to the first registered terminate policy whose
// condition is met.
func Terminate() strategy.Selector {
	return strategy.Selector{
		Description: "terminate",
		Priority:    PriorityTerminate,
		Predicate: func(ctx context.Context, ec *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			if ec.IsEmpty() {
				return nil, nil
			}
			for _, p := range pool.Policies() {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if t, ok := p.(*policy.Terminate); ok && t.Applicable() {
					return t, nil
				}
			}
			return nil, nil
		},
		OnSelected: func(ec *exploration.Context) {
			logging.For("selector").Info().
				Add(logging.RunID(ec.RunID())).
				Add(logging.Step(ec.Size())).
				Msg("terminate condition met")
		},
	}
}

// PermissionDialog accepts runtime permission dialogs.
func PermissionDialog() strategy.Selector {
	return strategy.Selector{
		Description: "permission dialog",
		Priority:    PriorityPermissionDialog,
		Predicate: func(_ context.Context, ec *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			if !ec.CurrentState().IsPermissionDialog {
				return nil, nil
			}
			return applicable(pool, policy.AllowPermissionName), nil
		},
	}
}

// GuidedFlow hands control to the named flow while one of its transitions
// is enabled.
func GuidedFlow(flow string) strategy.Selector {
	return strategy.Selector{
		Description: "guided flow " + flow,
		Priority:    PriorityGuidedFlow,
		Params:      strategy.Params{"flow": flow},
		Predicate: func(_ context.Context, ec *exploration.Context, pool strategy.PoolView, params strategy.Params) (strategy.Policy, error) {
			if ec.IsEmpty() {
				return nil, nil
			}
			return applicable(pool, policy.FlowPolicyName(params.String("flow"))), nil
		},
	}
}

// CannotExplore presses back when the current state has left the
// application or offers nothing to act upon, and resets if the previous
// action was already a back or reset.
func CannotExplore() strategy.Selector {
	return strategy.Selector{
		Description: "cannot explore",
		Priority:    PriorityCannotExplore,
		Predicate: func(_ context.Context, ec *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			if ec.IsEmpty() {
				return nil, nil
			}
			state := ec.CurrentState()
			if state.BelongsTo(ec.App().PackageName) && len(state.ActionableWidgets()) > 0 {
				return nil, nil
			}
			if last, ok := ec.LastAction(); ok && (last.IsReset() || last.Kind == exploration.ActionBack) {
				return applicable(pool, policy.ResetName), nil
			}
			return applicable(pool, policy.PressBackName), nil
		},
	}
}

// RandomWidget is the catch-all selector.
func RandomWidget() strategy.Selector {
	return strategy.Selector{
		Description: "random widget",
		Priority:    PriorityRandomWidget,
		Predicate: func(_ context.Context, _ *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			p, ok := pool.Lookup(policy.RandomWidgetName)
			if !ok {
				return nil, nil
			}
			return p, nil
		},
	}
}

// Defaults returns the standard selectors, with one guided flow selector
// per flow name.
func Defaults(flows ...string) []strategy.Selector {
	selectors := []strategy.Selector{
		StartExplorationReset(),
		Terminate(),
		PermissionDialog(),
	}
	for _, f := range flows {
		selectors = append(selectors, GuidedFlow(f))
	}
	return append(selectors, CannotExplore(), RandomWidget())
}

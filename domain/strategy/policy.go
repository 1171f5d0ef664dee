// Package strategy defines the decision contracts of an exploration run:
// policies that choose actions and selectors that hand control to them.
package strategy

import (
	"context"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Policy is a unit of decision logic. Policies are stateful and owned by a
// single pool; the pool never calls a policy concurrently with itself.
type Policy interface {
	// Name identifies the policy in logs and lookups.
	Name() string

	// Initialize binds the policy to the run context and to the controller
	// it hands control back to.
	Initialize(ec *exploration.Context, ctrl Controller)

	// Applicable reports whether the policy could act on the current state.
	Applicable() bool

	// Decide returns the next action. An error is a contract violation.
	Decide(ctx context.Context) (exploration.Action, error)

	// UpdateState is called for every policy after every step. It must not
	// block.
	UpdateState(step int, record exploration.TraceRecord)

	// OnTargetFound is called when any policy reports a found target.
	OnTargetFound(origin Policy, target Target, result exploration.ExecutionResult)

	// ContextFree reports whether the policy never keeps control across steps.
	ContextFree() bool

	// Equal reports whether two policies are the same registration.
	Equal(other Policy) bool
}

// Controller receives control back from policies.
type Controller interface {
	// ReleaseControl returns control to the pool. Only the active policy or
	// a context-free policy may call it.
	ReleaseControl(p Policy) error

	// OnTargetFound broadcasts a found target to every registered policy.
	OnTargetFound(origin Policy, target Target, result exploration.ExecutionResult)

	// NotifyAllWidgetsBlacklisted records that no widget is left to explore.
	NotifyAllWidgetsBlacklisted()
}

// Target describes a widget a policy was looking for.
type Target struct {
	Widget      exploration.Widget
	Description string
}

// PoolView is the read-only view of the pool passed to selector predicates.
type PoolView interface {
	// Lookup returns the registered policy with the given name.
	Lookup(name string) (Policy, bool)

	// Policies returns the registered policies in registration order.
	Policies() []Policy

	// Size returns the number of registered policies.
	Size() int

	// Step returns the number of completed steps.
	Step() int

	// AllWidgetsBlacklisted reports whether a policy flagged that nothing is
	// left to explore.
	AllWidgetsBlacklisted() bool
}

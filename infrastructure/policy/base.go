// Package policy provides the decision policies of an exploration run.
package policy

import (
	"sync"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// Base carries the bookkeeping shared by all policies. Embedders provide
// Applicable and Decide.
type Base struct {
	name        string
	contextFree bool

	mu   sync.RWMutex
	ec   *exploration.Context
	ctrl strategy.Controller

	log *logging.Scoped
}

func newBase(name string, contextFree bool) Base {
	return Base{
		name:        name,
		contextFree: contextFree,
		log:         logging.For("policy"),
	}
}

// Name returns the policy name.
func (b *Base) Name() string {
	return b.name
}

// Initialize binds the policy to a run.
func (b *Base) Initialize(ec *exploration.Context, ctrl strategy.Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ec = ec
	b.ctrl = ctrl
}

// Context returns the bound run context.
func (b *Base) Context() *exploration.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ec
}

// Controller returns the bound controller.
func (b *Base) Controller() strategy.Controller {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctrl
}

// CurrentState returns the snapshot the next decision is made on.
func (b *Base) CurrentState() exploration.Snapshot {
	ec := b.Context()
	if ec == nil {
		return exploration.MissingSnapshot()
	}
	return ec.CurrentState()
}

// UpdateState is a no-op by default.
func (b *Base) UpdateState(int, exploration.TraceRecord) {}

// OnTargetFound is a no-op by default.
func (b *Base) OnTargetFound(strategy.Policy, strategy.Target, exploration.ExecutionResult) {}

// ContextFree reports whether the policy hands control back after every
// decision.
func (b *Base) ContextFree() bool {
	return b.contextFree
}

// Equal compares registrations by name.
func (b *Base) Equal(other strategy.Policy) bool {
	return other != nil && other.Name() == b.name
}

// handBack returns control to the controller on behalf of self.
func (b *Base) handBack(self strategy.Policy) error {
	ctrl := b.Controller()
	if ctrl == nil {
		return nil
	}
	return ctrl.ReleaseControl(self)
}

// requireContext returns the bound context or a contract violation.
func (b *Base) requireContext() (*exploration.Context, error) {
	ec := b.Context()
	if ec == nil {
		return nil, strategy.Violation(b.name, errNotInitialized)
	}
	return ec, nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// Pool owns the registered policies and selectors of a run and decides, on
// every step, which policy is in control. It is Idle when no policy holds
// control and Active otherwise.
type Pool struct {
	ec        *exploration.Context
	selectors []strategy.Selector
	workers   int64

	mu          sync.RWMutex
	policies    []strategy.Policy
	active      strategy.Policy
	step        int
	blacklisted bool

	metrics telemetry.Metrics
	log     *logging.Scoped
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithSelectionWorkers bounds how many selector predicates run at once.
func WithSelectionWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = int64(n)
		}
	}
}

// WithPoolMetrics sets the metrics recorder.
func WithPoolMetrics(m telemetry.Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = m
	}
}

// DefaultSelectionWorkers leaves one processor to the loop.
func DefaultSelectionWorkers() int {
	return max(runtime.GOMAXPROCS(0)-1, 1)
}

// NewPool creates a pool bound to the run context and registers the
// policies in order.
func NewPool(ec *exploration.Context, selectors []strategy.Selector, policies []strategy.Policy, opts ...PoolOption) (*Pool, error) {
	if ec == nil {
		return nil, errors.New("exploration context is required")
	}
	for _, s := range selectors {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("selector %q: %w", s.Description, err)
		}
	}

	p := &Pool{
		ec:        ec,
		selectors: strategy.SortByPriority(selectors),
		workers:   int64(DefaultSelectionWorkers()),
		metrics:   &telemetry.NoopMetricsProvider{},
		log:       logging.For("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, pol := range policies {
		p.Register(pol)
	}
	return p, nil
}

// Register adds a policy unless an equal one is already registered. The
// policy is bound to the run context with the pool as its controller.
func (p *Pool) Register(pol strategy.Policy) bool {
	p.mu.Lock()
	for _, existing := range p.policies {
		if existing.Equal(pol) {
			p.mu.Unlock()
			p.log.Warn().
				Add(logging.Policy(pol.Name())).
				Msg("policy already registered, skipping")
			return false
		}
	}
	p.policies = append(p.policies, pol)
	p.mu.Unlock()

	pol.Initialize(p.ec, p)
	p.log.Debug().
		Add(logging.Policy(pol.Name())).
		Msg("policy registered")
	return true
}

// Decide returns the next action. When Idle it runs a selection round
// first. Context-free policies return the pool to Idle after deciding;
// others keep control until they release it.
func (p *Pool) Decide(ctx context.Context, last exploration.ExecutionResult) (exploration.Action, error) {
	if !last.Success {
		return exploration.Action{}, strategy.Violation("pool", strategy.ErrUnsuccessfulResult)
	}

	p.mu.RLock()
	empty := len(p.policies) == 0
	active := p.active
	p.mu.RUnlock()

	if empty {
		return exploration.Action{}, strategy.Violation("pool", strategy.ErrNoPolicies)
	}

	if active == nil {
		selected, err := p.selectPolicy(ctx)
		if err != nil {
			return exploration.Action{}, err
		}
		p.mu.Lock()
		p.active = selected
		p.mu.Unlock()
		active = selected
	} else {
		p.log.Debug().
			Add(logging.Policy(active.Name())).
			Msg("control is with active policy")
	}

	// The policy may release control while deciding.
	action, err := active.Decide(ctx)

	if active.ContextFree() {
		p.mu.Lock()
		if p.active != nil && p.active.Equal(active) {
			p.active = nil
		}
		p.mu.Unlock()
	}

	if err != nil {
		if !strategy.IsContractViolation(err) {
			err = strategy.Violation(active.Name(), err)
		}
		return exploration.Action{}, err
	}
	if action.Source == "" {
		action = action.WithSource(active.Name())
	}

	p.log.Info().
		Add(logging.Step(p.ec.Size())).
		Add(logging.Policy(active.Name())).
		Add(logging.Action(action)).
		Msg("decided")
	return action, nil
}

type selection struct {
	policy strategy.Policy
	err    error
}

// selectPolicy dispatches every predicate onto the bounded worker pool and
// awaits the results strictly in priority order. All predicates are done
// when it returns.
func (p *Pool) selectPolicy(ctx context.Context) (strategy.Policy, error) {
	start := time.Now()

	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	sem := semaphore.NewWeighted(p.workers)

	results := make([]chan selection, len(p.selectors))
	for i, s := range p.selectors {
		ch := make(chan selection, 1)
		results[i] = ch
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				ch <- selection{err: err}
				return nil
			}
			defer sem.Release(1)
			pol, err := p.runPredicate(gctx, s)
			ch <- selection{policy: pol, err: err}
			return nil
		})
	}

	winner := -1
	var chosen strategy.Policy
	for i, ch := range results {
		var r selection
		select {
		case r = <-ch:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			cancel()
			_ = g.Wait()
			return nil, err
		}
		if r.err != nil {
			p.log.Warn().
				Add(logging.Selector(p.selectors[i].Description, p.selectors[i].Priority)).
				Add(logging.ErrorField(r.err)).
				Msg("selector predicate failed, treating as no opinion")
			continue
		}
		if r.policy != nil {
			winner = i
			chosen = r.policy
			break
		}
	}

	cancel()
	_ = g.Wait()

	if winner < 0 {
		return nil, strategy.Violation("pool", strategy.ErrNoSelectorMatched)
	}

	sel := p.selectors[winner]
	if sel.OnSelected != nil {
		sel.OnSelected(p.ec)
	}

	d := time.Since(start)
	p.metrics.RecordSelection(ctx, chosen.Name(), sel.Description, d)
	p.log.Info().
		Add(logging.Selector(sel.Description, sel.Priority)).
		Add(logging.Policy(chosen.Name())).
		Add(logging.Duration(d)).
		Msg("policy selected")
	return chosen, nil
}

// runPredicate evaluates one predicate, turning a panic into an error.
func (p *Pool) runPredicate(ctx context.Context, s strategy.Selector) (pol strategy.Policy, err error) {
	defer func() {
		if r := recover(); r != nil {
			pol, err = nil, fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return s.Predicate(ctx, p.ec, p, s.Params)
}

// NotifyStepCompleted advances the step counter and updates every
// registered policy, whether or not it was in control.
func (p *Pool) NotifyStepCompleted(record exploration.TraceRecord) {
	p.mu.Lock()
	p.step++
	step := p.step
	policies := append([]strategy.Policy(nil), p.policies...)
	p.mu.Unlock()

	for _, pol := range policies {
		pol.UpdateState(step, record)
	}
}

// ReleaseControl implements strategy.Controller.
func (p *Pool) ReleaseControl(pol strategy.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil && p.active.Equal(pol) {
		p.active = nil
		return nil
	}
	if pol.ContextFree() {
		return nil
	}
	return strategy.Violation("pool", fmt.Errorf("%w: %s", strategy.ErrNotInControl, pol.Name()))
}

// OnTargetFound implements strategy.Controller.
func (p *Pool) OnTargetFound(origin strategy.Policy, target strategy.Target, result exploration.ExecutionResult) {
	for _, pol := range p.Policies() {
		pol.OnTargetFound(origin, target, result)
	}
}

// NotifyAllWidgetsBlacklisted implements strategy.Controller.
func (p *Pool) NotifyAllWidgetsBlacklisted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blacklisted = true
}

// AllWidgetsBlacklisted implements strategy.PoolView.
func (p *Pool) AllWidgetsBlacklisted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blacklisted
}

// Lookup implements strategy.PoolView.
func (p *Pool) Lookup(name string) (strategy.Policy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pol := range p.policies {
		if pol.Name() == name {
			return pol, true
		}
	}
	return nil, false
}

// Policies implements strategy.PoolView.
func (p *Pool) Policies() []strategy.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]strategy.Policy(nil), p.policies...)
}

// Size implements strategy.PoolView.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.policies)
}

// Step implements strategy.PoolView.
func (p *Pool) Step() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.step
}

// Active returns the policy in control, or nil when Idle.
func (p *Pool) Active() strategy.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Idle reports whether no policy holds control.
func (p *Pool) Idle() bool {
	return p.Active() == nil
}

// Selectors returns the selectors in the order they are tried.
func (p *Pool) Selectors() []strategy.Selector {
	return append([]strategy.Selector(nil), p.selectors...)
}

// Clear removes every policy and returns the pool to its initial state.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies = nil
	p.active = nil
	p.step = 0
	p.blacklisted = false
}

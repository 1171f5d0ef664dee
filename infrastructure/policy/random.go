package policy

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/observer"
)

// RandomWidgetName is the registration name of the catch-all policy.
const RandomWidgetName = "random-widget"

// RandomWidget picks a pseudo-random actionable widget, preferring the
// widgets least interacted with in the current state and then over the
// whole run.
type RandomWidget struct {
	Base

	rngMu   sync.Mutex
	rng     *rand.Rand
	counter *observer.ActionCounter
	awaiter observer.Awaiter
}

// RandomOption configures a RandomWidget.
type RandomOption func(*RandomWidget)

// WithActionCounter makes the policy read interaction counts from the
// counter, joining its outstanding work through awaiter first.
func WithActionCounter(counter *observer.ActionCounter, awaiter observer.Awaiter) RandomOption {
	return func(p *RandomWidget) {
		p.counter = counter
		p.awaiter = awaiter
	}
}

// NewRandomWidget creates the policy. A zero seed is replaced by the
// current time.
func NewRandomWidget(seed uint64, opts ...RandomOption) *RandomWidget {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	p := &RandomWidget{
		Base: newBase(RandomWidgetName, false),
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Applicable is true while the current state offers an actionable widget.
func (p *RandomWidget) Applicable() bool {
	return len(p.CurrentState().ActionableWidgets()) > 0
}

// Decide chooses a widget and one of its interactions, then hands control
// back.
func (p *RandomWidget) Decide(ctx context.Context) (exploration.Action, error) {
	ec, err := p.requireContext()
	if err != nil {
		return exploration.Action{}, err
	}

	state := ec.CurrentState()
	candidates := state.ActionableWidgets()
	if len(candidates) == 0 {
		return exploration.Action{}, strategy.Violation(p.Name(), strategy.ErrNoCandidates)
	}

	stateCount, runCount := p.counts(ctx, ec, state)
	candidates = leastBy(candidates, stateCount)
	if len(candidates) > 1 {
		candidates = leastBy(candidates, runCount)
	}

	p.rngMu.Lock()
	chosen := candidates[p.rng.IntN(len(candidates))]
	kinds := chosen.Interactions()
	kind := kinds[p.rng.IntN(len(kinds))]
	p.rngMu.Unlock()

	target := chosen
	ec.SetLastTarget(&target)

	p.log.Debug().
		Add(logging.Policy(p.Name())).
		Add(logging.Widget(chosen.ID)).
		Add(logging.Int("candidates", len(candidates))).
		Msg("chosen widget")

	if err := p.handBack(p); err != nil {
		return exploration.Action{}, err
	}
	return exploration.NewWidgetAction(chosen, kind).WithSource(p.Name()), nil
}

// counts returns the per-state and whole-run interaction counters. The
// action counter is joined first; if that fails the trace is counted
// directly.
func (p *RandomWidget) counts(ctx context.Context, ec *exploration.Context, state exploration.Snapshot) (func(string) int, func(string) int) {
	if p.counter != nil {
		ready := true
		if p.awaiter != nil {
			if err := p.awaiter.Await(ctx, observer.ActionCounterName); err != nil {
				p.log.Warn().
					Add(logging.Policy(p.Name())).
					Add(logging.ErrorField(err)).
					Msg("action counter unavailable, counting from trace")
				ready = false
			}
		}
		if ready {
			return func(id string) int { return p.counter.StateCount(state.ID, id) },
				p.counter.WidgetCount
		}
	}

	perState := make(map[string]int)
	for _, r := range ec.Records() {
		if r.Action.Target == nil || ec.StateBefore(r.Index).ID != state.ID {
			continue
		}
		perState[r.Action.Target.ID]++
	}
	return func(id string) int { return perState[id] }, ec.InteractionCount
}

// leastBy keeps the widgets with the smallest count, preserving order.
func leastBy(ws []exploration.Widget, count func(string) int) []exploration.Widget {
	var out []exploration.Widget
	best := -1
	for _, w := range ws {
		n := count(w.ID)
		switch {
		case best < 0 || n < best:
			best = n
			out = append(out[:0], w)
		case n == best:
			out = append(out, w)
		}
	}
	return out
}

package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/statemachine"
)

// DefaultFlowDelay is the settle delay of guided flow clicks.
const DefaultFlowDelay = time.Second

// FlowPolicyName returns the registration name of a guided flow.
func FlowPolicyName(flow string) string {
	return "flow:" + flow
}

// GuidedFlow walks a flow definition, clicking the widget that enables the
// next transition. It keeps control until the flow reaches its final
// state.
type GuidedFlow struct {
	Base

	flowMu sync.Mutex
	flow   *statemachine.FlowInterpreter
	delay  time.Duration
}

// FlowOption configures a GuidedFlow.
type FlowOption func(*GuidedFlow)

// WithFlowDelay sets the settle delay of the flow's clicks.
func WithFlowDelay(d time.Duration) FlowOption {
	return func(p *GuidedFlow) {
		p.delay = d
	}
}

// NewGuidedFlow creates a policy for the flow definition.
func NewGuidedFlow(def strategy.FlowDefinition, opts ...FlowOption) (*GuidedFlow, error) {
	flow, err := statemachine.NewFlowInterpreter(def)
	if err != nil {
		return nil, err
	}
	p := &GuidedFlow{
		Base:  newBase(FlowPolicyName(def.Name), false),
		flow:  flow,
		delay: DefaultFlowDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State returns the current flow state.
func (p *GuidedFlow) State() string {
	p.flowMu.Lock()
	defer p.flowMu.Unlock()
	return p.flow.State()
}

// Done reports whether the flow reached its final state.
func (p *GuidedFlow) Done() bool {
	p.flowMu.Lock()
	defer p.flowMu.Unlock()
	return p.flow.Done()
}

// Applicable is true while the flow is unfinished and the current state
// either shows a permission dialog or enables one of its transitions.
func (p *GuidedFlow) Applicable() bool {
	s := p.CurrentState()

	p.flowMu.Lock()
	defer p.flowMu.Unlock()

	if p.flow.Done() {
		return false
	}
	if s.IsPermissionDialog {
		_, ok := AllowButton(s)
		return ok
	}
	_, _, ok := p.flow.Next(s)
	return ok
}

// Decide clicks through the next transition. Runtime permission dialogs
// are accepted without advancing the flow.
func (p *GuidedFlow) Decide(context.Context) (exploration.Action, error) {
	ec, err := p.requireContext()
	if err != nil {
		return exploration.Action{}, err
	}
	s := ec.CurrentState()

	if s.IsPermissionDialog {
		w, ok := AllowButton(s)
		if !ok {
			return exploration.Action{}, strategy.Violation(p.Name(), errNoAllowButton)
		}
		return p.click(w), nil
	}

	p.flowMu.Lock()
	t, w, ok := p.flow.Next(s)
	if !ok {
		state := p.flow.State()
		p.flowMu.Unlock()
		return exploration.Action{}, strategy.Violation(p.Name(),
			fmt.Errorf("%w in flow state %q", strategy.ErrNoTransition, state))
	}
	if err := p.flow.Fire(t, s); err != nil {
		p.flowMu.Unlock()
		return exploration.Action{}, strategy.Violation(p.Name(), err)
	}
	done := p.flow.Done()
	state := p.flow.State()
	p.flowMu.Unlock()

	p.log.Debug().
		Add(logging.Policy(p.Name())).
		Add(logging.Str("transition", t.Name)).
		Add(logging.Str("flow_state", state)).
		Msg("flow transition")

	if done {
		if err := p.handBack(p); err != nil {
			return exploration.Action{}, err
		}
	}
	return p.click(w), nil
}

func (p *GuidedFlow) click(w exploration.Widget) exploration.Action {
	return exploration.NewWidgetAction(w, exploration.ActionClick).
		WithDelay(p.delay).
		WithSource(p.Name())
}

// Google sign-in resource ids.
const (
	googleAccountResourceID = "com.google.android.gms:uid/account_display_name"
	googleAcceptResourceID  = "com.google.android.gms:uid/accept_button"
)

// LoginWithGoogleDefinition signs in through the Google account picker.
func LoginWithGoogleDefinition() strategy.FlowDefinition {
	return strategy.FlowDefinition{
		Name:    "login-with-google",
		Initial: "start",
		Final:   "done",
		Transitions: []strategy.FlowTransition{
			{
				Name:    "google",
				From:    []string{"start"},
				To:      "account_displayed",
				Markers: []strategy.Marker{{Text: "google"}},
			},
			{
				Name:    "account",
				From:    []string{"start", "account_displayed"},
				To:      "account_selected",
				Markers: []strategy.Marker{{ResourceID: googleAccountResourceID}},
			},
			{
				Name:    "accept",
				From:    []string{"start", "account_displayed", "account_selected"},
				To:      "done",
				Markers: []strategy.Marker{{ResourceID: googleAcceptResourceID}},
			},
		},
	}
}

// NewLoginWithGoogle creates the Google sign-in flow policy.
func NewLoginWithGoogle(opts ...FlowOption) (*GuidedFlow, error) {
	return NewGuidedFlow(LoginWithGoogleDefinition(), opts...)
}

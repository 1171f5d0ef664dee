package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Marker identifies a widget that enables a flow transition.
type Marker struct {
	Text       string `json:"text,omitempty" yaml:"text,omitempty"`
	ResourceID string `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
}

// IsZero returns true if the marker matches nothing.
func (m Marker) IsZero() bool {
	return m.Text == "" && m.ResourceID == ""
}

// Matches reports whether the widget carries the marker. Text compares
// case-insensitively.
func (m Marker) Matches(w exploration.Widget) bool {
	if m.IsZero() || !w.Visible {
		return false
	}
	if m.ResourceID != "" && w.ResourceID != m.ResourceID {
		return false
	}
	if m.Text != "" && !strings.EqualFold(w.Text, m.Text) {
		return false
	}
	return true
}

// Match returns the first widget of the snapshot carrying the marker.
func (m Marker) Match(s exploration.Snapshot) (exploration.Widget, bool) {
	for _, w := range s.Widgets {
		if m.Matches(w) {
			return w, true
		}
	}
	return exploration.Widget{}, false
}

// FlowTransition moves a guided flow from one of its From states to To by
// clicking the first widget matching one of its markers.
type FlowTransition struct {
	Name    string   `json:"name" yaml:"name"`
	From    []string `json:"from" yaml:"from"`
	To      string   `json:"to" yaml:"to"`
	Markers []Marker `json:"markers" yaml:"markers"`
}

// Match returns the widget for the first matching marker.
func (t FlowTransition) Match(s exploration.Snapshot) (exploration.Widget, bool) {
	for _, m := range t.Markers {
		if w, ok := m.Match(s); ok {
			return w, true
		}
	}
	return exploration.Widget{}, false
}

// LeavesFrom returns true if the transition is enabled in the given state.
func (t FlowTransition) LeavesFrom(state string) bool {
	for _, f := range t.From {
		if f == state {
			return true
		}
	}
	return false
}

// FlowDefinition describes a guided flow such as a login sequence.
type FlowDefinition struct {
	Name        string           `json:"name" yaml:"name"`
	Initial     string           `json:"initial" yaml:"initial"`
	Final       string           `json:"final" yaml:"final"`
	Transitions []FlowTransition `json:"transitions" yaml:"transitions"`
}

// States returns the states of the flow in order of first appearance.
func (d FlowDefinition) States() []string {
	seen := make(map[string]bool)
	var states []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			states = append(states, s)
		}
	}
	add(d.Initial)
	for _, t := range d.Transitions {
		for _, f := range t.From {
			add(f)
		}
		add(t.To)
	}
	add(d.Final)
	return states
}

// Outgoing returns the transitions enabled in the given state, in
// definition order.
func (d FlowDefinition) Outgoing(state string) []FlowTransition {
	var out []FlowTransition
	for _, t := range d.Transitions {
		if t.LeavesFrom(state) {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks that the flow is well formed.
func (d FlowDefinition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("flow name is required"))
	}
	if d.Initial == "" {
		errs = append(errs, errors.New("initial state is required"))
	}
	if d.Final == "" {
		errs = append(errs, errors.New("final state is required"))
	}
	if len(d.Transitions) == 0 {
		errs = append(errs, errors.New("at least one transition is required"))
	}

	names := make(map[string]bool)
	for i, t := range d.Transitions {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("transition %d: name is required", i))
		} else if names[t.Name] {
			errs = append(errs, fmt.Errorf("transition %q: duplicate name", t.Name))
		}
		names[t.Name] = true
		if t.To == "" {
			errs = append(errs, fmt.Errorf("transition %q: target is required", t.Name))
		}
		if len(t.From) == 0 {
			errs = append(errs, fmt.Errorf("transition %q: at least one source state is required", t.Name))
		}
		if t.LeavesFrom(d.Final) {
			errs = append(errs, fmt.Errorf("transition %q: leaves the final state", t.Name))
		}
		if len(t.Markers) == 0 {
			errs = append(errs, fmt.Errorf("transition %q: at least one marker is required", t.Name))
		}
		for _, m := range t.Markers {
			if m.IsZero() {
				errs = append(errs, fmt.Errorf("transition %q: empty marker", t.Name))
			}
		}
	}

	for _, s := range d.States() {
		if s != d.Final && len(d.Outgoing(s)) == 0 {
			errs = append(errs, fmt.Errorf("state %q: no outgoing transition", s))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("flow %q: %w", d.Name, errors.Join(errs...))
	}
	return nil
}

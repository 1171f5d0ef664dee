package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// Condition decides when a run should stop.
type Condition interface {
	// Name identifies the condition.
	Name() string

	// Met reports whether the run should stop now.
	Met(ec *exploration.Context) bool

	// Reason explains why the condition was met.
	Reason() string
}

// Terminate ends the run once its condition is met. It never keeps
// control.
type Terminate struct {
	Base
	cond Condition
}

// NewTerminate wraps a condition into a policy.
func NewTerminate(cond Condition) *Terminate {
	return &Terminate{
		Base: newBase("terminate:"+cond.Name(), true),
		cond: cond,
	}
}

// Condition returns the wrapped condition.
func (p *Terminate) Condition() Condition {
	return p.cond
}

// Applicable reports whether the condition is met.
func (p *Terminate) Applicable() bool {
	ec := p.Context()
	return ec != nil && p.cond.Met(ec)
}

// Decide returns the terminate sentinel.
func (p *Terminate) Decide(context.Context) (exploration.Action, error) {
	if _, err := p.requireContext(); err != nil {
		return exploration.Action{}, err
	}
	p.log.Info().
		Add(logging.Policy(p.Name())).
		Add(logging.Reason(p.cond.Reason())).
		Msg("terminating exploration")
	return exploration.NewTerminateAction(p.cond.Reason()).WithSource(p.Name()), nil
}

type allWidgetsExplored struct{}

// AllWidgetsExplored is met once every seen actionable widget was acted
// upon.
func AllWidgetsExplored() Condition { return allWidgetsExplored{} }

func (allWidgetsExplored) Name() string { return "all-widgets-explored" }

func (allWidgetsExplored) Met(ec *exploration.Context) bool {
	return !ec.IsEmpty() && ec.AreAllWidgetsExplored()
}

func (allWidgetsExplored) Reason() string {
	return "all widgets have been explored at least once"
}

type maxActions int

// MaxActions is met once the trace holds n records.
func MaxActions(n int) Condition { return maxActions(n) }

func (m maxActions) Name() string { return "max-actions" }

func (m maxActions) Met(ec *exploration.Context) bool {
	return ec.Size() >= int(m)
}

func (m maxActions) Reason() string {
	return fmt.Sprintf("reached %d actions", int(m))
}

type timeLimit time.Duration

// TimeLimit is met once the run has lasted d.
func TimeLimit(d time.Duration) Condition { return timeLimit(d) }

func (t timeLimit) Name() string { return "time-limit" }

func (t timeLimit) Met(ec *exploration.Context) bool {
	return ec.Elapsed() >= time.Duration(t)
}

func (t timeLimit) Reason() string {
	return fmt.Sprintf("time limit of %s reached", time.Duration(t))
}

type exprCondition struct {
	name string
	expr *Expression
	log  *logging.Scoped
}

// Expr is met when the expression evaluates to true. Evaluation errors
// count as not met.
func Expr(name, source string) (Condition, error) {
	e, err := CompileExpression(source)
	if err != nil {
		return nil, err
	}
	return &exprCondition{name: name, expr: e, log: logging.For("policy")}, nil
}

func (c *exprCondition) Name() string { return c.name }

func (c *exprCondition) Met(ec *exploration.Context) bool {
	ok, err := c.expr.Eval(ec)
	if err != nil {
		c.log.Warn().
			Add(logging.Str("condition", c.name)).
			Add(logging.ErrorField(err)).
			Msg("terminate condition failed to evaluate")
		return false
	}
	return ok
}

func (c *exprCondition) Reason() string {
	return fmt.Sprintf("condition %s (%s) met", c.name, c.expr.Source())
}

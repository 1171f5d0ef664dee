package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Env returns the variables exposed to run expressions:
//
//	steps        completed steps
//	elapsed_s    seconds since the run started
//	states       distinct states reached
//	seen         actionable widgets seen in the application
//	explored     widgets successfully acted upon
//	actionable   actionable widgets in the current state
//	in_app       current state belongs to the application
//	last_action  kind of the last action, empty before the first step
//	home         current state is the home screen
func Env(ec *exploration.Context) map[string]any {
	state := ec.CurrentState()
	last := ""
	if a, ok := ec.LastAction(); ok {
		last = string(a.Kind)
	}
	return map[string]any{
		"steps":       ec.Size(),
		"elapsed_s":   ec.Elapsed().Seconds(),
		"states":      len(ec.States()),
		"seen":        len(ec.SeenWidgets()),
		"explored":    len(ec.ExploredWidgets()),
		"actionable":  len(state.ActionableWidgets()),
		"in_app":      state.BelongsTo(ec.App().PackageName),
		"last_action": last,
		"home":        state.IsHomeScreen,
	}
}

// envShape is used to type-check expressions at compile time.
var envShape = map[string]any{
	"steps":       0,
	"elapsed_s":   0.0,
	"states":      0,
	"seen":        0,
	"explored":    0,
	"actionable":  0,
	"in_app":      false,
	"last_action": "",
	"home":        false,
}

// Expression is a compiled boolean run expression.
type Expression struct {
	source  string
	program *vm.Program
}

// CompileExpression compiles a boolean expression over Env.
func CompileExpression(source string) (*Expression, error) {
	program, err := expr.Compile(source, expr.Env(envShape), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return &Expression{source: source, program: program}, nil
}

// Source returns the expression text.
func (e *Expression) Source() string {
	return e.source
}

// Eval evaluates the expression against the run.
func (e *Expression) Eval(ec *exploration.Context) (bool, error) {
	out, err := expr.Run(e.program, Env(ec))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must evaluate to bool (got %T)", e.source, out)
	}
	return b, nil
}

package selector

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/policy"
)

// Expr hands control to the named policy whenever the expression holds.
// The expression sees the variables of policy.Env.
func Expr(description string, priority int, expression, policyName string) (strategy.Selector, error) {
	compiled, err := policy.CompileExpression(expression)
	if err != nil {
		return strategy.Selector{}, fmt.Errorf("selector %q: %w", description, err)
	}
	return strategy.Selector{
		Description: description,
		Priority:    priority,
		Params:      strategy.Params{"expression": expression, "policy": policyName},
		Predicate: func(_ context.Context, ec *exploration.Context, pool strategy.PoolView, params strategy.Params) (strategy.Policy, error) {
			if ec.IsEmpty() {
				return nil, nil
			}
			ok, err := compiled.Eval(ec)
			if err != nil || !ok {
				return nil, err
			}
			return applicable(pool, params.String("policy")), nil
		},
	}, nil
}

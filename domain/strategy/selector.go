package strategy

import (
	"context"
	"errors"
	"sort"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Params are the static parameters handed to a selector predicate.
type Params map[string]any

// String returns the string parameter with the given key.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Predicate decides whether a policy should take control now. A nil policy
// means no opinion. Predicates run concurrently and must not mutate the
// context or the pool.
type Predicate func(ctx context.Context, ec *exploration.Context, pool PoolView, params Params) (Policy, error)

// Selector is a named, prioritized predicate. Lower priorities are tried
// first. Selectors are immutable once registered.
type Selector struct {
	Description string
	Priority    int
	Predicate   Predicate
	Params      Params

	// OnSelected runs after the selector won a selection round.
	OnSelected func(ec *exploration.Context)
}

// Validate checks the selector is usable.
func (s Selector) Validate() error {
	if s.Description == "" {
		return errors.New("selector description is required")
	}
	if s.Predicate == nil {
		return errors.New("selector predicate is required")
	}
	return nil
}

// SortByPriority returns a copy sorted ascending by priority. Selectors with
// equal priority keep their registration order.
func SortByPriority(selectors []Selector) []Selector {
	out := make([]Selector, len(selectors))
	copy(out, selectors)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

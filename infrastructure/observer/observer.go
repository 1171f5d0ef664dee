// Package observer runs side-computations over the exploration trace.
//
// Observers are notified of every appended record on their own goroutines.
// The loop never waits for them; a Supervisor keeps each observer's events
// ordered, lets consumers join an observer's outstanding work and cancels
// observers individually.
package observer

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Observer errors.
var (
	// ErrUnknownObserver is returned when a name is not registered.
	ErrUnknownObserver = errors.New("unknown observer")

	// ErrDuplicateObserver is returned when a name is registered twice.
	ErrDuplicateObserver = errors.New("duplicate observer")

	// ErrObserverPanic wraps a panic recovered from an observer.
	ErrObserverPanic = errors.New("observer panicked")
)

// Observer is notified of every trace record of a run.
type Observer interface {
	// Name identifies the observer.
	Name() string

	// OnNewRecord processes one record. The context is cancelled when the
	// observer is cancelled.
	OnNewRecord(ctx context.Context, ec *exploration.Context, record exploration.TraceRecord) error

	// Dump persists the observer's results at the end of the run.
	Dump(ctx context.Context, ec *exploration.Context) error
}

// Awaiter joins the outstanding work of a named observer.
type Awaiter interface {
	Await(ctx context.Context, name string) error
}

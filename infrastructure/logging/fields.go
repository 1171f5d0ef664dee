package logging

import (
	"strconv"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Common field constructors for exploration logging.

// RunID adds a run ID field.
func RunID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("run_id", id)
	}
}

// App adds the package name of the application under exploration.
func App(pkg string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("app", pkg)
	}
}

// Step adds the step number.
func Step(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("step", n)
	}
}

// Phase adds the loop phase.
func Phase(p string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("phase", p)
	}
}

// Policy adds a policy name field.
func Policy(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("policy", name)
	}
}

// Selector adds the selector description and priority.
func Selector(description string, priority int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("selector", description).Int("priority", priority)
	}
}

// Action adds the kind and id of an action.
func Action(a exploration.Action) Field {
	return func(e *bolt.Event) *bolt.Event {
		e = e.Str("action", a.Kind.String())
		if a.ID != "" {
			e = e.Str("action_id", a.ID)
		}
		if a.Target != nil {
			e = e.Str("widget", a.Target.ID)
		}
		return e
	}
}

// Widget adds a widget id field.
func Widget(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("widget", id)
	}
}

// StateID adds a UI state id field.
func StateID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("state_id", id)
	}
}

// Observer adds an observer name field.
func Observer(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("observer", name)
	}
}

// Success adds a success flag.
func Success(ok bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("success", ok)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// Ratio adds a ratio formatted with four decimals.
func Ratio(key string, v float64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, strconv.FormatFloat(v, 'f', 4, 64))
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Reason adds a reason field.
func Reason(reason string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("reason", reason)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Operation adds an operation field.
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Int adds an integer field with custom key.
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, value)
	}
}

// Package reporttest builds finished explorations for sink tests.
package reporttest

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Start is the start time of the explorations built here.
var Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// App is the application of the explorations built here.
var App = exploration.App{PackageName: "org.example"}

// Button returns an actionable widget.
func Button(text string) exploration.Widget {
	return exploration.Widget{
		Text:      text,
		Enabled:   true,
		Visible:   true,
		Clickable: true,
		Bounds:    exploration.Rect{Right: 100, Bottom: 40},
	}
}

// Finished returns a sealed three step exploration: reset, a click that
// called one monitored API, and terminate.
func Finished(t testing.TB) *exploration.Context {
	t.Helper()

	ec := exploration.NewContext("run-1", App, Start)
	main := exploration.NewSnapshot(App.PackageName, "Main", []exploration.Widget{Button("Go")})
	appendAll(t, ec, main,
		exploration.NewResetAction(),
		exploration.NewWidgetAction(main.Widgets[0], exploration.ActionClick),
		exploration.NewTerminateAction("reached 2 actions"),
	)
	ec.SetEndTime(Start.Add(5 * time.Second))
	ec.Seal()
	return ec
}

// Failed returns a sealed exploration whose second step failed.
func Failed(t testing.TB) *exploration.Context {
	t.Helper()

	ec := exploration.NewContext("run-2", App, Start)
	main := exploration.NewSnapshot(App.PackageName, "Main", []exploration.Widget{Button("Go")})
	appendAll(t, ec, main, exploration.NewResetAction())

	cause := errors.New("device unreachable")
	failed := exploration.FailedResult(fmt.Errorf("%w: %w", exploration.ErrStepFailed, cause), nil)
	if _, err := ec.Append(exploration.NewWidgetAction(main.Widgets[0], exploration.ActionClick).Stamp(Start.Add(time.Second), false), failed); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	ec.SetTerminalError(failed.Err)
	ec.SetEndTime(Start.Add(2 * time.Second))
	ec.Seal()
	return ec
}

func appendAll(t testing.TB, ec *exploration.Context, s exploration.Snapshot, actions ...exploration.Action) {
	t.Helper()
	for _, a := range actions {
		result := exploration.ExecutionResult{Success: true, Snapshot: s, Duration: 10 * time.Millisecond}
		if a.Kind == exploration.ActionClick {
			result.Logs = exploration.LogBundle{{Time: Start, Message: "open", Method: "java.net.URL.openConnection()"}}
		}
		if _, err := ec.Append(a.Stamp(Start.Add(time.Duration(ec.Size())*time.Second), false), result); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

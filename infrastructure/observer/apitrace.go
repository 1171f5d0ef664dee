package observer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// APIActionTraceName is the registered name of the APIActionTrace observer.
const APIActionTraceName = "api-action-trace"

const (
	apiActionTraceFile   = "apiActionTrace.txt"
	apiActionTraceHeader = "actionNr\tactivity\taction\tapi\tuniqueStr\n"
)

// APIActionTrace lists every monitored API call together with the action
// that triggered it and the activity it happened in.
type APIActionTrace struct {
	dir string

	mu           sync.Mutex
	started      bool
	lastActivity string
	currActivity string
	lines        []string
}

// NewAPIActionTrace creates the observer writing apiActionTrace.txt into dir.
func NewAPIActionTrace(dir string) *APIActionTrace {
	return &APIActionTrace{dir: dir}
}

// Name implements Observer.
func (a *APIActionTrace) Name() string { return APIActionTraceName }

// OnNewRecord appends one line per API call of the record.
func (a *APIActionTrace) OnNewRecord(_ context.Context, ec *exploration.Context, record exploration.TraceRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	launchable := ec.App().LaunchableActivity
	if !a.started {
		a.currActivity = launchable
		a.started = true
	}

	switch record.Action.Kind {
	case exploration.ActionBack:
		a.currActivity = a.lastActivity
	case exploration.ActionReset:
		a.currActivity = launchable
	}

	for _, call := range record.Result.Logs.APICalls() {
		if strings.HasPrefix(strings.ToLower(call.Method), "startactivit") {
			if component, ok := intentComponent(call.Intent); ok {
				a.lastActivity = a.currActivity
				a.currActivity = component
			}
		}
		a.lines = append(a.lines, fmt.Sprintf("%d\t%s\t%s\t%s->%s\t%s",
			record.Index, a.currActivity, record.Action, call.Tag, call.Method, call.Message))
	}
	return nil
}

// intentComponent extracts the component of an intent formatted as
// "[data=..., component=<component>]".
func intentComponent(intent string) (string, bool) {
	i := strings.Index(intent, "component=")
	if i < 0 {
		return "", false
	}
	return strings.ReplaceAll(intent[i+len("component="):], "]", ""), true
}

// Lines returns the trace lines recorded so far.
func (a *APIActionTrace) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

// Dump writes apiActionTrace.txt.
func (a *APIActionTrace) Dump(context.Context, *exploration.Context) error {
	var sb strings.Builder
	sb.WriteString(apiActionTraceHeader)
	for _, l := range a.Lines() {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return writeReport(a.dir, apiActionTraceFile, sb.String())
}

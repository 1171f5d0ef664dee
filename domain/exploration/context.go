package exploration

import (
	"fmt"
	"sync"
	"time"
)

// Context is the run-wide state of one exploration. The loop is the single
// writer; policies, selectors and observers only read from it.
type Context struct {
	mu sync.RWMutex

	runID   string
	app     App
	records []TraceRecord

	start time.Time
	end   time.Time

	terminalErr error
	lastTarget  *Widget
	sealed      bool
}

// NewContext creates the context for a run.
func NewContext(runID string, app App, start time.Time) *Context {
	return &Context{
		runID: runID,
		app:   app,
		start: start,
	}
}

// RunID returns the identifier of the run.
func (c *Context) RunID() string {
	return c.runID
}

// App returns the application under exploration.
func (c *Context) App() App {
	return c.app
}

// Append adds a record to the trace and returns it with its index.
func (c *Context) Append(action Action, result ExecutionResult) (TraceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return TraceRecord{}, ErrTraceSealed
	}

	rec := TraceRecord{
		Index:  len(c.records),
		Action: action,
		Result: result,
	}
	c.records = append(c.records, rec)
	return rec, nil
}

// Size returns the number of records.
func (c *Context) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// IsEmpty returns true if no record was appended yet.
func (c *Context) IsEmpty() bool {
	return c.Size() == 0
}

// Records returns a copy of the trace.
func (c *Context) Records() []TraceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TraceRecord, len(c.records))
	copy(out, c.records)
	return out
}

// RecordsUpTo returns a copy of records 0..index inclusive.
func (c *Context) RecordsUpTo(index int) []TraceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= len(c.records) {
		index = len(c.records) - 1
	}
	if index < 0 {
		return nil
	}
	out := make([]TraceRecord, index+1)
	copy(out, c.records[:index+1])
	return out
}

// Record returns the record at the given index.
func (c *Context) Record(i int) (TraceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.records) {
		return TraceRecord{}, false
	}
	return c.records[i], true
}

// LastRecord returns the most recent record.
func (c *Context) LastRecord() (TraceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.records) == 0 {
		return TraceRecord{}, false
	}
	return c.records[len(c.records)-1], true
}

// LastAction returns the most recent action.
func (c *Context) LastAction() (Action, bool) {
	rec, ok := c.LastRecord()
	return rec.Action, ok
}

// CurrentState returns the snapshot reached by the last record.
func (c *Context) CurrentState() Snapshot {
	rec, ok := c.LastRecord()
	if !ok {
		return MissingSnapshot()
	}
	return rec.Result.Snapshot
}

// StateBefore returns the snapshot the action at index i was decided on.
func (c *Context) StateBefore(i int) Snapshot {
	if i <= 0 {
		return MissingSnapshot()
	}
	rec, ok := c.Record(i - 1)
	if !ok {
		return MissingSnapshot()
	}
	return rec.Result.Snapshot
}

// States returns the distinct snapshots reached so far, in order of first
// appearance. The missing sentinel is skipped.
func (c *Context) States() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []Snapshot
	for _, r := range c.records {
		s := r.Result.Snapshot
		if s.Missing {
			continue
		}
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SeenWidgets returns every actionable widget observed in a state of the
// application under exploration, keyed by widget id.
func (c *Context) SeenWidgets() map[string]Widget {
	out := make(map[string]Widget)
	for _, s := range c.States() {
		if !s.BelongsTo(c.app.PackageName) {
			continue
		}
		for _, w := range s.ActionableWidgets() {
			out[w.ID] = w
		}
	}
	return out
}

// ExploredWidgets returns the ids of widgets targeted by a successful action.
func (c *Context) ExploredWidgets() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]struct{})
	for _, r := range c.records {
		if r.Action.Target != nil && r.Result.Success {
			out[r.Action.Target.ID] = struct{}{}
		}
	}
	return out
}

// AreAllWidgetsExplored returns true once every seen actionable widget was
// interacted with at least once.
func (c *Context) AreAllWidgetsExplored() bool {
	if c.IsEmpty() {
		return false
	}
	seen := c.SeenWidgets()
	if len(seen) == 0 {
		return false
	}
	explored := c.ExploredWidgets()
	for id := range seen {
		if _, ok := explored[id]; !ok {
			return false
		}
	}
	return true
}

// InteractionCount returns how often a widget was targeted.
func (c *Context) InteractionCount(widgetID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, r := range c.records {
		if r.Action.Target != nil && r.Action.Target.ID == widgetID {
			n++
		}
	}
	return n
}

// LastTarget returns the widget last chosen by a policy.
func (c *Context) LastTarget() *Widget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTarget
}

// SetLastTarget records the widget chosen by a policy.
func (c *Context) SetLastTarget(w *Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTarget = w
}

// StartTime returns when the run started.
func (c *Context) StartTime() time.Time {
	return c.start
}

// EndTime returns when the run ended, zero while it is running.
func (c *Context) EndTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.end
}

// SetEndTime stamps the end of the run.
func (c *Context) SetEndTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.end = t
}

// Elapsed returns the run duration so far, or the total once ended.
func (c *Context) Elapsed() time.Duration {
	end := c.EndTime()
	if end.IsZero() {
		return time.Since(c.start)
	}
	return end.Sub(c.start)
}

// ElapsedAt returns the time between the start of the run and t.
func (c *Context) ElapsedAt(t time.Time) time.Duration {
	return t.Sub(c.start)
}

// SetTerminalError stores the cause that ended the run. Only the first
// cause is kept; it returns false if a cause was already present.
func (c *Context) SetTerminalError(err error) bool {
	if err == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminalErr != nil {
		return false
	}
	c.terminalErr = err
	return true
}

// TerminalError returns the cause that ended the run, if any.
func (c *Context) TerminalError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminalErr
}

// Seal makes the trace immutable.
func (c *Context) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// Sealed returns true once the run was finalized.
func (c *Context) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}

// Verify checks the structural invariants of a finished trace.
func (c *Context) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.records) == 0 {
		return fmt.Errorf("trace is empty")
	}
	if !c.records[0].Action.IsReset() {
		return fmt.Errorf("first action is %s, want %s", c.records[0].Action.Kind, ActionReset)
	}
	for i, r := range c.records {
		if r.Index != i {
			return fmt.Errorf("record %d has index %d", i, r.Index)
		}
		if r.Action.IsTerminate() && i != len(c.records)-1 {
			return fmt.Errorf("terminate action at %d is not the last record", i)
		}
	}
	last := c.records[len(c.records)-1]
	if last.Result.Success && !last.Action.IsTerminate() && c.terminalErr == nil {
		return fmt.Errorf("run ended on successful %s without terminating", last.Action.Kind)
	}
	return nil
}

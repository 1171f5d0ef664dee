package exploration

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func testWidget(text string) Widget {
	return Widget{
		ClassName: "android.widget.Button",
		Text:      text,
		Enabled:   true,
		Visible:   true,
		Clickable: true,
		Bounds:    Rect{Left: 0, Top: 0, Right: 100, Bottom: 40},
	}
}

func testState(pkg string, texts ...string) Snapshot {
	var ws []Widget
	for _, t := range texts {
		ws = append(ws, testWidget(t))
	}
	return NewSnapshot(pkg, "Main", ws)
}

func successResult(s Snapshot) ExecutionResult {
	return ExecutionResult{Success: true, Snapshot: s}
}

func TestNewContext(t *testing.T) {
	t.Parallel()

	start := time.Now()
	ec := NewContext("run-1", App{PackageName: "org.example"}, start)

	if ec.RunID() != "run-1" {
		t.Errorf("RunID() = %q, want %q", ec.RunID(), "run-1")
	}
	if !ec.IsEmpty() {
		t.Error("new context should be empty")
	}
	if !ec.CurrentState().Missing {
		t.Error("CurrentState() of empty context should be the missing sentinel")
	}
	if _, ok := ec.LastRecord(); ok {
		t.Error("LastRecord() should report no record")
	}
	if !ec.StartTime().Equal(start) {
		t.Error("StartTime() should be the given start time")
	}
}

func TestContext_AppendOrdering(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	s := testState("org.example", "ok")

	for i := 0; i < 5; i++ {
		rec, err := ec.Append(NewBackAction(), successResult(s))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if rec.Index != i {
			t.Errorf("Append() index = %d, want %d", rec.Index, i)
		}
	}

	records := ec.Records()
	if len(records) != 5 {
		t.Fatalf("Records() len = %d, want 5", len(records))
	}
	for i, r := range records {
		if r.Index != i {
			t.Errorf("Records()[%d].Index = %d", i, r.Index)
		}
	}

	upTo := ec.RecordsUpTo(2)
	if len(upTo) != 3 {
		t.Errorf("RecordsUpTo(2) len = %d, want 3", len(upTo))
	}
}

func TestContext_SealedRejectsAppend(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	ec.Seal()

	_, err := ec.Append(NewResetAction(), EmptyResult())
	if !errors.Is(err, ErrTraceSealed) {
		t.Errorf("Append() after Seal error = %v, want %v", err, ErrTraceSealed)
	}
	if !ec.Sealed() {
		t.Error("Sealed() = false after Seal()")
	}
}

func TestContext_TerminalErrorFirstWins(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	first := errors.New("first")
	second := errors.New("second")

	if ec.SetTerminalError(nil) {
		t.Error("SetTerminalError(nil) should not store anything")
	}
	if !ec.SetTerminalError(first) {
		t.Error("SetTerminalError(first) should store the cause")
	}
	if ec.SetTerminalError(second) {
		t.Error("SetTerminalError(second) should be rejected")
	}
	if !errors.Is(ec.TerminalError(), first) {
		t.Errorf("TerminalError() = %v, want %v", ec.TerminalError(), first)
	}
}

func TestContext_StateBefore(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	a := testState("org.example", "a")
	b := testState("org.example", "b")
	_, _ = ec.Append(NewResetAction(), successResult(a))
	_, _ = ec.Append(NewBackAction(), successResult(b))

	if !ec.StateBefore(0).Missing {
		t.Error("StateBefore(0) should be missing")
	}
	if ec.StateBefore(1).ID != a.ID {
		t.Error("StateBefore(1) should be the state reached by record 0")
	}
	if ec.CurrentState().ID != b.ID {
		t.Error("CurrentState() should be the state reached by the last record")
	}
	if got := len(ec.States()); got != 2 {
		t.Errorf("States() len = %d, want 2", got)
	}
}

func TestContext_AreAllWidgetsExplored(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	if ec.AreAllWidgetsExplored() {
		t.Error("empty context cannot be fully explored")
	}

	s := testState("org.example", "one", "two")
	_, _ = ec.Append(NewResetAction(), successResult(s))
	if ec.AreAllWidgetsExplored() {
		t.Error("no widget was explored yet")
	}

	for _, w := range s.ActionableWidgets() {
		_, _ = ec.Append(NewWidgetAction(w, ActionClick), successResult(s))
	}
	if !ec.AreAllWidgetsExplored() {
		t.Error("every widget was clicked, want explored")
	}

	w := s.Widgets[0]
	if got := ec.InteractionCount(w.ID); got != 1 {
		t.Errorf("InteractionCount() = %d, want 1", got)
	}
}

func TestContext_ForeignStatesIgnored(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	foreign := testState("com.other", "x")
	_, _ = ec.Append(NewResetAction(), successResult(foreign))

	if len(ec.SeenWidgets()) != 0 {
		t.Error("widgets of other applications should not be counted as seen")
	}
}

func TestContext_Verify(t *testing.T) {
	t.Parallel()

	s := testState("org.example", "a")

	tests := []struct {
		name    string
		build   func(*Context)
		wantErr bool
	}{
		{
			name:    "empty",
			build:   func(*Context) {},
			wantErr: true,
		},
		{
			name: "reset then terminate",
			build: func(ec *Context) {
				_, _ = ec.Append(NewResetAction(), successResult(s))
				_, _ = ec.Append(NewTerminateAction("done"), successResult(s))
			},
		},
		{
			name: "starts with back",
			build: func(ec *Context) {
				_, _ = ec.Append(NewBackAction(), successResult(s))
				_, _ = ec.Append(NewTerminateAction("done"), successResult(s))
			},
			wantErr: true,
		},
		{
			name: "ends on failure",
			build: func(ec *Context) {
				_, _ = ec.Append(NewResetAction(), successResult(s))
				_, _ = ec.Append(NewBackAction(), FailedResult(errors.New("boom"), nil))
			},
		},
		{
			name: "ends on success without terminate",
			build: func(ec *Context) {
				_, _ = ec.Append(NewResetAction(), successResult(s))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
			tt.build(ec)
			err := ec.Verify()
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContext_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	ec := NewContext("run", App{PackageName: "org.example"}, time.Now())
	s := testState("org.example", "a", "b")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ec.Records()
				_ = ec.AreAllWidgetsExplored()
				_ = ec.CurrentState()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		_, _ = ec.Append(NewWidgetAction(s.Widgets[i%2], ActionClick), successResult(s))
	}
	wg.Wait()

	if ec.Size() != 100 {
		t.Errorf("Size() = %d, want 100", ec.Size())
	}
}

func TestContext_Elapsed(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ec := NewContext("run", App{PackageName: "org.example"}, start)
	ec.SetEndTime(start.Add(90 * time.Second))

	if got := ec.Elapsed(); got != 90*time.Second {
		t.Errorf("Elapsed() = %v, want 90s", got)
	}
	if got := ec.ElapsedAt(start.Add(time.Second)); got != time.Second {
		t.Errorf("ElapsedAt() = %v, want 1s", got)
	}
}

func TestWidget_Interactions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		widget Widget
		want   []ActionKind
	}{
		{
			name:   "clickable",
			widget: testWidget("a"),
			want:   []ActionKind{ActionClick},
		},
		{
			name: "everything",
			widget: Widget{
				Enabled: true, Visible: true,
				Clickable: true, LongClickable: true, Scrollable: true,
				Checked: boolPtr(false),
				Bounds:  Rect{Right: 10, Bottom: 10},
			},
			want: []ActionKind{ActionLongClick, ActionClick, ActionToggle, ActionScroll},
		},
		{
			name:   "static label",
			widget: Widget{Enabled: true, Visible: true, Bounds: Rect{Right: 10, Bottom: 10}},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.widget.Interactions()
			if len(got) != len(tt.want) {
				t.Fatalf("Interactions() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Interactions()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if tt.widget.CanBeActedUpon() != (len(tt.want) > 0) {
				t.Errorf("CanBeActedUpon() = %v", tt.widget.CanBeActedUpon())
			}
		})
	}
}

func TestWidget_KeyboardNotActionable(t *testing.T) {
	t.Parallel()

	w := testWidget("q")
	w.IsKeyboard = true
	if w.CanBeActedUpon() {
		t.Error("keyboard widgets should not be actionable")
	}
}

func TestNewSnapshot_StableID(t *testing.T) {
	t.Parallel()

	a := NewSnapshot("org.example", "Main", []Widget{testWidget("x"), testWidget("y")})
	b := NewSnapshot("org.example", "Main", []Widget{testWidget("y"), testWidget("x")})
	c := NewSnapshot("org.example", "Main", []Widget{testWidget("x")})

	if a.ID != b.ID {
		t.Error("widget order should not change the state id")
	}
	if a.ID == c.ID {
		t.Error("different widgets should produce different state ids")
	}
	for _, w := range a.Widgets {
		if w.ID == "" {
			t.Error("NewSnapshot() should assign widget ids")
		}
	}
	if !a.BelongsTo("org.example") || a.BelongsTo("com.other") {
		t.Error("BelongsTo() mismatch")
	}
	if MissingSnapshot().BelongsTo("") {
		t.Error("missing snapshot belongs to no application")
	}
}

func TestAction_Stamp(t *testing.T) {
	t.Parallel()

	ts := time.Now()
	decision := NewTerminateAction("done")
	a := decision.Stamp(ts, true)

	if a.ID == "" {
		t.Error("Stamp() should assign an id")
	}
	if !a.Timestamp.Equal(ts) || !a.TakeScreenshot {
		t.Error("Stamp() should carry timestamp and screenshot flag")
	}
	if decision.ID != "" {
		t.Error("Stamp() must not mutate the decision")
	}
	if !a.IsTerminate() {
		t.Error("IsTerminate() = false for terminate action")
	}
}

func TestEmptyResult(t *testing.T) {
	t.Parallel()

	r := EmptyResult()
	if !r.Success || !r.Snapshot.Missing || r.Locator != EmptyLocator {
		t.Errorf("EmptyResult() = %+v", r)
	}

	f := FailedResult(nil, LogBundle{{Message: "x"}})
	if f.Success || f.Err == nil || len(f.Logs) != 1 {
		t.Errorf("FailedResult() = %+v", f)
	}
}

func TestLogBundle_Filters(t *testing.T) {
	t.Parallel()

	b := LogBundle{
		{Message: "noise", Background: true},
		{Message: "api", Method: "java.net.URL.openConnection()"},
		{Message: "plain"},
	}
	if got := len(b.APICalls()); got != 1 {
		t.Errorf("APICalls() len = %d, want 1", got)
	}
	if got := len(b.Foreground()); got != 2 {
		t.Errorf("Foreground() len = %d, want 2", got)
	}
}

package observer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRun() *exploration.Context {
	return exploration.NewContext("run-1", exploration.App{
		PackageName:        "com.example",
		LaunchableActivity: "com.example.Main",
	}, testStart)
}

func button(text string, left, top int) exploration.Widget {
	return exploration.Widget{
		ClassName:   "android.widget.Button",
		PackageName: "com.example",
		Text:        text,
		Enabled:     true,
		Visible:     true,
		Clickable:   true,
		Bounds:      exploration.Rect{Left: left, Top: top, Right: left + 40, Bottom: top + 40},
	}
}

func screenOf(activity string, widgets ...exploration.Widget) exploration.Snapshot {
	return exploration.NewSnapshot("com.example", activity, widgets)
}

func appendStep(t *testing.T, ec *exploration.Context, a exploration.Action, at time.Duration, s exploration.Snapshot) exploration.TraceRecord {
	t.Helper()

	rec, err := ec.Append(a.Stamp(testStart.Add(at), false), exploration.ExecutionResult{Success: true, Snapshot: s})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return rec
}

// recordingObserver records the indices it processed.
type recordingObserver struct {
	name    string
	block   chan struct{}
	slow    time.Duration
	panics  bool
	dumpErr error

	mu     sync.Mutex
	seen   []int
	dumped atomic.Bool
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) OnNewRecord(ctx context.Context, _ *exploration.Context, r exploration.TraceRecord) error {
	if o.block != nil {
		select {
		case <-o.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if o.slow > 0 && r.Index == 0 {
		time.Sleep(o.slow)
	}
	if o.panics {
		panic("boom")
	}
	o.mu.Lock()
	o.seen = append(o.seen, r.Index)
	o.mu.Unlock()
	return nil
}

func (o *recordingObserver) Dump(context.Context, *exploration.Context) error {
	o.dumped.Store(true)
	return o.dumpErr
}

func (o *recordingObserver) indices() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.seen...)
}

func threeRecords(t *testing.T, ec *exploration.Context) []exploration.TraceRecord {
	t.Helper()
	s := screenOf("Main", button("a", 0, 0))
	return []exploration.TraceRecord{
		appendStep(t, ec, exploration.NewResetAction(), 0, s),
		appendStep(t, ec, exploration.NewBackAction(), time.Second, s),
		appendStep(t, ec, exploration.NewBackAction(), 2*time.Second, s),
	}
}

func TestSupervisor_OrderedPerObserver(t *testing.T) {
	ec := newRun()
	sup := NewSupervisor(context.Background())
	obs := &recordingObserver{name: "ordered", slow: 30 * time.Millisecond}
	if err := sup.Register(obs); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for _, r := range threeRecords(t, ec) {
		sup.Notify(ec, r)
	}
	if err := sup.Await(context.Background(), "ordered"); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	got := obs.indices()
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("processed order = %v, want [0 1 2]", got)
	}
	if n := sup.Processed("ordered"); n != 3 {
		t.Errorf("Processed() = %d, want 3", n)
	}
	sup.CancelAll()
}

func TestSupervisor_NotifyDoesNotBlock(t *testing.T) {
	ec := newRun()
	sup := NewSupervisor(context.Background())
	obs := &recordingObserver{name: "blocked", block: make(chan struct{})}
	if err := sup.Register(obs); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	records := threeRecords(t, ec)
	done := make(chan struct{})
	go func() {
		for _, r := range records {
			sup.Notify(ec, r)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a busy observer")
	}

	if n := sup.Processed("blocked"); n != 0 {
		t.Errorf("Processed() = %d before release, want 0", n)
	}
	close(obs.block)
	if err := sup.Join(context.Background()); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if n := sup.Processed("blocked"); n != 3 {
		t.Errorf("Processed() = %d after release, want 3", n)
	}
	sup.CancelAll()
}

func TestSupervisor_CancelIsolatesObserver(t *testing.T) {
	ec := newRun()
	sup := NewSupervisor(context.Background())
	stuck := &recordingObserver{name: "stuck", block: make(chan struct{})}
	healthy := &recordingObserver{name: "healthy"}
	for _, o := range []Observer{stuck, healthy} {
		if err := sup.Register(o); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	for _, r := range threeRecords(t, ec) {
		sup.Notify(ec, r)
	}
	if err := sup.Cancel("stuck"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if err := sup.Finalize(context.Background(), ec); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if !sup.Cancelled("stuck") {
		t.Error("stuck observer should be cancelled")
	}
	if n := sup.Processed("stuck"); n != 0 {
		t.Errorf("stuck Processed() = %d, want 0", n)
	}
	if n := sup.Failures("stuck"); n != 0 {
		t.Errorf("cancellation should not count as failure, got %d", n)
	}
	if stuck.dumped.Load() {
		t.Error("cancelled observer should not be dumped")
	}
	if n := sup.Processed("healthy"); n != 3 {
		t.Errorf("healthy Processed() = %d, want 3", n)
	}
	if !healthy.dumped.Load() {
		t.Error("healthy observer should be dumped")
	}
}

func TestSupervisor_PanicIsRecovered(t *testing.T) {
	ec := newRun()
	sup := NewSupervisor(context.Background())
	bad := &recordingObserver{name: "bad", panics: true}
	good := &recordingObserver{name: "good"}
	for _, o := range []Observer{bad, good} {
		if err := sup.Register(o); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	records := threeRecords(t, ec)
	sup.Notify(ec, records[0])

	if err := sup.Join(context.Background()); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if n := sup.Failures("bad"); n != 1 {
		t.Errorf("Failures(bad) = %d, want 1", n)
	}
	if n := sup.Processed("good"); n != 1 {
		t.Errorf("Processed(good) = %d, want 1", n)
	}
	sup.CancelAll()
}

func TestSupervisor_FinalizeCollectsDumpErrors(t *testing.T) {
	ec := newRun()
	sup := NewSupervisor(context.Background())
	dumpErr := errors.New("disk full")
	failing := &recordingObserver{name: "failing", dumpErr: dumpErr}
	after := &recordingObserver{name: "after"}
	for _, o := range []Observer{failing, after} {
		if err := sup.Register(o); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	err := sup.Finalize(context.Background(), ec)
	if !errors.Is(err, dumpErr) {
		t.Errorf("Finalize() error = %v, want %v", err, dumpErr)
	}
	if !after.dumped.Load() {
		t.Error("dump failure must not stop later dumps")
	}
}

func TestSupervisor_AwaitHonoursContext(t *testing.T) {
	ec := newRun()
	sup := NewSupervisor(context.Background())
	obs := &recordingObserver{name: "blocked", block: make(chan struct{})}
	if err := sup.Register(obs); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	sup.Notify(ec, threeRecords(t, ec)[0])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sup.Await(ctx, "blocked"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await() error = %v, want deadline exceeded", err)
	}
	sup.CancelAll()
}

func TestSupervisor_ParentCancellation(t *testing.T) {
	ec := newRun()
	parent, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(parent)
	obs := &recordingObserver{name: "blocked", block: make(chan struct{})}
	if err := sup.Register(obs); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	sup.Notify(ec, threeRecords(t, ec)[0])

	cancel()
	if err := sup.Join(context.Background()); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if !sup.Cancelled("blocked") {
		t.Error("observer should follow parent cancellation")
	}
	sup.CancelAll()
}

func TestSupervisor_FinalizeAfterParentCancellation(t *testing.T) {
	ec := newRun()
	parent, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(parent)
	blocked := &recordingObserver{name: "blocked", block: make(chan struct{})}
	if err := sup.Register(blocked); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, r := range threeRecords(t, ec) {
		sup.Notify(ec, r)
	}

	cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Finalize(context.WithoutCancel(parent), ec) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Finalize blocked on a cancelled observer")
	}
	if blocked.dumped.Load() {
		t.Error("cancelled observer should not dump")
	}
	if got := blocked.indices(); len(got) != 0 {
		t.Errorf("cancelled observer applied %v", got)
	}
}

func TestSupervisor_Registration(t *testing.T) {
	sup := NewSupervisor(context.Background())
	if err := sup.Register(&recordingObserver{name: "a"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sup.Register(&recordingObserver{name: "a"}); !errors.Is(err, ErrDuplicateObserver) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateObserver", err)
	}
	if err := sup.Await(context.Background(), "missing"); !errors.Is(err, ErrUnknownObserver) {
		t.Errorf("Await(missing) error = %v, want ErrUnknownObserver", err)
	}
	if err := sup.Cancel("missing"); !errors.Is(err, ErrUnknownObserver) {
		t.Errorf("Cancel(missing) error = %v, want ErrUnknownObserver", err)
	}
	if names := sup.Names(); len(names) != 1 || names[0] != "a" {
		t.Errorf("Names() = %v, want [a]", names)
	}
	if _, ok := sup.Observer("a"); !ok {
		t.Error("Observer(a) should be registered")
	}
	sup.CancelAll()
}

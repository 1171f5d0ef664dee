package observer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

func TestActionCounter(t *testing.T) {
	ec := newRun()
	a, b := button("a", 0, 0), button("b", 0, 50)
	s1 := screenOf("Main", a, b)
	s2 := screenOf("Detail", a)

	target := s1.Widgets[0]
	counter := NewActionCounter()
	records := []exploration.TraceRecord{
		appendStep(t, ec, exploration.NewResetAction(), 0, s1),
		appendStep(t, ec, exploration.NewWidgetAction(target, exploration.ActionClick), time.Second, s2),
		appendStep(t, ec, exploration.NewWidgetAction(s2.Widgets[0], exploration.ActionClick), 2*time.Second, s2),
	}
	for _, r := range records {
		if err := counter.OnNewRecord(context.Background(), ec, r); err != nil {
			t.Fatalf("OnNewRecord() error = %v", err)
		}
	}

	if n := counter.StateCount(s1.ID, target.ID); n != 1 {
		t.Errorf("StateCount(s1, a) = %d, want 1", n)
	}
	if n := counter.StateCount(s2.ID, target.ID); n != 1 {
		t.Errorf("StateCount(s2, a) = %d, want 1", n)
	}
	if n := counter.WidgetCount(target.ID); n != 2 {
		t.Errorf("WidgetCount(a) = %d, want 2", n)
	}
	if n := counter.WidgetCount(s1.Widgets[1].ID); n != 0 {
		t.Errorf("WidgetCount(b) = %d, want 0", n)
	}
}

// fakeCoverageSource returns scripted coverage log reads.
type fakeCoverageSource struct {
	mu     sync.Mutex
	reads  [][]string
	err    error
	calls  int
	sinces []time.Time
}

func (f *fakeCoverageSource) ReadCoverageLog(_ context.Context, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.sinces = append(f.sinces, since)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.reads) == 0 {
		return nil, nil
	}
	out := f.reads[0]
	if len(f.reads) > 1 {
		f.reads = f.reads[1:]
	}
	return out, nil
}

func writeInstrumentation(t *testing.T, dir string) {
	t.Helper()
	content := `{"allMethods": [
		"<com.example.Main: void onCreate()> uuid=aaaaaaaa-0000-0000-0000-000000000001",
		"<com.example.CoverageHelper: void log()> uuid=ffffffff-0000-0000-0000-000000000000",
		"<com.example.Main: void onClick()> uuid=aaaaaaaa-0000-0000-0000-000000000002",
		"<com.example.Main: void onStop()> uuid=aaaaaaaa-0000-0000-0000-000000000003",
		"<com.example.Main: void onPause()> uuid=aaaaaaaa-0000-0000-0000-000000000004"
	]}`
	if err := os.WriteFile(filepath.Join(dir, "com.example-instrumented.apk.json"), []byte(content), 0600); err != nil {
		t.Fatalf("write instrumentation: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "other.apk.json"), []byte(`{"allMethods": []}`), 0600); err != nil {
		t.Fatalf("write instrumentation: %v", err)
	}
}

var coverageLines = []string{
	"2018-09-18 13:48:53.735  1234  1234 I System.out: [androcov] statement uuid=aaaaaaaa-0000-0000-0000-000000000001",
	"2018-09-18 13:48:54.100  1234  1234 I System.out: unrelated output",
	"2018-09-18 13:48:54.200  1234  1234 I System.out: [androcov] CoverageHelper uuid=ffffffff-0000-0000-0000-000000000000",
	"2018-09-18 13:48:55.900  1234  1234 I System.out: [androcov] statement uuid=aaaaaaaa-0000-0000-0000-000000000002",
	"2018-09-18 13:48:56.000  1234  1234 I System.out: [androcov] statement uuid=aaaaaaaa-0000-0000-0000-000000000001",
}

func TestStatementCoverage(t *testing.T) {
	instrDir, logDir, outDir := t.TempDir(), t.TempDir(), t.TempDir()
	writeInstrumentation(t, instrDir)

	source := &fakeCoverageSource{reads: [][]string{coverageLines}}
	cov, err := NewStatementCoverage(CoverageConfig{
		AppName:            "com.example",
		InstrumentationDir: instrDir,
		LogDir:             logDir,
		OutputDir:          outDir,
	}, source)
	if err != nil {
		t.Fatalf("NewStatementCoverage() error = %v", err)
	}
	if n := cov.Instrumented(); n != 4 {
		t.Fatalf("Instrumented() = %d, want 4", n)
	}

	ec := newRun()
	rec := appendStep(t, ec, exploration.NewResetAction(), 0, screenOf("Main"))
	for i := 0; i < 2; i++ {
		if err := cov.OnNewRecord(context.Background(), ec, rec); err != nil {
			t.Fatalf("OnNewRecord() error = %v", err)
		}
	}

	if n := cov.Executed(); n != 2 {
		t.Errorf("Executed() = %d, want 2", n)
	}
	if got := cov.CurrentCoverage(); got != 0.5 {
		t.Errorf("CurrentCoverage() = %v, want 0.5", got)
	}

	if !source.sinces[0].IsZero() {
		t.Errorf("first read since = %v, want zero", source.sinces[0])
	}
	wantSince := time.Date(2018, 9, 18, 13, 48, 56, 0, time.UTC)
	if !source.sinces[1].Equal(wantSince) {
		t.Errorf("second read since = %v, want %v", source.sinces[1], wantSince)
	}

	for _, name := range []string{"com.example-logcat-0000", "com.example-logcat-0001"} {
		if _, err := os.Stat(filepath.Join(logDir, name)); err != nil {
			t.Errorf("log dump %s missing: %v", name, err)
		}
	}

	if err := cov.Dump(context.Background(), ec); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "coverage.txt"))
	if err != nil {
		t.Fatalf("read coverage.txt: %v", err)
	}
	want := "Statement;Time\n" +
		"aaaaaaaa-0000-0000-0000-000000000001;0\n" +
		"aaaaaaaa-0000-0000-0000-000000000002;2\n"
	if string(data) != want {
		t.Errorf("coverage.txt =\n%s\nwant\n%s", data, want)
	}
}

func TestStatementCoverage_NoInstrumentation(t *testing.T) {
	cov, err := NewStatementCoverage(CoverageConfig{
		AppName:            "com.example",
		InstrumentationDir: filepath.Join(t.TempDir(), "missing"),
		OutputDir:          t.TempDir(),
	}, &fakeCoverageSource{reads: [][]string{coverageLines}})
	if err != nil {
		t.Fatalf("NewStatementCoverage() error = %v", err)
	}

	ec := newRun()
	rec := appendStep(t, ec, exploration.NewResetAction(), 0, screenOf("Main"))
	if err := cov.OnNewRecord(context.Background(), ec, rec); err != nil {
		t.Fatalf("OnNewRecord() error = %v", err)
	}
	if got := cov.CurrentCoverage(); got != 0 {
		t.Errorf("CurrentCoverage() = %v, want 0 without instrumentation", got)
	}
	if n := cov.Executed(); n != 2 {
		t.Errorf("Executed() = %d, want 2", n)
	}
}

func TestStatementCoverage_BreakerStopsReads(t *testing.T) {
	readErr := errors.New("channel closed")
	source := &fakeCoverageSource{err: readErr}
	cov, err := NewStatementCoverage(CoverageConfig{
		AppName:          "com.example",
		OutputDir:        t.TempDir(),
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	}, source)
	if err != nil {
		t.Fatalf("NewStatementCoverage() error = %v", err)
	}

	ec := newRun()
	rec := appendStep(t, ec, exploration.NewResetAction(), 0, screenOf("Main"))
	for i := 0; i < 4; i++ {
		if err := cov.OnNewRecord(context.Background(), ec, rec); err == nil {
			t.Fatalf("OnNewRecord() #%d should fail", i)
		}
	}
	if source.calls != 2 {
		t.Errorf("source calls = %d, want 2 once the breaker is open", source.calls)
	}
}

func writeScreenshot(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		t.Errorf("create screenshot: %v", err)
		return
	}
	if err := png.Encode(f, img); err != nil {
		t.Errorf("encode screenshot: %v", err)
	}
	_ = f.Close()
	if err := os.Rename(tmp, path); err != nil {
		t.Errorf("rename screenshot: %v", err)
	}
}

func TestImgTrace_WaitsForScreenshot(t *testing.T) {
	shots, out := t.TempDir(), t.TempDir()
	shot := filepath.Join(shots, "state-1.png")

	prev := screenOf("Main", button("a", 10, 10))
	prev.ScreenshotPath = shot

	ec := newRun()
	appendStep(t, ec, exploration.NewResetAction(), 0, prev)
	rec := appendStep(t, ec, exploration.NewWidgetAction(prev.Widgets[0], exploration.ActionClick), time.Second, screenOf("Detail"))

	trace, err := NewImgTrace(out)
	if err != nil {
		t.Fatalf("NewImgTrace() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		writeScreenshot(t, shot)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := trace.OnNewRecord(ctx, ec, rec); err != nil {
		t.Fatalf("OnNewRecord() error = %v", err)
	}
	wg.Wait()

	name := filepath.Join(out, "0-"+rec.Action.ID+"-click.png")
	f, err := os.Open(name)
	if err != nil {
		t.Fatalf("open image trace: %v", err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode image trace: %v", err)
	}

	r, g, b, _ := img.At(10, 10).RGBA()
	got := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
	if got.R != 255 || got.G != 0 || got.B != 0 {
		t.Errorf("target corner = %v, want red", got)
	}
	if _, err := os.Stat(name + partialSuffix); !os.IsNotExist(err) {
		t.Error("partial file should be renamed")
	}
}

func TestImgTrace_CancelledWhileWaiting(t *testing.T) {
	out := t.TempDir()
	prev := screenOf("Main", button("a", 10, 10))
	prev.ScreenshotPath = filepath.Join(t.TempDir(), "never.png")

	ec := newRun()
	appendStep(t, ec, exploration.NewResetAction(), 0, prev)
	rec := appendStep(t, ec, exploration.NewWidgetAction(prev.Widgets[0], exploration.ActionClick), time.Second, screenOf("Detail"))

	trace, err := NewImgTrace(out)
	if err != nil {
		t.Fatalf("NewImgTrace() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := trace.OnNewRecord(ctx, ec, rec); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("OnNewRecord() error = %v, want deadline exceeded", err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Errorf("expected no output, got %d entries", len(entries))
	}
}

func TestImgTrace_NumbersInteractionsOnly(t *testing.T) {
	shots, out := t.TempDir(), t.TempDir()

	shot := func(name string) exploration.Snapshot {
		s := screenOf(name, button("a", 10, 10))
		s.ScreenshotPath = filepath.Join(shots, name+".png")
		writeScreenshot(t, s.ScreenshotPath)
		return s
	}
	main, detail := shot("Main"), shot("Detail")

	ec := newRun()
	steps := []struct {
		action exploration.Action
		after  exploration.Snapshot
	}{
		{exploration.NewResetAction(), main},
		{exploration.NewWidgetAction(main.Widgets[0], exploration.ActionClick), detail},
		{exploration.NewBackAction(), main},
		{exploration.NewResetAction(), main},
		{exploration.NewWidgetAction(main.Widgets[0], exploration.ActionLongClick), detail},
	}
	trace, err := NewImgTrace(out)
	if err != nil {
		t.Fatalf("NewImgTrace() error = %v", err)
	}
	var want []string
	for i, st := range steps {
		rec := appendStep(t, ec, st.action, time.Duration(i)*time.Second, st.after)
		if err := trace.OnNewRecord(context.Background(), ec, rec); err != nil {
			t.Fatalf("OnNewRecord(%d) error = %v", i, err)
		}
		if rec.Action.Target != nil {
			want = append(want, fmt.Sprintf("%d-%s-%s.png", len(want), rec.Action.ID, rec.Action.Kind))
		}
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	sort.Strings(got)
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("image trace files = %v, want %v", got, want)
	}
}

func TestImgTrace_SkipsStatesWithoutScreenshot(t *testing.T) {
	trace, err := NewImgTrace(t.TempDir())
	if err != nil {
		t.Fatalf("NewImgTrace() error = %v", err)
	}
	ec := newRun()
	rec := appendStep(t, ec, exploration.NewResetAction(), 0, screenOf("Main"))
	if err := trace.OnNewRecord(context.Background(), ec, rec); err != nil {
		t.Errorf("OnNewRecord() error = %v", err)
	}
}

func TestViewCount(t *testing.T) {
	a, b, c := button("a", 0, 0), button("b", 0, 50), button("c", 50, 0)
	s1 := screenOf("Main", a, b)
	s2 := screenOf("Detail", a, b, c)

	ec := newRun()
	vc := NewViewCount(t.TempDir())
	records := []exploration.TraceRecord{
		appendStep(t, ec, exploration.NewResetAction(), 500*time.Millisecond, s1),
		appendStep(t, ec, exploration.NewWidgetAction(s1.Widgets[0], exploration.ActionClick), 1500*time.Millisecond, s2),
	}
	for _, r := range records {
		if err := vc.OnNewRecord(context.Background(), ec, r); err != nil {
			t.Fatalf("OnNewRecord() error = %v", err)
		}
	}
	ec.SetEndTime(testStart.Add(2 * time.Second))

	rows := vc.Table(ec.Elapsed())
	want := [][3]int{{0, 0, 0}, {1, 2, 0}, {2, 3, 1}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}

	if err := vc.Dump(context.Background(), ec); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(vc.dir, "viewCount.txt"))
	if err != nil {
		t.Fatalf("read viewCount.txt: %v", err)
	}
	if !strings.HasPrefix(string(data), "Time_seconds\tActionable_unique_views_seen\tActionable_unique_views_clicked\n") {
		t.Errorf("unexpected header: %q", data)
	}
	if !strings.Contains(string(data), "2\t3\t1\n") {
		t.Errorf("missing final row: %q", data)
	}
}

func TestAPIActionTrace(t *testing.T) {
	ec := newRun()
	trace := NewAPIActionTrace(t.TempDir())
	s := screenOf("Main", button("a", 0, 0))

	steps := []struct {
		action exploration.Action
		logs   exploration.LogBundle
	}{
		{exploration.NewResetAction(), exploration.LogBundle{
			{Tag: "android.app.Activity", Method: "startActivity", Intent: "[data=, component=com.example/.Detail]", Message: "launch"},
		}},
		{exploration.NewWidgetAction(s.Widgets[0], exploration.ActionClick), exploration.LogBundle{
			{Tag: "java.net.URL", Method: "openConnection", Message: "net"},
			{Message: "not an api call"},
		}},
		{exploration.NewBackAction(), exploration.LogBundle{
			{Tag: "android.location.LocationManager", Method: "getLastKnownLocation", Message: "loc"},
		}},
	}

	for i, st := range steps {
		rec, err := ec.Append(st.action.Stamp(testStart.Add(time.Duration(i)*time.Second), false),
			exploration.ExecutionResult{Success: true, Snapshot: s, Logs: st.logs})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := trace.OnNewRecord(context.Background(), ec, rec); err != nil {
			t.Fatalf("OnNewRecord() error = %v", err)
		}
	}

	lines := trace.Lines()
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "0\tcom.example/.Detail\t") {
		t.Errorf("line 0 = %q, want activity from intent", lines[0])
	}
	if !strings.Contains(lines[1], "java.net.URL->openConnection\tnet") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "2\tcom.example.Main\t") {
		t.Errorf("line 2 = %q, want activity restored by back", lines[2])
	}

	if err := trace.Dump(context.Background(), ec); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(trace.dir, "apiActionTrace.txt"))
	if err != nil {
		t.Fatalf("read apiActionTrace.txt: %v", err)
	}
	if !strings.HasPrefix(string(data), "actionNr\tactivity\taction\tapi\tuniqueStr\n") {
		t.Errorf("unexpected header: %q", data)
	}
}

func TestStateGraph(t *testing.T) {
	ec := newRun()
	s1 := screenOf("Main", button("a", 0, 0))
	s2 := screenOf("Detail", button("b", 0, 0))
	graph := NewStateGraph(t.TempDir())

	records := []exploration.TraceRecord{
		appendStep(t, ec, exploration.NewResetAction(), 0, s1),
		appendStep(t, ec, exploration.NewWidgetAction(s1.Widgets[0], exploration.ActionClick), time.Second, s2),
		appendStep(t, ec, exploration.NewBackAction(), 2*time.Second, s1),
		appendStep(t, ec, exploration.NewWidgetAction(s1.Widgets[0], exploration.ActionClick), 3*time.Second, s2),
	}
	for _, r := range records {
		if err := graph.OnNewRecord(context.Background(), ec, r); err != nil {
			t.Fatalf("OnNewRecord() error = %v", err)
		}
	}

	states, transitions := graph.Size()
	if states != 3 {
		t.Errorf("states = %d, want 3 (missing, Main, Detail)", states)
	}
	if transitions != 3 {
		t.Errorf("transitions = %d, want 3", transitions)
	}

	if err := graph.Dump(context.Background(), ec); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(graph.dir, "stateGraph.dot"))
	if err != nil {
		t.Fatalf("read stateGraph.dot: %v", err)
	}
	dot := string(data)
	if !strings.Contains(dot, "digraph explored") {
		t.Errorf("dot should declare the explored digraph:\n%s", dot)
	}
	if !strings.Contains(dot, "click x2") {
		t.Errorf("dot should count repeated transitions:\n%s", dot)
	}
}

package simulated

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

const coverageLineLayout = "2006-01-02 15:04:05.000"

// Device is a simulated control surface. It is safe for concurrent use.
type Device struct {
	model *Model

	mu        sync.Mutex
	current   string // screen name, empty for the launcher
	checked   map[string]bool
	commands  []device.Command
	performed int

	reconnects     int
	reconnectFails int

	coverage     []string
	lastCoverage time.Time

	screenshotDir string
	shots         int

	logs  *LogBuffer
	clock func() time.Time
	log   *logging.Scoped
}

var (
	_ device.ControlSurface = (*Device)(nil)
	_ device.CoverageSource = (*Device)(nil)
)

// Option configures a Device.
type Option func(*Device)

// WithClock sets the clock stamping log entries.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.clock = now
	}
}

// WithScreenshotDir makes commands requesting a screenshot write one into
// dir.
func WithScreenshotDir(dir string) Option {
	return func(d *Device) {
		d.screenshotDir = dir
	}
}

// New creates a device showing the launcher.
func New(model *Model, opts ...Option) (*Device, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidModel)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		model:          model,
		checked:        make(map[string]bool),
		reconnectFails: model.Failures.ReconnectFailures,
		clock:          time.Now,
		log:            logging.For("simulated-device"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logs = newLogBuffer(d.clock)
	return d, nil
}

// ResetTimeSync implements device.ControlSurface.
func (d *Device) ResetTimeSync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reachable(ctx, "reset time sync")
}

// HasPackageInstalled implements device.ControlSurface.
func (d *Device) HasPackageInstalled(ctx context.Context, pkg string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reachable(ctx, "query package"); err != nil {
		return false, err
	}
	return pkg == d.model.Package && !d.model.Failures.NotInstalled, nil
}

// Snapshot implements device.ControlSurface.
func (d *Device) Snapshot(ctx context.Context) (exploration.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reachable(ctx, "snapshot"); err != nil {
		return exploration.MissingSnapshot(), err
	}
	return d.snapshot(false), nil
}

// Perform implements device.ControlSurface.
func (d *Device) Perform(ctx context.Context, cmd device.Command) (exploration.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reachable(ctx, "perform"); err != nil {
		return exploration.MissingSnapshot(), err
	}
	d.commands = append(d.commands, cmd)
	d.performed++

	switch cmd.Kind {
	case exploration.ActionReset:
		d.current = d.model.Start
		for _, msg := range d.model.BackgroundNoise {
			d.logs.append(exploration.LogEntry{Tag: "system", Message: msg, Background: true})
		}
	case exploration.ActionBack:
		if s, ok := d.model.screen(d.current); ok {
			d.current = s.Back
		}
	case exploration.ActionTerminate:
		d.current = ""
	default:
		if !cmd.Kind.TargetsWidget() {
			return exploration.MissingSnapshot(), device.NewError("perform", fmt.Errorf("%w: %s", device.ErrUnsupportedCommand, cmd.Kind))
		}
		if err := d.act(cmd); err != nil {
			return exploration.MissingSnapshot(), err
		}
	}
	return d.snapshot(cmd.Screenshot), nil
}

// act applies a widget command to the current screen.
func (d *Device) act(cmd device.Command) error {
	screen, ok := d.model.screen(d.current)
	if !ok {
		return device.NewError("perform", fmt.Errorf("%w: %s", device.ErrElementNotFound, cmd))
	}

	idx := -1
	for i, w := range screen.Widgets {
		if w.Disabled {
			continue
		}
		if cmd.ByCoordinates {
			if w.contains(cmd.X, cmd.Y) {
				idx = i
				break
			}
			continue
		}
		xp := w.xpath(screen.Name, i)
		if xp == cmd.XPath && !slices.Contains(d.model.Failures.LocatorMisses, xp) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return device.NewError("perform", fmt.Errorf("%w: %s", device.ErrElementNotFound, cmd))
	}

	w := screen.Widgets[idx]
	now := d.clock()
	for _, msg := range w.Logs {
		d.logs.append(exploration.LogEntry{Time: now, Tag: d.model.Package, Message: msg})
	}
	for _, method := range w.APICalls {
		d.logs.append(exploration.LogEntry{Time: now, Tag: "Monitor_API_method_call", Message: method, Method: method})
	}
	for _, stmt := range w.Statements {
		d.coverage = append(d.coverage, d.coverageLine(stmt))
	}

	switch cmd.Kind {
	case exploration.ActionToggle:
		key := w.xpath(screen.Name, idx)
		d.checked[key] = !d.checked[key]
	case exploration.ActionClick, exploration.ActionLongClick:
		if w.Goto != "" {
			d.current = w.Goto
		}
	}
	return nil
}

// coverageLine formats a statement hit the way instrumented apps log it.
// Timestamps strictly increase.
func (d *Device) coverageLine(stmt string) string {
	ts := d.clock().UTC().Truncate(time.Millisecond)
	if !ts.After(d.lastCoverage) {
		ts = d.lastCoverage.Add(time.Millisecond)
	}
	d.lastCoverage = ts
	return fmt.Sprintf("%s I/System.out [androcov] statement uuid=%s", ts.Format(coverageLineLayout), stmt)
}

// Reconnect implements device.ControlSurface.
func (d *Device) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconnects++
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.reconnectFails > 0 {
		d.reconnectFails--
		return device.NewError("reconnect", device.ErrCommunication)
	}
	d.log.Debug().
		Add(logging.Int("reconnects", d.reconnects)).
		Msg("reconnected")
	return nil
}

// Logs implements device.ControlSurface.
func (d *Device) Logs() device.LogChannel {
	return d.logs
}

// ReadCoverageLog implements device.CoverageSource.
func (d *Device) ReadCoverageLog(ctx context.Context, since time.Time) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reachable(ctx, "read coverage"); err != nil {
		return nil, err
	}
	if since.IsZero() {
		return slices.Clone(d.coverage), nil
	}
	cutoff := since.UTC().Format(coverageLineLayout)
	var out []string
	for _, line := range d.coverage {
		if line[:len(coverageLineLayout)] >= cutoff {
			out = append(out, line)
		}
	}
	return out, nil
}

// Commands returns the commands performed so far.
func (d *Device) Commands() []device.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.commands)
}

// Reconnects returns how many reconnects were attempted.
func (d *Device) Reconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reconnects
}

// Screen returns the name of the displayed screen, empty for the launcher.
func (d *Device) Screen() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// reachable fails once the injected disconnect point is reached.
func (d *Device) reachable(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return device.NewError(op, err)
	}
	if n := d.model.Failures.DisconnectAfter; n > 0 && d.performed >= n {
		return device.NewError(op, device.ErrCommunication)
	}
	return nil
}

func (d *Device) snapshot(screenshot bool) exploration.Snapshot {
	screen, ok := d.model.screen(d.current)
	if !ok {
		s := exploration.NewSnapshot(LauncherPackage, LauncherActivity, nil)
		s.IsHomeScreen = true
		return d.withScreenshot(s, screenshot)
	}

	pkg := screen.Package
	if pkg == "" {
		pkg = d.model.Package
	}
	activity := screen.Activity
	if activity == "" {
		activity = screen.Name
	}

	widgets := make([]exploration.Widget, 0, len(screen.Widgets))
	for i, w := range screen.Widgets {
		xp := w.xpath(screen.Name, i)
		ew := exploration.Widget{
			XPath:         xp,
			ResourceID:    w.ResourceID,
			Text:          w.Text,
			ContentDesc:   w.ContentDesc,
			ClassName:     w.Class,
			PackageName:   pkg,
			Bounds:        w.rect(),
			Enabled:       !w.Disabled,
			Visible:       true,
			Clickable:     w.Clickable,
			LongClickable: w.LongClickable,
			Scrollable:    w.Scrollable,
		}
		if w.Checkable {
			checked := d.checked[xp]
			ew.Checked = &checked
		}
		widgets = append(widgets, ew)
	}

	s := exploration.NewSnapshot(pkg, activity, widgets)
	s.IsPermissionDialog = screen.PermissionDialog
	return d.withScreenshot(s, screenshot)
}

// withScreenshot writes a blank screenshot of the state when requested.
func (d *Device) withScreenshot(s exploration.Snapshot, requested bool) exploration.Snapshot {
	if !requested || d.screenshotDir == "" {
		return s
	}
	d.shots++
	path := filepath.Join(d.screenshotDir, fmt.Sprintf("screen-%04d.png", d.shots))
	if err := writeScreenshot(path, s); err != nil {
		d.log.Warn().
			Add(logging.Str("path", path)).
			Add(logging.ErrorField(err)).
			Msg("failed to write screenshot")
		return s
	}
	s.ScreenshotPath = path
	return s
}

// writeScreenshot renders the widget bounds on a white canvas.
func writeScreenshot(path string, s exploration.Snapshot) error {
	canvas := image.NewRGBA(image.Rect(0, 0, 1080, 1920))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	grey := image.NewUniform(color.Gray{Y: 200})
	for _, w := range s.Widgets {
		r := image.Rect(w.Bounds.Left, w.Bounds.Top, w.Bounds.Right, w.Bounds.Bottom)
		draw.Draw(canvas, r.Intersect(canvas.Bounds()), grey, image.Point{}, draw.Src)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp) // #nosec G304 -- screenshot directory
	if err != nil {
		return err
	}
	if err := png.Encode(f, canvas); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LogBuffer is the simulated log channel.
type LogBuffer struct {
	mu      sync.Mutex
	entries exploration.LogBundle
	clock   func() time.Time
}

func newLogBuffer(clock func() time.Time) *LogBuffer {
	return &LogBuffer{clock: clock}
}

func (b *LogBuffer) append(e exploration.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = b.clock()
	}
	b.entries = append(b.entries, e)
}

// Inject adds an entry, e.g. an unexpected foreground message.
func (b *LogBuffer) Inject(e exploration.LogEntry) {
	b.append(e)
}

// ReadAndClear implements device.LogChannel.
func (b *LogBuffer) ReadAndClear(ctx context.Context) (exploration.LogBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out, nil
}

// AssertOnlyBackgroundNoise implements device.LogChannel.
func (b *LogBuffer) AssertOnlyBackgroundNoise(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fg := b.entries.Foreground()
	if len(fg) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(fg))
	for _, e := range fg {
		msgs = append(msgs, e.Message)
	}
	return device.NewError("logs", fmt.Errorf("%w: %s", device.ErrForegroundLogs, strings.Join(msgs, "; ")))
}

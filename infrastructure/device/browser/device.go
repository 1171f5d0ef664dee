// Package browser drives a web application in Chrome through the DevTools
// protocol. The host of the start URL plays the role of the application
// package.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// ErrInvalidConfig indicates the browser configuration is unusable.
var ErrInvalidConfig = errors.New("invalid browser configuration")

// longPress is how long the mouse is held for a long click.
const longPress = 600 * time.Millisecond

// Config configures the browser control surface.
type Config struct {
	// StartURL is opened on every reset.
	StartURL string

	// ControlURL connects to a running browser instead of launching one.
	ControlURL string

	// Bin is the browser binary to launch. Empty uses the launcher's
	// default lookup.
	Bin string

	Headless bool

	// ScreenshotDir receives the requested screenshots.
	ScreenshotDir string

	// NavigationTimeout bounds page loads.
	NavigationTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StartURL == "" {
		return fmt.Errorf("%w: start url is required", ErrInvalidConfig)
	}
	if hostOf(c.StartURL) == c.StartURL {
		return fmt.Errorf("%w: start url %q has no host", ErrInvalidConfig, c.StartURL)
	}
	return nil
}

// Device is a control surface over one browser page.
type Device struct {
	cfg  Config
	host string
	logs *consoleLog
	log  *logging.Scoped

	mu       sync.Mutex
	launch   *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	stopEach context.CancelFunc
	shots    int
}

// New launches or connects to the browser and opens a blank page.
func New(ctx context.Context, cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}

	d := &Device{
		cfg:  cfg,
		host: hostOf(cfg.StartURL),
		logs: &consoleLog{},
		log:  logging.For("browser"),
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, device.NewError("launch", fmt.Errorf("%w: %w", device.ErrCommunication, err))
		}
		d.launch = l
		controlURL = u
	}

	// The browser outlives the context it was created under.
	browser := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		d.kill()
		return nil, device.NewError("connect", fmt.Errorf("%w: %w", device.ErrCommunication, err))
	}
	d.browser = browser

	if err := d.openPage(); err != nil {
		_ = d.Close()
		return nil, err
	}
	d.log.Info().
		Add(logging.App(d.host)).
		Add(logging.Str("control_url", controlURL)).
		Msg("browser connected")
	return d, nil
}

// openPage opens a blank page with the request hooks and the console
// stream attached. Callers hold mu or own d exclusively.
func (d *Device) openPage() error {
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: blankURL})
	if err != nil {
		return device.NewError("open page", fmt.Errorf("%w: %w", device.ErrCommunication, err))
	}
	if _, err := page.EvalOnNewDocument("(" + apiHookJS + ")()"); err != nil {
		_ = page.Close()
		return device.NewError("install hooks", err)
	}

	evCtx, cancel := context.WithCancel(context.Background())
	wait := page.Context(evCtx).EachEvent(func(ev *proto.RuntimeConsoleAPICalled) {
		d.logs.add(consoleEntry(ev.Type, consoleArgs(ev.Args), time.Now()))
	})
	go wait()

	d.page = page
	d.stopEach = cancel
	return nil
}

func (d *Device) closePage() {
	if d.stopEach != nil {
		d.stopEach()
		d.stopEach = nil
	}
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
}

// ResetTimeSync implements device.ControlSurface. The browser shares the
// host clock.
func (d *Device) ResetTimeSync(ctx context.Context) error {
	return ctx.Err()
}

// HasPackageInstalled implements device.ControlSurface. Only the host of
// the start URL is served.
func (d *Device) HasPackageInstalled(ctx context.Context, pkg string) (bool, error) {
	if err := d.reachable(ctx, "has package"); err != nil {
		return false, err
	}
	return pkg == d.host, nil
}

// Snapshot implements device.ControlSurface.
func (d *Device) Snapshot(ctx context.Context) (exploration.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot(ctx, false)
}

// Perform implements device.ControlSurface.
func (d *Device) Perform(ctx context.Context, cmd device.Command) (exploration.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page == nil {
		return exploration.MissingSnapshot(), device.NewError("perform", device.ErrCommunication)
	}
	page := d.page.Context(ctx)

	var err error
	switch cmd.Kind {
	case exploration.ActionReset:
		err = page.Timeout(d.cfg.NavigationTimeout).Navigate(d.cfg.StartURL)
	case exploration.ActionBack:
		err = page.NavigateBack()
	case exploration.ActionTerminate:
		err = page.Navigate(blankURL)
	case exploration.ActionClick, exploration.ActionLongClick, exploration.ActionToggle, exploration.ActionScroll:
		err = d.interact(page, cmd)
	default:
		err = fmt.Errorf("%w: %s", device.ErrUnsupportedCommand, cmd.Kind)
	}
	if err != nil {
		return exploration.MissingSnapshot(), device.NewError(cmd.String(), err)
	}

	if err := page.Timeout(d.cfg.NavigationTimeout).WaitLoad(); err != nil {
		d.log.Warn().
			Add(logging.Str("command", cmd.String())).
			Add(logging.ErrorField(err)).
			Msg("page did not finish loading")
	}
	return d.snapshot(ctx, cmd.Screenshot)
}

// interact performs a widget command, by locator unless the command is
// coordinate addressed.
func (d *Device) interact(page *rod.Page, cmd device.Command) error {
	x, y := float64(cmd.X), float64(cmd.Y)

	if !cmd.ByCoordinates {
		el, err := d.locate(page, cmd)
		if err != nil {
			return err
		}
		if cmd.Kind == exploration.ActionClick || cmd.Kind == exploration.ActionToggle {
			return el.Click(proto.InputMouseButtonLeft, 1)
		}
		shape, err := el.Shape()
		if err != nil {
			return err
		}
		box := shape.Box()
		x, y = box.X+box.Width/2, box.Y+box.Height/2
	}

	mouse := page.Mouse
	if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	switch cmd.Kind {
	case exploration.ActionLongClick:
		if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}
		time.Sleep(longPress)
		return mouse.Up(proto.InputMouseButtonLeft, 1)
	case exploration.ActionScroll:
		return mouse.Scroll(0, 400, 4)
	default:
		return mouse.Click(proto.InputMouseButtonLeft, 1)
	}
}

func (d *Device) locate(page *rod.Page, cmd device.Command) (*rod.Element, error) {
	p := page.Timeout(d.cfg.NavigationTimeout)
	var (
		el  *rod.Element
		err error
	)
	switch {
	case cmd.XPath != "":
		el, err = p.ElementX(cmd.XPath)
	case cmd.ResourceID != "":
		el, err = p.Element(cssID(cmd.ResourceID))
	default:
		return nil, fmt.Errorf("%w: no locator", device.ErrElementNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrElementNotFound, err)
	}
	return el, nil
}

func (d *Device) snapshot(ctx context.Context, screenshot bool) (exploration.Snapshot, error) {
	if d.page == nil {
		return exploration.MissingSnapshot(), device.NewError("snapshot", device.ErrCommunication)
	}
	page := d.page.Context(ctx)

	res, err := page.Evaluate(&rod.EvalOptions{JS: snapshotJS, ByValue: true, AwaitPromise: true})
	if err != nil {
		return exploration.MissingSnapshot(), device.NewError("snapshot", fmt.Errorf("%w: %w", device.ErrCommunication, err))
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return exploration.MissingSnapshot(), device.NewError("snapshot", err)
	}
	s, err := parseState(raw)
	if err != nil {
		return exploration.MissingSnapshot(), device.NewError("snapshot", err)
	}

	if screenshot && d.cfg.ScreenshotDir != "" {
		path, err := d.screenshot(page)
		if err != nil {
			d.log.Warn().
				Add(logging.StateID(s.ID)).
				Add(logging.ErrorField(err)).
				Msg("screenshot failed")
		} else {
			s.ScreenshotPath = path
		}
	}
	return s, nil
}

// screenshot writes the page screenshot through a temporary file so
// readers never see a partial image.
func (d *Device) screenshot(page *rod.Page) (string, error) {
	data, err := page.Screenshot(false, nil)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.cfg.ScreenshotDir, 0750); err != nil {
		return "", err
	}
	d.shots++
	path := filepath.Join(d.cfg.ScreenshotDir, fmt.Sprintf("screen-%05d.png", d.shots))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Reconnect implements device.ControlSurface by reopening the page at its
// last URL.
func (d *Device) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return device.NewError("reconnect", device.ErrCommunication)
	}
	last := blankURL
	if d.page != nil {
		if info, err := d.page.Info(); err == nil && info.URL != "" {
			last = info.URL
		}
	}
	d.closePage()
	if err := d.openPage(); err != nil {
		return err
	}
	if err := d.page.Context(ctx).Timeout(d.cfg.NavigationTimeout).Navigate(last); err != nil {
		return device.NewError("reconnect", err)
	}
	d.log.Info().
		Add(logging.Str("url", last)).
		Msg("page reopened")
	return nil
}

// Logs implements device.ControlSurface.
func (d *Device) Logs() device.LogChannel {
	return d.logs
}

// Close closes the page and the browser, killing it when it was launched
// here.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closePage()
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	d.kill()
	return err
}

func (d *Device) kill() {
	if d.launch != nil {
		d.launch.Kill()
		d.launch = nil
	}
}

func (d *Device) reachable(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return device.NewError(op, device.ErrCommunication)
	}
	return nil
}

var (
	_ device.ControlSurface = (*Device)(nil)
	_ device.Closer         = (*Device)(nil)
)

// Package simulated provides a deterministic in-memory device driven by an
// application model. It backs the loop tests and "explore run --simulate".
package simulated

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// ErrInvalidModel indicates a model that cannot be simulated.
var ErrInvalidModel = errors.New("invalid application model")

// Launcher identifies the simulated home screen.
const (
	LauncherPackage  = "com.android.launcher"
	LauncherActivity = "Launcher"
)

// Model describes an application as a set of screens connected by widgets.
type Model struct {
	// Package is the application package name.
	Package string `yaml:"package"`

	// Start is the screen shown after a reset.
	Start string `yaml:"start"`

	Screens []Screen `yaml:"screens"`

	// BackgroundNoise is logged after every reset and marked as background.
	BackgroundNoise []string `yaml:"background_noise,omitempty"`

	Failures Failures `yaml:"failures,omitempty"`
}

// Screen is one UI state of the model.
type Screen struct {
	Name     string `yaml:"name"`
	Activity string `yaml:"activity,omitempty"`

	// Package overrides the model package, e.g. for system dialogs.
	Package string `yaml:"package,omitempty"`

	PermissionDialog bool `yaml:"permission_dialog,omitempty"`

	// Back is the screen shown after pressing back; empty leaves the app.
	Back string `yaml:"back,omitempty"`

	Widgets []WidgetModel `yaml:"widgets,omitempty"`
}

// WidgetModel is one element of a screen.
type WidgetModel struct {
	XPath       string `yaml:"xpath,omitempty"`
	ResourceID  string `yaml:"resource_id,omitempty"`
	Text        string `yaml:"text,omitempty"`
	ContentDesc string `yaml:"content_desc,omitempty"`
	Class       string `yaml:"class,omitempty"`

	// Bounds are left, top, right, bottom.
	Bounds [4]int `yaml:"bounds"`

	Clickable     bool `yaml:"clickable,omitempty"`
	LongClickable bool `yaml:"long_clickable,omitempty"`
	Scrollable    bool `yaml:"scrollable,omitempty"`
	Checkable     bool `yaml:"checkable,omitempty"`
	Disabled      bool `yaml:"disabled,omitempty"`

	// Goto is the screen shown after a click or long click.
	Goto string `yaml:"goto,omitempty"`

	// Logs are foreground entries emitted when the widget is acted upon.
	Logs []string `yaml:"logs,omitempty"`

	// APICalls are monitored API signatures invoked by the widget.
	APICalls []string `yaml:"api_calls,omitempty"`

	// Statements are the coverage identifiers executed by the widget.
	Statements []string `yaml:"statements,omitempty"`
}

// Failures injects faults into the simulation.
type Failures struct {
	// LocatorMisses lists xpaths that locator commands cannot resolve.
	LocatorMisses []string `yaml:"locator_misses,omitempty"`

	// ReconnectFailures is how many reconnects fail before one succeeds.
	ReconnectFailures int `yaml:"reconnect_failures,omitempty"`

	// DisconnectAfter makes every call fail once this many commands ran.
	DisconnectAfter int `yaml:"disconnect_after,omitempty"`

	// NotInstalled reports the package as missing.
	NotInstalled bool `yaml:"not_installed,omitempty"`
}

// LoadModel reads a YAML model from path.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user supplied model
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a YAML model.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every screen reference resolves.
func (m *Model) Validate() error {
	if m.Package == "" {
		return fmt.Errorf("%w: package is required", ErrInvalidModel)
	}
	names := make(map[string]bool, len(m.Screens))
	for _, s := range m.Screens {
		if s.Name == "" {
			return fmt.Errorf("%w: screen without name", ErrInvalidModel)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate screen %q", ErrInvalidModel, s.Name)
		}
		names[s.Name] = true
	}
	if !names[m.Start] {
		return fmt.Errorf("%w: start screen %q not found", ErrInvalidModel, m.Start)
	}
	for _, s := range m.Screens {
		if s.Back != "" && !names[s.Back] {
			return fmt.Errorf("%w: screen %q: back target %q not found", ErrInvalidModel, s.Name, s.Back)
		}
		for i, w := range s.Widgets {
			if w.Goto != "" && !names[w.Goto] {
				return fmt.Errorf("%w: screen %q widget %d: goto target %q not found", ErrInvalidModel, s.Name, i, w.Goto)
			}
		}
	}
	return nil
}

func (m *Model) screen(name string) (Screen, bool) {
	for _, s := range m.Screens {
		if s.Name == name {
			return s, true
		}
	}
	return Screen{}, false
}

// xpath returns the locator of the i-th widget of a screen.
func (w WidgetModel) xpath(screen string, i int) string {
	if w.XPath != "" {
		return w.XPath
	}
	class := w.Class
	if class == "" {
		class = "android.widget.Button"
	}
	return fmt.Sprintf("//%s/%s[%d]", screen, class, i+1)
}

func (w WidgetModel) rect() exploration.Rect {
	return exploration.Rect{Left: w.Bounds[0], Top: w.Bounds[1], Right: w.Bounds[2], Bottom: w.Bounds[3]}
}

func (w WidgetModel) contains(x, y int) bool {
	r := w.rect()
	return x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

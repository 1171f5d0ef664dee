package exploration

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// MissingSnapshotID identifies the missing snapshot sentinel.
const MissingSnapshotID = "missing"

// Snapshot is the UI state observed after an action.
type Snapshot struct {
	// ID is derived from the structure of the widgets.
	ID string `json:"id"`

	// PackageName is the application owning the foreground surface.
	PackageName string `json:"package_name,omitempty"`

	// Activity is the foreground screen, when known.
	Activity string `json:"activity,omitempty"`

	Widgets []Widget `json:"widgets,omitempty"`

	IsHomeScreen       bool `json:"is_home_screen,omitempty"`
	IsPermissionDialog bool `json:"is_permission_dialog,omitempty"`

	// ScreenshotPath points to a screenshot that may materialize after the
	// snapshot is returned.
	ScreenshotPath string `json:"screenshot_path,omitempty"`

	// Missing marks the sentinel used when no snapshot could be taken.
	Missing bool `json:"missing,omitempty"`
}

// MissingSnapshot returns the missing snapshot sentinel.
func MissingSnapshot() Snapshot {
	return Snapshot{ID: MissingSnapshotID, Missing: true}
}

// NewSnapshot builds a snapshot and derives the identifiers of the state and
// any widget without one.
func NewSnapshot(pkg, activity string, widgets []Widget) Snapshot {
	ws := make([]Widget, len(widgets))
	copy(ws, widgets)
	keys := make([]string, 0, len(ws))
	for i := range ws {
		if ws[i].ID == "" {
			ws[i].ID = widgetID(ws[i])
		}
		keys = append(keys, ws[i].UniqueString())
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(pkg))
	h.Write([]byte{0})
	h.Write([]byte(activity))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}

	return Snapshot{
		ID:          hex.EncodeToString(h.Sum(nil)[:12]),
		PackageName: pkg,
		Activity:    activity,
		Widgets:     ws,
	}
}

// ActionableWidgets returns the widgets that accept at least one interaction.
func (s Snapshot) ActionableWidgets() []Widget {
	var out []Widget
	for _, w := range s.Widgets {
		if w.CanBeActedUpon() {
			out = append(out, w)
		}
	}
	return out
}

// Find returns the widget with the given id.
func (s Snapshot) Find(id string) (Widget, bool) {
	for _, w := range s.Widgets {
		if w.ID == id {
			return w, true
		}
	}
	return Widget{}, false
}

// FindByResourceID returns the first widget with the given resource id.
func (s Snapshot) FindByResourceID(resourceID string) (Widget, bool) {
	for _, w := range s.Widgets {
		if w.ResourceID == resourceID {
			return w, true
		}
	}
	return Widget{}, false
}

// BelongsTo returns true if the snapshot shows the given application.
func (s Snapshot) BelongsTo(pkg string) bool {
	return !s.Missing && s.PackageName == pkg
}

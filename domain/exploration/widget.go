package exploration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Rect is a bounding box in screen coordinates.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the width of the box.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the height of the box.
func (r Rect) Height() int { return r.Bottom - r.Top }

// CenterX returns the horizontal center.
func (r Rect) CenterX() int { return r.Left + r.Width()/2 }

// CenterY returns the vertical center.
func (r Rect) CenterY() int { return r.Top + r.Height()/2 }

// Empty returns true if the box has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Widget is one element of a UI snapshot.
type Widget struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id,omitempty"`
	XPath       string `json:"xpath,omitempty"`
	ResourceID  string `json:"resource_id,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentDesc string `json:"content_desc,omitempty"`
	ClassName   string `json:"class_name,omitempty"`
	PackageName string `json:"package_name,omitempty"`
	Bounds      Rect   `json:"bounds"`

	Enabled       bool  `json:"enabled"`
	Visible       bool  `json:"visible"`
	Clickable     bool  `json:"clickable,omitempty"`
	LongClickable bool  `json:"long_clickable,omitempty"`
	Scrollable    bool  `json:"scrollable,omitempty"`
	Checked       *bool `json:"checked,omitempty"`
	IsKeyboard    bool  `json:"is_keyboard,omitempty"`
}

// UniqueString returns the structural identity of the widget, independent of
// its position in the hierarchy.
func (w Widget) UniqueString() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", w.ClassName, w.ResourceID, w.Text, w.ContentDesc, w.XPath)
}

// Checkable returns true if the widget carries a toggle state.
func (w Widget) Checkable() bool {
	return w.Checked != nil
}

// CanBeActedUpon returns true if the widget accepts at least one interaction.
func (w Widget) CanBeActedUpon() bool {
	if !w.Enabled || !w.Visible || w.IsKeyboard || w.Bounds.Empty() {
		return false
	}
	return w.Clickable || w.LongClickable || w.Checkable() || w.Scrollable
}

// Interactions lists the action kinds the widget supports.
func (w Widget) Interactions() []ActionKind {
	var kinds []ActionKind
	if w.LongClickable {
		kinds = append(kinds, ActionLongClick)
	}
	if w.Clickable {
		kinds = append(kinds, ActionClick)
	}
	if w.Checkable() {
		kinds = append(kinds, ActionToggle)
	}
	if w.Scrollable {
		kinds = append(kinds, ActionScroll)
	}
	return kinds
}

// widgetID derives a stable identifier from the unique string.
func widgetID(w Widget) string {
	sum := sha256.Sum256([]byte(w.UniqueString()))
	return hex.EncodeToString(sum[:8])
}

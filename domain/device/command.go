package device

import (
	"fmt"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// Command is a single instruction for the control surface.
type Command struct {
	Kind    exploration.ActionKind
	Package string

	// Locator fields.
	XPath      string
	ResourceID string

	// Coordinate fields, used when ByCoordinates is set.
	X, Y          int
	ByCoordinates bool

	// Screenshot requests a screenshot of the resulting state.
	Screenshot bool
}

// CommandFor translates an action into a command. When byCoordinates is set
// the target is addressed by the center of its last known bounds.
func CommandFor(a exploration.Action, app exploration.App, byCoordinates bool) Command {
	cmd := Command{
		Kind:       a.Kind,
		Package:    app.PackageName,
		Screenshot: a.TakeScreenshot,
	}
	if a.Target != nil {
		cmd.XPath = a.Target.XPath
		cmd.ResourceID = a.Target.ResourceID
		cmd.X = a.Target.Bounds.CenterX()
		cmd.Y = a.Target.Bounds.CenterY()
	}
	cmd.ByCoordinates = byCoordinates || a.UseCoordinates
	return cmd
}

// String returns a short description for logs.
func (c Command) String() string {
	if c.ByCoordinates {
		return fmt.Sprintf("%s@(%d,%d)", c.Kind, c.X, c.Y)
	}
	if c.XPath != "" {
		return fmt.Sprintf("%s[%s]", c.Kind, c.XPath)
	}
	return string(c.Kind)
}

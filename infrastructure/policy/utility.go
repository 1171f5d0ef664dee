package policy

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
)

// Names of the utility policies.
const (
	ResetName           = "reset"
	PressBackName       = "press-back"
	AllowPermissionName = "allow-permission"
)

// PermissionAllowResourceID is the resource id of the allow button of
// runtime permission dialogs.
const PermissionAllowResourceID = "com.android.packageinstaller:id/permission_allow_button"

// Reset restarts the application.
type Reset struct {
	Base
}

// NewReset creates the reset policy.
func NewReset() *Reset {
	return &Reset{Base: newBase(ResetName, true)}
}

// Applicable is always true.
func (p *Reset) Applicable() bool { return true }

// Decide returns a reset action.
func (p *Reset) Decide(context.Context) (exploration.Action, error) {
	if _, err := p.requireContext(); err != nil {
		return exploration.Action{}, err
	}
	return exploration.NewResetAction().WithSource(p.Name()), nil
}

// PressBack presses the back button.
type PressBack struct {
	Base
}

// NewPressBack creates the press-back policy.
func NewPressBack() *PressBack {
	return &PressBack{Base: newBase(PressBackName, true)}
}

// Applicable is always true.
func (p *PressBack) Applicable() bool { return true }

// Decide returns a back action.
func (p *PressBack) Decide(context.Context) (exploration.Action, error) {
	if _, err := p.requireContext(); err != nil {
		return exploration.Action{}, err
	}
	return exploration.NewBackAction().WithSource(p.Name()), nil
}

// AllowPermission accepts runtime permission dialogs.
type AllowPermission struct {
	Base
}

// NewAllowPermission creates the allow-permission policy.
func NewAllowPermission() *AllowPermission {
	return &AllowPermission{Base: newBase(AllowPermissionName, true)}
}

// Applicable is true on a permission dialog with an allow button.
func (p *AllowPermission) Applicable() bool {
	s := p.CurrentState()
	if !s.IsPermissionDialog {
		return false
	}
	_, ok := AllowButton(s)
	return ok
}

// Decide clicks the allow button.
func (p *AllowPermission) Decide(context.Context) (exploration.Action, error) {
	ec, err := p.requireContext()
	if err != nil {
		return exploration.Action{}, err
	}
	w, ok := AllowButton(ec.CurrentState())
	if !ok {
		return exploration.Action{}, strategy.Violation(p.Name(), errNoAllowButton)
	}
	return exploration.NewWidgetAction(w, exploration.ActionClick).WithSource(p.Name()), nil
}

// AllowButton finds the allow button of a permission dialog, by resource id
// first and by its label otherwise.
func AllowButton(s exploration.Snapshot) (exploration.Widget, bool) {
	if w, ok := s.FindByResourceID(PermissionAllowResourceID); ok {
		return w, true
	}
	for _, w := range s.Widgets {
		if strings.ToUpper(w.Text) == "ALLOW" {
			return w, true
		}
	}
	return exploration.Widget{}, false
}

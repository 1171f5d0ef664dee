// Package device defines the control surface the exploration core drives.
package device

import (
	"context"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// ControlSurface is a remote, fallible handle on the device running the
// application under exploration. Calls are issued by a single goroutine.
type ControlSurface interface {
	// ResetTimeSync aligns the device clock with the host.
	ResetTimeSync(ctx context.Context) error

	// HasPackageInstalled reports whether the application is installed.
	HasPackageInstalled(ctx context.Context, pkg string) (bool, error)

	// Snapshot returns the current UI state, or the missing sentinel.
	Snapshot(ctx context.Context) (exploration.Snapshot, error)

	// Perform executes a command and returns the resulting UI state.
	Perform(ctx context.Context, cmd Command) (exploration.Snapshot, error)

	// Reconnect re-establishes the connection to the device.
	Reconnect(ctx context.Context) error

	// Logs returns the background log channel.
	Logs() LogChannel
}

// LogChannel is the device's background log stream. It supports a single
// reader at a time.
type LogChannel interface {
	// ReadAndClear returns the buffered entries and empties the buffer.
	ReadAndClear(ctx context.Context) (exploration.LogBundle, error)

	// AssertOnlyBackgroundNoise fails if the buffer holds entries that are
	// not background noise.
	AssertOnlyBackgroundNoise(ctx context.Context) error
}

// CoverageSource is implemented by surfaces whose application is
// instrumented for statement coverage.
type CoverageSource interface {
	// ReadCoverageLog returns the raw coverage log lines emitted since the
	// given time. A zero time returns the whole buffer.
	ReadCoverageLog(ctx context.Context, since time.Time) ([]string, error)
}

// Closer is implemented by surfaces that hold resources.
type Closer interface {
	Close() error
}

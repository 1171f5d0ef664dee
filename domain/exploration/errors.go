package exploration

import "errors"

// Domain errors for exploration runs.
var (
	// ErrStepFailed indicates a step could not be executed after every
	// fallback tier was exhausted.
	ErrStepFailed = errors.New("exploration step failed")

	// ErrPackageNotInstalled indicates the target application is missing.
	ErrPackageNotInstalled = errors.New("target package not installed")

	// ErrTraceSealed indicates an append after the run was finalized.
	ErrTraceSealed = errors.New("trace is sealed")

	// ErrInvalidApp indicates the application description is incomplete.
	ErrInvalidApp = errors.New("invalid application: package name is required")

	// ErrCancelled indicates the run was stopped from outside.
	ErrCancelled = errors.New("exploration cancelled")
)

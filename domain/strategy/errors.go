package strategy

import (
	"errors"
	"fmt"
)

// Domain errors for policies and selection.
var (
	// ErrContractViolation marks programming errors. They are never
	// converted into step failures.
	ErrContractViolation = errors.New("contract violation")

	// ErrNoPolicies indicates a decision was requested from an empty pool.
	ErrNoPolicies = errors.New("no policies registered")

	// ErrNoSelectorMatched indicates no selector produced a policy.
	ErrNoSelectorMatched = errors.New("no selector matched")

	// ErrNotInControl indicates a policy released control it did not hold.
	ErrNotInControl = errors.New("policy is not in control")

	// ErrUnsuccessfulResult indicates a decision was requested after a
	// failed step.
	ErrUnsuccessfulResult = errors.New("decision requested after unsuccessful result")

	// ErrNoTransition indicates a guided flow was invoked in a state where
	// none of its transitions applies.
	ErrNoTransition = errors.New("no applicable transition")

	// ErrNoCandidates indicates a policy found nothing to act upon.
	ErrNoCandidates = errors.New("no candidate widgets")
)

// ContractViolationError reports a contract violation raised by a component.
type ContractViolationError struct {
	Component string
	Err       error
}

// Violation wraps err as a contract violation raised by component.
func Violation(component string, err error) error {
	return &ContractViolationError{Component: component, Err: err}
}

// Error implements the error interface.
func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation in %s: %v", e.Component, e.Err)
}

// Unwrap exposes both the violation marker and the cause.
func (e *ContractViolationError) Unwrap() []error {
	return []error{ErrContractViolation, e.Err}
}

// IsContractViolation reports whether err is a contract violation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

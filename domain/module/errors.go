package module

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModuleNotFound is returned for unknown or uninstalled module ids.
var ErrModuleNotFound = errors.New("module not found")

// DuplicateModuleError is returned when a symbolic name is already installed.
type DuplicateModuleError struct {
	SymbolicName string
	ExistingID   ID
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("module %q already installed as %d", e.SymbolicName, e.ExistingID)
}

// IllegalStateTransitionError is returned for a move the state machine forbids.
// The module's state is left unchanged.
type IllegalStateTransitionError struct {
	ModuleID ID
	Op       string
	From     State
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("module %d: cannot %s from state %s", e.ModuleID, e.Op, e.From)
}

// UnresolvedDependencyError lists imports without a provider at resolve time.
// It is advisory: resolution succeeds regardless.
type UnresolvedDependencyError struct {
	ModuleID ID
	Missing  []string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("module %d: unresolved imports: %s", e.ModuleID, strings.Join(e.Missing, ", "))
}

// ActivationError wraps a failing activation or deactivation hook.
type ActivationError struct {
	ModuleID     ID
	SymbolicName string
	Phase        string // "activate" or "deactivate"
	Err          error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("module %q (%d): %s hook failed: %v", e.SymbolicName, e.ModuleID, e.Phase, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// InvalidStateError is returned when a module publishes outside its active window.
type InvalidStateError struct {
	ModuleID ID
	State    State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("module %d is %s, services can only be published by active modules", e.ModuleID, e.State)
}

// IsIllegalTransition reports whether err is an IllegalStateTransitionError.
func IsIllegalTransition(err error) bool {
	var target *IllegalStateTransitionError
	return errors.As(err, &target)
}

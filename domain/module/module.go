// Package module provides module value types and the lifecycle state machine.
// This package has NO dependencies on I/O or external packages.
package module

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ID identifies an installed module. IDs are assigned in install order and
// never reused; 0 is reserved for the system module.
type ID uint64

// SystemID is the id of the always-active system module.
const SystemID ID = 0

// SystemName is the symbolic name of the system module.
const SystemName = "system"

// State is a lifecycle state.
type State int32

const (
	StateInstalled State = iota + 1
	StateResolved
	StateStarting
	StateActive
	StateStopping
	StateUninstalled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateUninstalled:
		return "UNINSTALLED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// transitions lists every legal single-step move.
var transitions = map[State][]State{
	StateInstalled: {StateResolved, StateUninstalled},
	StateResolved:  {StateStarting, StateUninstalled},
	StateStarting:  {StateActive, StateResolved}, // STARTING -> RESOLVED is the activation rollback
	StateActive:    {StateStopping},
	StateStopping:  {StateResolved},
}

// CanTransition reports whether from -> to is a legal single-step move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Context is what a module sees of the runtime while its hooks run.
// It is valid from the start of OnActivate until OnDeactivate returns.
type Context interface {
	// Module returns a snapshot of the calling module.
	Module() Module

	// Publish registers provider under capability, owned by the calling module.
	Publish(capability string, provider any, props map[string]string) (uint64, error)

	// Unpublish retracts a registration made through this context.
	Unpublish(registrationID uint64)

	// Lookup returns the preferred provider of capability.
	Lookup(capability string) (any, bool)

	// LookupAll returns every provider of capability.
	LookupAll(capability string) []any

	// Modules returns every installed module.
	Modules() []Module
}

// Activator receives lifecycle callbacks for a module.
type Activator interface {
	OnActivate(ctx context.Context, mc Context) error
	OnDeactivate(ctx context.Context, mc Context) error
}

// ActivatorFuncs adapts plain functions to Activator. Nil fields are no-ops.
type ActivatorFuncs struct {
	Activate   func(ctx context.Context, mc Context) error
	Deactivate func(ctx context.Context, mc Context) error
}

// OnActivate calls Activate if set.
func (f ActivatorFuncs) OnActivate(ctx context.Context, mc Context) error {
	if f.Activate == nil {
		return nil
	}
	return f.Activate(ctx, mc)
}

// OnDeactivate calls Deactivate if set.
func (f ActivatorFuncs) OnDeactivate(ctx context.Context, mc Context) error {
	if f.Deactivate == nil {
		return nil
	}
	return f.Deactivate(ctx, mc)
}

// Descriptor describes a module to install.
type Descriptor struct {
	SymbolicName string
	Version      string

	// Imports are capability types the module consumes.
	Imports []string

	// Exports are capability types the module publishes.
	Exports []string

	// Activator is optional; a module without one only changes state.
	Activator Activator
}

// Validate checks the descriptor (pure function).
func (d Descriptor) Validate() error {
	name := strings.TrimSpace(d.SymbolicName)
	if name == "" {
		return fmt.Errorf("symbolic name is required")
	}
	if name != d.SymbolicName {
		return fmt.Errorf("symbolic name %q has surrounding whitespace", d.SymbolicName)
	}
	for _, c := range append(append([]string{}, d.Imports...), d.Exports...) {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("module %q declares an empty capability", d.SymbolicName)
		}
	}
	return nil
}

// Module is a read-only snapshot of an installed module (immutable value type).
type Module struct {
	ID           ID
	SymbolicName string
	Version      string
	Imports      []string
	Exports      []string
	State        State
	InstalledAt  time.Time

	// Missing lists imports that had no provider when the module resolved.
	Missing []string
}

// IsActive returns true if the module is ACTIVE.
func (m Module) IsActive() bool {
	return m.State == StateActive
}

// ExportsCapability reports whether the module declares capability as an export.
func (m Module) ExportsCapability(capability string) bool {
	for _, e := range m.Exports {
		if e == capability {
			return true
		}
	}
	return false
}

package module

import (
	"context"
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInstalled, StateResolved, true},
		{StateInstalled, StateUninstalled, true},
		{StateInstalled, StateActive, false},
		{StateResolved, StateStarting, true},
		{StateResolved, StateUninstalled, true},
		{StateStarting, StateActive, true},
		{StateStarting, StateResolved, true},
		{StateActive, StateStopping, true},
		{StateActive, StateUninstalled, false},
		{StateActive, StateResolved, false},
		{StateStopping, StateResolved, true},
		{StateUninstalled, StateInstalled, false},
		{StateUninstalled, StateResolved, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if StateActive.String() != "ACTIVE" {
		t.Errorf("StateActive.String() = %s", StateActive.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("unknown state String() = %s", State(42).String())
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{"valid", Descriptor{SymbolicName: "kimios-kernel", Exports: []string{"security.controller"}}, false},
		{"empty name", Descriptor{}, true},
		{"whitespace name", Descriptor{SymbolicName: " kernel"}, true},
		{"empty import", Descriptor{SymbolicName: "a", Imports: []string{""}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActivationError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ActivationError{ModuleID: 3, SymbolicName: "x", Phase: "activate", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("ActivationError should unwrap to its cause")
	}
	if IsIllegalTransition(err) {
		t.Error("ActivationError is not an illegal transition")
	}
	if !IsIllegalTransition(&IllegalStateTransitionError{ModuleID: 1, Op: "stop", From: StateInstalled}) {
		t.Error("IsIllegalTransition should match")
	}
}

func TestActivatorFuncs_NilIsNoop(t *testing.T) {
	var a ActivatorFuncs
	if err := a.OnActivate(context.Background(), nil); err != nil {
		t.Errorf("OnActivate = %v", err)
	}
	if err := a.OnDeactivate(context.Background(), nil); err != nil {
		t.Errorf("OnDeactivate = %v", err)
	}
}

func TestModule_ExportsCapability(t *testing.T) {
	m := Module{Exports: []string{"greeter"}}
	if !m.ExportsCapability("greeter") {
		t.Error("expected greeter export")
	}
	if m.ExportsCapability("security.controller") {
		t.Error("unexpected export")
	}
}

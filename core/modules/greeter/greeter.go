// Package greeter is a minimal sample module. It publishes a Service under
// the "greeter" capability and nothing else.
package greeter

import (
	"context"
	"fmt"

	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/domain/module"
)

// SymbolicName is the module's symbolic name.
const SymbolicName = "kimios-greeter"

// Greeter creates greetings.
type Greeter interface {
	CreateGreeting(name string) string
}

// Service is the published Greeter.
type Service struct {
	format string
}

// NewService creates a greeter using format, which must hold one %s.
// An empty format uses "Hello, %s!".
func NewService(format string) *Service {
	if format == "" {
		format = "Hello, %s!"
	}
	return &Service{format: format}
}

// CreateGreeting greets name.
func (s *Service) CreateGreeting(name string) string {
	return fmt.Sprintf(s.format, name)
}

// Descriptor returns the installable greeter module.
func Descriptor(format string) module.Descriptor {
	return module.Descriptor{
		SymbolicName: SymbolicName,
		Version:      "1.0.0",
		Exports:      []string{string(capability.Greeter)},
		Activator: module.ActivatorFuncs{
			Activate: func(ctx context.Context, mc module.Context) error {
				_, err := mc.Publish(string(capability.Greeter), Greeter(NewService(format)), nil)
				return err
			},
		},
	}
}

// Package kernel is the core module. While ACTIVE it publishes the
// SecurityController under the "security.controller" capability and runs the
// session sweeper.
package kernel

import (
	"context"
	"sync"

	"github.com/artpar/bundlehost/app"
	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/domain/module"
)

// SymbolicName is the kernel module's symbolic name.
const SymbolicName = "kimios-kernel"

// Version is the kernel module version.
const Version = "1.0.0"

// Activator builds a fresh SecurityController on every activation.
type Activator struct {
	deps   app.SecurityDeps
	config func() app.SecurityConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewActivator creates the kernel activator. config is read on every
// activation, so a restarted kernel picks up reloaded settings.
func NewActivator(deps app.SecurityDeps, config func() app.SecurityConfig) *Activator {
	return &Activator{deps: deps, config: config}
}

// Descriptor returns the installable kernel module with a fixed configuration.
func Descriptor(deps app.SecurityDeps, cfg app.SecurityConfig) module.Descriptor {
	return DescriptorFunc(deps, func() app.SecurityConfig { return cfg })
}

// DescriptorFunc returns the installable kernel module.
func DescriptorFunc(deps app.SecurityDeps, config func() app.SecurityConfig) module.Descriptor {
	return module.Descriptor{
		SymbolicName: SymbolicName,
		Version:      Version,
		Exports:      []string{string(capability.SecurityController)},
		Activator:    NewActivator(deps, config),
	}
}

// OnActivate publishes the controller and starts the sweeper.
func (a *Activator) OnActivate(ctx context.Context, mc module.Context) error {
	ctrl := app.NewSecurityController(a.deps, a.config())

	if _, err := mc.Publish(string(capability.SecurityController), ctrl, map[string]string{
		"security.default_source": ctrl.DefaultSource(),
	}); err != nil {
		return err
	}

	// The sweeper outlives the hook's context.
	sweepCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(sweepCtx)
	}()

	a.mu.Lock()
	a.cancel, a.done = cancel, done
	a.mu.Unlock()
	return nil
}

// OnDeactivate stops the sweeper. The registry retracts the controller.
func (a *Activator) OnDeactivate(ctx context.Context, mc module.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ module.Activator = (*Activator)(nil)

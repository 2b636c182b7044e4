// Package runtime is the entry point for hosting modules.
// It composes the lifecycle manager, the service registry and the event bus,
// and exposes a query view alongside the administrative operations.
package runtime

import (
	"context"
	"fmt"

	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/core/events"
	"github.com/artpar/bundlehost/core/lifecycle"
	"github.com/artpar/bundlehost/domain/module"
	"github.com/artpar/bundlehost/ports"
	"github.com/rs/zerolog"
)

// Config configures the runtime.
type Config struct {
	// Policy selects among several providers of one capability.
	Policy capability.LookupPolicy

	// Catalog holds installable modules by name (optional).
	Catalog *Catalog

	// Events is the bus lifecycle and registry events go to.
	// A new bus is created when nil.
	Events *events.Bus

	Clock  ports.Clock
	Logger zerolog.Logger
}

// Runtime hosts modules.
type Runtime struct {
	manager *lifecycle.Manager
	catalog *Catalog
	events  *events.Bus
	logger  zerolog.Logger
}

// New creates a runtime holding only the system module.
func New(cfg Config) *Runtime {
	bus := cfg.Events
	if bus == nil {
		bus = events.NewBus(cfg.Logger)
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = NewCatalog()
	}

	return &Runtime{
		manager: lifecycle.NewManager(lifecycle.Config{
			Policy: cfg.Policy,
			Clock:  cfg.Clock,
			Events: bus,
			Logger: cfg.Logger,
		}),
		catalog: catalog,
		events:  bus,
		logger:  cfg.Logger.With().Str("component", "runtime").Logger(),
	}
}

// Events returns the runtime's event bus.
func (r *Runtime) Events() *events.Bus { return r.events }

// Catalog returns the module catalog.
func (r *Runtime) Catalog() *Catalog { return r.catalog }

// Registry returns the service registry.
func (r *Runtime) Registry() *capability.Registry { return r.manager.Registry() }

// SystemContext returns the context of the always-active system module.
func (r *Runtime) SystemContext() module.Context { return r.manager.SystemContext() }

// -----------------------------------------------------------------------------
// Query view
// -----------------------------------------------------------------------------

// Modules returns every installed module ordered by id.
func (r *Runtime) Modules() []module.Module { return r.manager.List() }

// Module returns one module by id.
func (r *Runtime) Module(id module.ID) (module.Module, error) { return r.manager.Get(id) }

// ModuleByName returns the installed module with symbolicName.
func (r *Runtime) ModuleByName(symbolicName string) (module.Module, error) {
	return r.manager.GetByName(symbolicName)
}

// Find returns the modules whose symbolic name matches pattern.
func (r *Runtime) Find(pattern string) ([]module.Module, error) { return r.manager.Find(pattern) }

// Lookup returns the preferred provider of capabilityType.
func (r *Runtime) Lookup(capabilityType capability.Type) (any, bool) {
	return r.manager.Registry().Lookup(capabilityType)
}

// LookupAll returns every provider of capabilityType in registration order.
func (r *Runtime) LookupAll(capabilityType capability.Type) []any {
	return r.manager.Registry().LookupAll(capabilityType)
}

// Services returns every live registration, for diagnostics.
func (r *Runtime) Services() []capability.Registration {
	var result []capability.Registration
	for _, c := range r.manager.Registry().Capabilities() {
		result = append(result, r.manager.Registry().Registrations(c)...)
	}
	return result
}

// -----------------------------------------------------------------------------
// Administrative operations
// -----------------------------------------------------------------------------

// Install installs a module from a descriptor.
func (r *Runtime) Install(desc module.Descriptor) (module.ID, error) {
	return r.manager.Install(desc)
}

// InstallNamed installs the catalog module registered under name.
func (r *Runtime) InstallNamed(name string) (module.ID, error) {
	desc, err := r.catalog.Descriptor(name)
	if err != nil {
		return 0, err
	}
	return r.manager.Install(desc)
}

// Resolve moves an INSTALLED module to RESOLVED.
func (r *Runtime) Resolve(id module.ID) error { return r.manager.Resolve(id) }

// CheckImports reports the imports a module has no provider for.
func (r *Runtime) CheckImports(id module.ID) error { return r.manager.CheckImports(id) }

// Start activates a module.
func (r *Runtime) Start(ctx context.Context, id module.ID) error { return r.manager.Start(ctx, id) }

// Stop deactivates a module.
func (r *Runtime) Stop(ctx context.Context, id module.ID) error { return r.manager.Stop(ctx, id) }

// Uninstall removes a module.
func (r *Runtime) Uninstall(id module.ID) error { return r.manager.Uninstall(id) }

// Deploy installs each named catalog module, resolves them all, then starts
// them in order. Names already installed are reused. A start failure stops
// the deployment and is returned; modules started before it stay ACTIVE.
func (r *Runtime) Deploy(ctx context.Context, names []string) error {
	ids := make([]module.ID, 0, len(names))
	for _, name := range names {
		desc, err := r.catalog.Descriptor(name)
		if err != nil {
			return err
		}
		if existing, err := r.manager.GetByName(desc.SymbolicName); err == nil {
			ids = append(ids, existing.ID)
			continue
		}
		id, err := r.manager.Install(desc)
		if err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
		ids = append(ids, id)
	}

	if err := r.resolveAll(ids); err != nil {
		return err
	}

	for _, id := range ids {
		if err := r.manager.Start(ctx, id); err != nil {
			return fmt.Errorf("start module %d: %w", id, err)
		}
	}

	r.logger.Info().Strs("modules", names).Msg("modules deployed")
	return nil
}

// resolveAll resolves the INSTALLED modules among ids, providers before their
// consumers where the batch allows it. Modules whose imports stay unmet are
// resolved last and carry the gap in Module.Missing.
func (r *Runtime) resolveAll(ids []module.ID) error {
	var pending []module.ID
	for _, id := range ids {
		mod, err := r.manager.Get(id)
		if err != nil {
			return err
		}
		if mod.State == module.StateInstalled {
			pending = append(pending, id)
		}
	}

	for len(pending) > 0 {
		var next []module.ID
		for _, id := range pending {
			if r.manager.CheckImports(id) != nil {
				next = append(next, id)
				continue
			}
			if err := r.manager.Resolve(id); err != nil {
				return err
			}
		}
		if len(next) == len(pending) {
			for _, id := range next {
				if err := r.manager.Resolve(id); err != nil {
					return err
				}
			}
			return nil
		}
		pending = next
	}
	return nil
}

// Shutdown stops every active module in reverse install order.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.manager.Shutdown(ctx)
}

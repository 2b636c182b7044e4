package lifecycle

import (
	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/domain/module"
)

// moduleContext is the module.Context handed to a module's hooks.
// Publications made through it are owned by that module.
type moduleContext struct {
	m *Manager
	e *entry
}

func (c *moduleContext) Module() module.Module {
	return c.e.snapshot()
}

func (c *moduleContext) Publish(capabilityType string, provider any, props map[string]string) (uint64, error) {
	return c.m.registry.Publish(c.e.id, capability.Type(capabilityType), provider, props)
}

// Unpublish only retracts registrations owned by this context's module.
func (c *moduleContext) Unpublish(registrationID uint64) {
	for _, reg := range c.m.registry.ByModule(c.e.id) {
		if reg.ID == registrationID {
			c.m.registry.Unpublish(registrationID)
			return
		}
	}
}

func (c *moduleContext) Lookup(capabilityType string) (any, bool) {
	return c.m.registry.Lookup(capability.Type(capabilityType))
}

func (c *moduleContext) LookupAll(capabilityType string) []any {
	return c.m.registry.LookupAll(capability.Type(capabilityType))
}

func (c *moduleContext) Modules() []module.Module {
	return c.m.List()
}

var _ module.Context = (*moduleContext)(nil)

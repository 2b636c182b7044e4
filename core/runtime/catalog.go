package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/bundlehost/domain/module"
)

// Factory builds a fresh descriptor for a catalog entry. Each install gets its
// own activator so a reinstalled module starts from clean state.
type Factory func() module.Descriptor

// Catalog maps module names to factories. Modules listed in configuration
// are installed from here by name.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// Descriptor builds the descriptor registered under name.
func (c *Catalog) Descriptor(name string) (module.Descriptor, error) {
	c.mu.RLock()
	f, ok := c.factories[name]
	c.mu.RUnlock()

	if !ok {
		return module.Descriptor{}, fmt.Errorf("module %q not in catalog", name)
	}
	return f(), nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[name]
	return ok
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package bootstrap

import (
	"github.com/artpar/bundlehost/app"
	"github.com/artpar/bundlehost/core/modules/greeter"
	"github.com/artpar/bundlehost/core/modules/kernel"
	"github.com/artpar/bundlehost/core/runtime"
	"github.com/artpar/bundlehost/domain/module"
)

// Built-in module names accepted in the modules config list.
const (
	ModuleKernel  = "kernel"
	ModuleGreeter = "greeter"
)

// ModuleConfig configures the built-in modules.
type ModuleConfig struct {
	Security app.SecurityDeps

	// SecurityConfig is read each time the kernel activates.
	SecurityConfig func() app.SecurityConfig

	// GreetingFormat overrides the greeter's "Hello, %s!".
	GreetingFormat string
}

// BuiltinCatalog returns a catalog holding every built-in module.
func BuiltinCatalog(cfg ModuleConfig) *runtime.Catalog {
	catalog := runtime.NewCatalog()
	catalog.Register(ModuleKernel, func() module.Descriptor {
		return kernel.DescriptorFunc(cfg.Security, cfg.SecurityConfig)
	})
	catalog.Register(ModuleGreeter, func() module.Descriptor {
		return greeter.Descriptor(cfg.GreetingFormat)
	})
	return catalog
}

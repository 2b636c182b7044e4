// Package lifecycle owns installed modules and drives them through the
// INSTALLED -> RESOLVED -> STARTING -> ACTIVE -> STOPPING -> RESOLVED ->
// UNINSTALLED state machine.
//
// Transitions of one module are serialized by a per-module mutex; distinct
// modules move independently. The manager-wide lock only guards the module
// maps and is never held while a hook runs or while the registry is called.
package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/core/events"
	"github.com/artpar/bundlehost/domain/module"
	"github.com/artpar/bundlehost/ports"
	"github.com/rs/zerolog"
)

// Config configures a Manager.
type Config struct {
	// Policy selects among several providers of one capability.
	Policy capability.LookupPolicy

	// Clock stamps install and registration times. Defaults to time.Now.
	Clock ports.Clock

	// Events receives lifecycle and registry events (optional).
	Events *events.Bus

	Logger zerolog.Logger
}

// entry is the manager's record of one installed module.
type entry struct {
	// mu serializes lifecycle transitions of this module.
	mu sync.Mutex

	id          module.ID
	desc        module.Descriptor
	installedAt time.Time

	// state is read without mu so queries never wait on a running hook.
	state atomic.Int32

	// missing holds the imports unmet at resolve time.
	missing atomic.Pointer[[]string]
}

func (e *entry) load() module.State {
	return module.State(e.state.Load())
}

func (e *entry) store(s module.State) {
	e.state.Store(int32(s))
}

func (e *entry) snapshot() module.Module {
	m := module.Module{
		ID:           e.id,
		SymbolicName: e.desc.SymbolicName,
		Version:      e.desc.Version,
		Imports:      slices.Clone(e.desc.Imports),
		Exports:      slices.Clone(e.desc.Exports),
		State:        e.load(),
		InstalledAt:  e.installedAt,
	}
	if missing := e.missing.Load(); missing != nil {
		m.Missing = slices.Clone(*missing)
	}
	return m
}

// Manager owns the set of installed modules and the service registry they
// publish into.
type Manager struct {
	mu      sync.RWMutex
	modules map[module.ID]*entry
	byName  map[string]module.ID
	nextID  module.ID

	registry *capability.Registry
	clock    ports.Clock
	events   *events.Bus
	logger   zerolog.Logger
}

// NewManager creates a manager holding only the system module, which is
// ACTIVE from the start and can be neither stopped nor uninstalled.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		modules: make(map[module.ID]*entry),
		byName:  make(map[string]module.ID),
		nextID:  module.SystemID + 1,
		clock:   cfg.Clock,
		events:  cfg.Events,
		logger:  cfg.Logger.With().Str("component", "lifecycle").Logger(),
	}
	m.registry = capability.NewRegistry(m, capability.Config{
		Policy: cfg.Policy,
		Clock:  cfg.Clock,
		Events: cfg.Events,
		Logger: cfg.Logger.With().Str("component", "registry").Logger(),
	})

	system := &entry{
		id:          module.SystemID,
		desc:        module.Descriptor{SymbolicName: module.SystemName},
		installedAt: m.now(),
	}
	system.store(module.StateActive)
	m.modules[system.id] = system
	m.byName[module.SystemName] = system.id

	return m
}

// Registry returns the service registry owned by this manager.
func (m *Manager) Registry() *capability.Registry {
	return m.registry
}

// ModuleState implements capability.StateSource.
func (m *Manager) ModuleState(id module.ID) (module.State, bool) {
	m.mu.RLock()
	e, ok := m.modules[id]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return e.load(), true
}

// Install registers a new module in INSTALLED state.
func (m *Manager) Install(desc module.Descriptor) (module.ID, error) {
	if err := desc.Validate(); err != nil {
		return 0, fmt.Errorf("install: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.byName[desc.SymbolicName]; ok {
		m.mu.Unlock()
		return 0, &module.DuplicateModuleError{SymbolicName: desc.SymbolicName, ExistingID: existing}
	}
	e := &entry{
		id:          m.nextID,
		desc:        desc,
		installedAt: m.now(),
	}
	e.store(module.StateInstalled)
	m.nextID++
	m.modules[e.id] = e
	m.byName[desc.SymbolicName] = e.id
	m.mu.Unlock()

	m.logger.Info().
		Uint64("module_id", uint64(e.id)).
		Str("module", desc.SymbolicName).
		Str("version", desc.Version).
		Msg("module installed")
	m.emit(events.ModuleInstalled, e, nil)

	return e.id, nil
}

// Resolve moves an INSTALLED module to RESOLVED. Unmet imports are recorded
// on the module and logged; they do not fail resolution.
// Resolving a RESOLVED module is a no-op.
func (m *Manager) Resolve(id module.ID) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.load() == module.StateResolved {
		return nil
	}
	return m.resolveLocked(e, "resolve")
}

func (m *Manager) resolveLocked(e *entry, op string) error {
	missing := m.unmetImports(e)
	if err := m.advance(e, op, module.StateResolved); err != nil {
		return err
	}
	e.missing.Store(&missing)

	if len(missing) > 0 {
		warn := &module.UnresolvedDependencyError{ModuleID: e.id, Missing: missing}
		m.logger.Warn().
			Err(warn).
			Uint64("module_id", uint64(e.id)).
			Str("module", e.desc.SymbolicName).
			Strs("missing", missing).
			Msg("module resolved with unmet imports")
		m.emit(events.ModuleUnresolved, e, warn)
	}

	m.logger.Info().
		Uint64("module_id", uint64(e.id)).
		Str("module", e.desc.SymbolicName).
		Msg("module resolved")
	m.emit(events.ModuleResolved, e, nil)
	return nil
}

// advance moves e to the next state if the state machine allows it.
// Callers hold e.mu.
func (m *Manager) advance(e *entry, op string, to module.State) error {
	from := e.load()
	if !module.CanTransition(from, to) {
		return &module.IllegalStateTransitionError{ModuleID: e.id, Op: op, From: from}
	}
	e.store(to)
	return nil
}

// unmetImports lists imports with neither a published provider nor a
// resolved module declaring the export.
func (m *Manager) unmetImports(e *entry) []string {
	missing := []string{}
	if len(e.desc.Imports) == 0 {
		return missing
	}

	others := m.List()
	for _, imp := range e.desc.Imports {
		if len(m.registry.Registrations(capability.Type(imp))) > 0 {
			continue
		}
		satisfied := false
		for _, other := range others {
			if other.ID == e.id || other.State == module.StateInstalled {
				continue
			}
			if other.ExportsCapability(imp) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			missing = append(missing, imp)
		}
	}
	return missing
}

// CheckImports returns an UnresolvedDependencyError if any import of the
// module currently has no provider, nil otherwise.
func (m *Manager) CheckImports(id module.ID) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	if missing := m.unmetImports(e); len(missing) > 0 {
		return &module.UnresolvedDependencyError{ModuleID: id, Missing: missing}
	}
	return nil
}

// Start activates a module. An INSTALLED module is resolved first; an ACTIVE
// module is left alone. If the activation hook fails, everything the module
// published is retracted, the module returns to RESOLVED and an
// ActivationError is returned.
func (m *Manager) Start(ctx context.Context, id module.ID) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.load() {
	case module.StateActive:
		return nil
	case module.StateInstalled:
		if err := m.resolveLocked(e, "start"); err != nil {
			return err
		}
	}

	if err := m.advance(e, "start", module.StateStarting); err != nil {
		return err
	}
	m.emit(events.ModuleStarting, e, nil)

	if hookErr := m.runHook(ctx, e, "activate"); hookErr != nil {
		// Leave STARTING before retracting so the registry refuses late publishes.
		m.advance(e, "start", module.StateResolved)
		retracted := m.registry.RetractAllFor(id)

		actErr := &module.ActivationError{ModuleID: id, SymbolicName: e.desc.SymbolicName, Phase: "activate", Err: hookErr}
		m.logger.Error().
			Err(hookErr).
			Uint64("module_id", uint64(id)).
			Str("module", e.desc.SymbolicName).
			Int("retracted", retracted).
			Msg("module activation failed, rolled back to RESOLVED")
		m.emit(events.ModuleFailed, e, actErr)
		return actErr
	}

	m.advance(e, "start", module.StateActive)
	m.logger.Info().
		Uint64("module_id", uint64(id)).
		Str("module", e.desc.SymbolicName).
		Msg("module started")
	m.emit(events.ModuleStarted, e, nil)
	return nil
}

// Stop deactivates an ACTIVE module. Registrations owned by the module are
// retracted whether or not the deactivation hook succeeds; a hook failure is
// reported as an ActivationError after the module has reached RESOLVED.
// Stopping a RESOLVED module is a no-op.
func (m *Manager) Stop(ctx context.Context, id module.ID) error {
	if id == module.SystemID {
		return &module.IllegalStateTransitionError{ModuleID: id, Op: "stop", From: module.StateActive}
	}

	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.load() == module.StateResolved {
		return nil
	}
	if err := m.advance(e, "stop", module.StateStopping); err != nil {
		return err
	}
	m.emit(events.ModuleStopping, e, nil)

	hookErr := m.runHook(ctx, e, "deactivate")
	retracted := m.registry.RetractAllFor(id)
	m.advance(e, "stop", module.StateResolved)

	m.logger.Info().
		Uint64("module_id", uint64(id)).
		Str("module", e.desc.SymbolicName).
		Int("retracted", retracted).
		Msg("module stopped")
	m.emit(events.ModuleStopped, e, nil)

	if hookErr != nil {
		actErr := &module.ActivationError{ModuleID: id, SymbolicName: e.desc.SymbolicName, Phase: "deactivate", Err: hookErr}
		m.logger.Warn().
			Err(hookErr).
			Uint64("module_id", uint64(id)).
			Str("module", e.desc.SymbolicName).
			Msg("module deactivation hook failed")
		m.emit(events.ModuleFailed, e, actErr)
		return actErr
	}
	return nil
}

// Uninstall removes an INSTALLED or RESOLVED module permanently. Its symbolic
// name becomes available for a new install with a new id.
func (m *Manager) Uninstall(id module.ID) error {
	if id == module.SystemID {
		return &module.IllegalStateTransitionError{ModuleID: id, Op: "uninstall", From: module.StateActive}
	}

	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.advance(e, "uninstall", module.StateUninstalled); err != nil {
		return err
	}
	m.registry.RetractAllFor(id)

	m.mu.Lock()
	delete(m.modules, id)
	if m.byName[e.desc.SymbolicName] == id {
		delete(m.byName, e.desc.SymbolicName)
	}
	m.mu.Unlock()

	m.logger.Info().
		Uint64("module_id", uint64(id)).
		Str("module", e.desc.SymbolicName).
		Msg("module uninstalled")
	m.emit(events.ModuleUninstalled, e, nil)
	return nil
}

// Get returns a snapshot of an installed module.
func (m *Manager) Get(id module.ID) (module.Module, error) {
	e, err := m.entry(id)
	if err != nil {
		return module.Module{}, err
	}
	return e.snapshot(), nil
}

// GetByName returns a snapshot of the installed module with symbolicName.
func (m *Manager) GetByName(symbolicName string) (module.Module, error) {
	m.mu.RLock()
	id, ok := m.byName[symbolicName]
	m.mu.RUnlock()
	if !ok {
		return module.Module{}, module.ErrModuleNotFound
	}
	return m.Get(id)
}

// List returns snapshots of every installed module ordered by id.
func (m *Manager) List() []module.Module {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.modules))
	for _, e := range m.modules {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	result := make([]module.Module, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.snapshot())
	}
	return result
}

// Find returns the modules whose symbolic name matches pattern, a regular
// expression (a plain substring is a valid one). No match is an empty slice.
func (m *Manager) Find(pattern string) ([]module.Module, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid module pattern %q: %w", pattern, err)
	}

	result := []module.Module{}
	for _, mod := range m.List() {
		if re.MatchString(mod.SymbolicName) {
			result = append(result, mod)
		}
	}
	return result, nil
}

// Shutdown stops every ACTIVE module in reverse install order and returns the
// first error encountered. All modules are attempted.
func (m *Manager) Shutdown(ctx context.Context) error {
	mods := m.List()
	var first error
	for i := len(mods) - 1; i >= 0; i-- {
		mod := mods[i]
		if mod.ID == module.SystemID || mod.State != module.StateActive {
			continue
		}
		if err := m.Stop(ctx, mod.ID); err != nil {
			m.logger.Warn().Err(err).Str("module", mod.SymbolicName).Msg("stop during shutdown failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// SystemContext returns the module context of the system module.
func (m *Manager) SystemContext() module.Context {
	e, _ := m.entry(module.SystemID)
	return &moduleContext{m: m, e: e}
}

func (m *Manager) entry(id module.ID) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %d: %w", id, module.ErrModuleNotFound)
	}
	return e, nil
}

// runHook calls the module's activator for phase, turning a panic into an error.
func (m *Manager) runHook(ctx context.Context, e *entry, phase string) (err error) {
	if e.desc.Activator == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s hook: %v", phase, r)
		}
	}()

	mc := &moduleContext{m: m, e: e}
	if phase == "activate" {
		return e.desc.Activator.OnActivate(ctx, mc)
	}
	return e.desc.Activator.OnDeactivate(ctx, mc)
}

func (m *Manager) emit(name string, e *entry, err error) {
	m.events.Publish(context.Background(), events.Event{
		Name:     name,
		ModuleID: uint64(e.id),
		Module:   e.desc.SymbolicName,
		State:    e.load().String(),
		Err:      err,
	})
}

func (m *Manager) now() time.Time {
	if m.clock == nil {
		return time.Now()
	}
	return m.clock.Now()
}

package capability

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/artpar/bundlehost/core/events"
	"github.com/artpar/bundlehost/domain/module"
	"github.com/artpar/bundlehost/ports"
	"github.com/rs/zerolog"
)

// StateSource reports the current lifecycle state of a module.
// The lifecycle manager implements it.
type StateSource interface {
	ModuleState(id module.ID) (module.State, bool)
}

// Config configures a Registry.
type Config struct {
	Policy LookupPolicy
	Clock  ports.Clock
	Events *events.Bus
	Logger zerolog.Logger
}

// Registry tracks which modules provide which capabilities.
// Thread-safe for concurrent access. Readers hold the read lock only while
// copying slices, so lookups never wait on a module's lifecycle hooks.
type Registry struct {
	mu sync.RWMutex

	states StateSource
	policy LookupPolicy
	clock  ports.Clock
	events *events.Bus
	logger zerolog.Logger

	nextID uint64

	// registrations maps registration id -> registration
	registrations map[uint64]*Registration

	// byCapability maps capability type -> registration ids in publish order
	byCapability map[Type][]uint64

	// byModule maps module id -> registration ids in publish order
	byModule map[module.ID][]uint64
}

// NewRegistry creates a new service registry.
func NewRegistry(states StateSource, cfg Config) *Registry {
	return &Registry{
		states:        states,
		policy:        cfg.Policy,
		clock:         cfg.Clock,
		events:        cfg.Events,
		logger:        cfg.Logger,
		registrations: make(map[uint64]*Registration),
		byCapability:  make(map[Type][]uint64),
		byModule:      make(map[module.ID][]uint64),
	}
}

// Policy returns the lookup policy in effect.
func (r *Registry) Policy() LookupPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy changes the lookup policy.
func (r *Registry) SetPolicy(p LookupPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Publish registers provider under capability on behalf of moduleID.
// The owner must be ACTIVE, or STARTING while its activation hook runs.
// The state check and the insert happen under the write lock, so a publish
// racing with RetractAllFor either lands before the retraction or is refused.
func (r *Registry) Publish(moduleID module.ID, capability Type, provider any, props map[string]string) (uint64, error) {
	if !capability.IsValid() {
		return 0, errors.New("capability type cannot be empty")
	}
	if provider == nil {
		return 0, errors.New("provider cannot be nil")
	}

	r.mu.Lock()

	state, ok := r.states.ModuleState(moduleID)
	if !ok {
		r.mu.Unlock()
		return 0, module.ErrModuleNotFound
	}
	if state != module.StateActive && state != module.StateStarting {
		r.mu.Unlock()
		return 0, &module.InvalidStateError{ModuleID: moduleID, State: state}
	}

	r.nextID++
	reg := &Registration{
		ID:           r.nextID,
		Capability:   capability,
		ModuleID:     moduleID,
		Provider:     provider,
		Properties:   maps.Clone(props),
		RegisteredAt: r.now(),
	}
	r.registrations[reg.ID] = reg
	r.byCapability[capability] = append(r.byCapability[capability], reg.ID)
	r.byModule[moduleID] = append(r.byModule[moduleID], reg.ID)

	r.mu.Unlock()

	r.logger.Info().
		Uint64("registration_id", reg.ID).
		Str("capability", capability.String()).
		Uint64("module_id", uint64(moduleID)).
		Msg("service registered")

	r.events.Publish(context.Background(), events.Event{
		Name:           events.ServiceRegistered,
		ModuleID:       uint64(moduleID),
		Capability:     capability.String(),
		RegistrationID: reg.ID,
	})

	return reg.ID, nil
}

// Unpublish removes a registration. Unknown or already retracted ids are a no-op.
func (r *Registry) Unpublish(id uint64) {
	r.mu.Lock()
	reg, ok := r.registrations[id]
	if ok {
		r.removeLocked(reg)
	}
	r.mu.Unlock()

	if ok {
		r.announceRemoval(reg)
	}
}

// RetractAllFor removes every registration owned by moduleID in one step and
// returns how many were removed. Readers observe either all or none of them.
func (r *Registry) RetractAllFor(moduleID module.ID) int {
	r.mu.Lock()
	ids := r.byModule[moduleID]
	removed := make([]*Registration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.registrations[id]; ok {
			removed = append(removed, reg)
		}
	}
	for _, reg := range removed {
		r.removeLocked(reg)
	}
	delete(r.byModule, moduleID)
	r.mu.Unlock()

	for _, reg := range removed {
		r.announceRemoval(reg)
	}
	if len(removed) > 0 {
		r.logger.Info().
			Uint64("module_id", uint64(moduleID)).
			Int("count", len(removed)).
			Msg("services retracted")
	}
	return len(removed)
}

// Lookup returns the preferred provider of capability under the policy.
// Absence is reported through ok, never as an error.
func (r *Registry) Lookup(capability Type) (any, bool) {
	reg, ok := r.Preferred(capability)
	if !ok {
		return nil, false
	}
	return reg.Provider, true
}

// Preferred returns the registration Lookup would choose.
func (r *Registry) Preferred(capability Type) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Registration
	for _, id := range r.byCapability[capability] {
		reg, ok := r.registrations[id]
		if !ok {
			continue
		}
		if best == nil {
			best = reg
			if r.policy == FirstRegistered {
				break
			}
			continue
		}
		if reg.Ranking() > best.Ranking() {
			best = reg
		}
	}
	if best == nil {
		return Registration{}, false
	}
	return *best, true
}

// LookupAll returns every provider of capability in publish order.
// The result is empty, never nil, when there are none.
func (r *Registry) LookupAll(capability Type) []any {
	regs := r.Registrations(capability)
	result := make([]any, 0, len(regs))
	for _, reg := range regs {
		result = append(result, reg.Provider)
	}
	return result
}

// Registrations returns a snapshot of the registrations of capability.
func (r *Registry) Registrations(capability Type) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCapability[capability]
	result := make([]Registration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.registrations[id]; ok {
			result = append(result, *reg)
		}
	}
	return result
}

// ByModule returns a snapshot of the registrations owned by moduleID.
func (r *Registry) ByModule(moduleID module.ID) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byModule[moduleID]
	result := make([]Registration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.registrations[id]; ok {
			result = append(result, *reg)
		}
	}
	return result
}

// Capabilities returns every capability with at least one provider.
func (r *Registry) Capabilities() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Type, 0, len(r.byCapability))
	for capability, ids := range r.byCapability {
		if len(ids) > 0 {
			result = append(result, capability)
		}
	}
	return result
}

// Count returns the number of live registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registrations)
}

// removeLocked drops reg from every index. Caller holds the write lock.
func (r *Registry) removeLocked(reg *Registration) {
	delete(r.registrations, reg.ID)
	r.byCapability[reg.Capability] = removeFromSlice(r.byCapability[reg.Capability], reg.ID)
	if len(r.byCapability[reg.Capability]) == 0 {
		delete(r.byCapability, reg.Capability)
	}
	r.byModule[reg.ModuleID] = removeFromSlice(r.byModule[reg.ModuleID], reg.ID)
	if len(r.byModule[reg.ModuleID]) == 0 {
		delete(r.byModule, reg.ModuleID)
	}
}

func (r *Registry) announceRemoval(reg *Registration) {
	r.logger.Debug().
		Uint64("registration_id", reg.ID).
		Str("capability", reg.Capability.String()).
		Uint64("module_id", uint64(reg.ModuleID)).
		Msg("service unregistered")

	r.events.Publish(context.Background(), events.Event{
		Name:           events.ServiceUnregistered,
		ModuleID:       uint64(reg.ModuleID),
		Capability:     reg.Capability.String(),
		RegistrationID: reg.ID,
	})
}

func (r *Registry) now() time.Time {
	if r.clock == nil {
		return time.Now()
	}
	return r.clock.Now()
}

// LookupAs returns the preferred provider of capability as a T.
// ok is false when there is no provider or it does not implement T.
func LookupAs[T any](r *Registry, capability Type) (T, bool) {
	var zero T
	p, ok := r.Lookup(capability)
	if !ok {
		return zero, false
	}
	v, ok := p.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// LookupAllAs returns every provider of capability that implements T.
func LookupAllAs[T any](r *Registry, capability Type) []T {
	all := r.LookupAll(capability)
	result := make([]T, 0, len(all))
	for _, p := range all {
		if v, ok := p.(T); ok {
			result = append(result, v)
		}
	}
	return result
}

// Helper to remove an element from a slice
func removeFromSlice(slice []uint64, item uint64) []uint64 {
	result := make([]uint64, 0, len(slice))
	for _, s := range slice {
		if s != item {
			result = append(result, s)
		}
	}
	return result
}

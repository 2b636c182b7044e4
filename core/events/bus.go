// Package events provides a simple event bus for lifecycle and registry
// notifications. Listeners subscribe by event name with wildcard support.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event names emitted by the runtime.
const (
	ModuleInstalled   = "module.installed"
	ModuleResolved    = "module.resolved"
	ModuleStarting    = "module.starting"
	ModuleStarted     = "module.started"
	ModuleStopping    = "module.stopping"
	ModuleStopped     = "module.stopped"
	ModuleUninstalled = "module.uninstalled"
	ModuleFailed      = "module.failed"
	ModuleUnresolved  = "module.unresolved"

	ServiceRegistered   = "service.registered"
	ServiceUnregistered = "service.unregistered"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "module.started", "service.registered").
	Name string

	// ModuleID and Module identify the module the event is about.
	ModuleID uint64
	Module   string

	// State is the module state after the event, if applicable.
	State string

	// Capability and RegistrationID are set for service events.
	Capability     string
	RegistrationID uint64

	// Err is set for failure events.
	Err error
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event)

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
// Supports wildcard subscriptions:
//   - "module.started" - exact match
//   - "module.*" - all module events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish delivers an event to all matching handlers, synchronously and in
// subscription order. Handlers run without the bus lock held, so they may
// subscribe or publish themselves. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	var matched []Handler
	matched = append(matched, b.handlers[event.Name]...)
	if prefix, _, ok := strings.Cut(event.Name, "."); ok {
		matched = append(matched, b.handlers[prefix+".*"]...)
	}
	matched = append(matched, b.handlers["*"]...)
	b.mu.RUnlock()

	b.logger.Debug().
		Str("event", event.Name).
		Str("module", event.Module).
		Uint64("module_id", event.ModuleID).
		Msg("event emitted")

	for _, handler := range matched {
		b.call(ctx, handler, event)
	}
}

func (b *Bus) call(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("event", event.Name).
				Msg("event handler panicked")
		}
	}()
	handler(ctx, event)
}

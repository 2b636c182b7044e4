package capability_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/core/events"
	"github.com/artpar/bundlehost/domain/module"
	"github.com/rs/zerolog"
)

// fakeStates is a settable StateSource.
type fakeStates struct {
	mu     sync.Mutex
	states map[module.ID]module.State
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[module.ID]module.State)}
}

func (f *fakeStates) set(id module.ID, s module.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = s
}

func (f *fakeStates) ModuleState(id module.ID) (module.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[id]
	return s, ok
}

type greeter struct{ name string }

func newTestRegistry(t *testing.T) (*capability.Registry, *fakeStates) {
	t.Helper()
	states := newFakeStates()
	reg := capability.NewRegistry(states, capability.Config{Logger: zerolog.Nop()})
	return reg, states
}

// =============================================================================
// Publish
// =============================================================================

func TestRegistry_PublishRequiresActiveOwner(t *testing.T) {
	reg, states := newTestRegistry(t)

	tests := []struct {
		state   module.State
		wantErr bool
	}{
		{module.StateInstalled, true},
		{module.StateResolved, true},
		{module.StateStarting, false},
		{module.StateActive, false},
		{module.StateStopping, true},
		{module.StateUninstalled, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			states.set(7, tt.state)
			_, err := reg.Publish(7, capability.Greeter, &greeter{}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Publish() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ise *module.InvalidStateError
				if !errors.As(err, &ise) {
					t.Errorf("error = %T, want *module.InvalidStateError", err)
				}
			}
		})
	}
}

func TestRegistry_PublishUnknownModule(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Publish(99, capability.Greeter, &greeter{}, nil)
	if !errors.Is(err, module.ErrModuleNotFound) {
		t.Errorf("error = %v, want ErrModuleNotFound", err)
	}
}

func TestRegistry_PublishRejectsInvalidInput(t *testing.T) {
	reg, states := newTestRegistry(t)
	states.set(1, module.StateActive)

	if _, err := reg.Publish(1, "", &greeter{}, nil); err == nil {
		t.Error("empty capability should be rejected")
	}
	if _, err := reg.Publish(1, capability.Greeter, nil, nil); err == nil {
		t.Error("nil provider should be rejected")
	}
}

// =============================================================================
// Lookup
// =============================================================================

func TestRegistry_LookupNone(t *testing.T) {
	reg, _ := newTestRegistry(t)

	p, ok := reg.Lookup(capability.Greeter)
	if ok || p != nil {
		t.Errorf("Lookup() = %v, %v; want nil, false", p, ok)
	}
	all := reg.LookupAll(capability.Greeter)
	if all == nil || len(all) != 0 {
		t.Errorf("LookupAll() = %v, want empty non-nil slice", all)
	}
}

func TestRegistry_LookupFirstRegisteredIsStable(t *testing.T) {
	reg, states := newTestRegistry(t)
	states.set(1, module.StateActive)
	states.set(2, module.StateActive)

	first := &greeter{name: "first"}
	second := &greeter{name: "second"}
	if _, err := reg.Publish(1, capability.Greeter, first, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Publish(2, capability.Greeter, second, map[string]string{capability.RankingProperty: "10"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		p, ok := reg.Lookup(capability.Greeter)
		if !ok || p != first {
			t.Fatalf("Lookup() #%d = %v, want first", i, p)
		}
	}

	all := reg.LookupAll(capability.Greeter)
	if len(all) != 2 || all[0] != first || all[1] != second {
		t.Errorf("LookupAll() = %v, want [first second]", all)
	}
}

func TestRegistry_LookupHighestRanking(t *testing.T) {
	reg, states := newTestRegistry(t)
	reg.SetPolicy(capability.HighestRanking)
	states.set(1, module.StateActive)

	low := &greeter{name: "low"}
	high := &greeter{name: "high"}
	tie := &greeter{name: "tie"}
	reg.Publish(1, capability.Greeter, low, nil)
	reg.Publish(1, capability.Greeter, high, map[string]string{capability.RankingProperty: "5"})
	reg.Publish(1, capability.Greeter, tie, map[string]string{capability.RankingProperty: "5"})

	p, ok := reg.Lookup(capability.Greeter)
	if !ok || p != high {
		t.Errorf("Lookup() = %v, want high (earliest of the top ranking)", p)
	}
}

func TestRegistry_LookupAs(t *testing.T) {
	reg, states := newTestRegistry(t)
	states.set(1, module.StateActive)
	g := &greeter{name: "g"}
	reg.Publish(1, capability.Greeter, g, nil)

	got, ok := capability.LookupAs[*greeter](reg, capability.Greeter)
	if !ok || got != g {
		t.Errorf("LookupAs[*greeter] = %v, %v", got, ok)
	}
	if _, ok := capability.LookupAs[string](reg, capability.Greeter); ok {
		t.Error("LookupAs with the wrong type should report false")
	}
	if all := capability.LookupAllAs[*greeter](reg, capability.Greeter); len(all) != 1 {
		t.Errorf("LookupAllAs = %v", all)
	}
}

// =============================================================================
// Unpublish / Retract
// =============================================================================

func TestRegistry_UnpublishIdempotent(t *testing.T) {
	reg, states := newTestRegistry(t)
	states.set(1, module.StateActive)

	id, err := reg.Publish(1, capability.Greeter, &greeter{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	reg.Unpublish(id)
	reg.Unpublish(id)
	reg.Unpublish(12345)

	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
	if len(reg.Capabilities()) != 0 {
		t.Errorf("Capabilities() = %v, want none", reg.Capabilities())
	}
}

func TestRegistry_RetractAllFor(t *testing.T) {
	reg, states := newTestRegistry(t)
	states.set(1, module.StateActive)
	states.set(2, module.StateActive)

	reg.Publish(1, capability.Greeter, &greeter{name: "a"}, nil)
	reg.Publish(1, "custom.thing", &greeter{name: "b"}, nil)
	kept := &greeter{name: "c"}
	reg.Publish(2, capability.Greeter, kept, nil)

	if n := reg.RetractAllFor(1); n != 2 {
		t.Errorf("RetractAllFor() = %d, want 2", n)
	}
	if n := reg.RetractAllFor(1); n != 0 {
		t.Errorf("second RetractAllFor() = %d, want 0", n)
	}

	if got := reg.ByModule(1); len(got) != 0 {
		t.Errorf("ByModule(1) = %v, want none", got)
	}
	if all := reg.LookupAll("custom.thing"); len(all) != 0 {
		t.Errorf("custom.thing providers = %v, want none", all)
	}
	all := reg.LookupAll(capability.Greeter)
	if len(all) != 1 || all[0] != kept {
		t.Errorf("greeter providers = %v, want only module 2's", all)
	}
}

func TestRegistry_EventsEmitted(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	states := newFakeStates()
	states.set(1, module.StateActive)
	reg := capability.NewRegistry(states, capability.Config{Events: bus, Logger: zerolog.Nop()})

	var names []string
	bus.Subscribe("service.*", func(_ context.Context, e events.Event) {
		names = append(names, e.Name)
	})

	id, _ := reg.Publish(1, capability.Greeter, &greeter{}, nil)
	reg.Unpublish(id)

	if len(names) != 2 || names[0] != events.ServiceRegistered || names[1] != events.ServiceUnregistered {
		t.Errorf("events = %v", names)
	}
}

// TestRegistry_RetractAtomicForReaders verifies that readers never observe a
// module's registration set partially retracted.
func TestRegistry_RetractAtomicForReaders(t *testing.T) {
	reg, states := newTestRegistry(t)
	states.set(1, module.StateActive)

	const perModule = 50
	for round := 0; round < 20; round++ {
		for i := 0; i < perModule; i++ {
			if _, err := reg.Publish(1, capability.Greeter, &greeter{}, nil); err != nil {
				t.Fatal(err)
			}
		}

		var wg sync.WaitGroup
		stop := make(chan struct{})
		bad := make(chan int, 1)
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if n := len(reg.LookupAll(capability.Greeter)); n != 0 && n != perModule {
						select {
						case bad <- n:
						default:
						}
						return
					}
				}
			}()
		}

		reg.RetractAllFor(1)
		close(stop)
		wg.Wait()

		select {
		case n := <-bad:
			t.Fatalf("reader observed %d registrations mid-retraction", n)
		default:
		}
	}
}

package eventbus

import "sync"

// hooks holds lifecycle callbacks. Hooks run on the publishing or dispatching
// goroutine and must not block.
type hooks struct {
	mu          sync.RWMutex
	onPublish   []func(Event)
	onDrop      []func(Event)
	onSubscribe []func(int)
	onPanic     []func(Event, any)
}

// OnPublish registers a hook that fires after an event is enqueued.
func (bus *EventBus) OnPublish(fn func(Event)) {
	bus.hooks.mu.Lock()
	bus.hooks.onPublish = append(bus.hooks.onPublish, fn)
	bus.hooks.mu.Unlock()
}

// OnDrop registers a hook that fires when an event is dropped due to a full buffer.
func (bus *EventBus) OnDrop(fn func(Event)) {
	bus.hooks.mu.Lock()
	bus.hooks.onDrop = append(bus.hooks.onDrop, fn)
	bus.hooks.mu.Unlock()
}

// OnSubscribe registers a hook that receives the subscriber count after every
// subscribe or unsubscribe.
func (bus *EventBus) OnSubscribe(fn func(count int)) {
	bus.hooks.mu.Lock()
	bus.hooks.onSubscribe = append(bus.hooks.onSubscribe, fn)
	bus.hooks.mu.Unlock()
}

// OnPanic registers a hook that fires when a subscriber panics.
func (bus *EventBus) OnPanic(fn func(Event, any)) {
	bus.hooks.mu.Lock()
	bus.hooks.onPanic = append(bus.hooks.onPanic, fn)
	bus.hooks.mu.Unlock()
}

func (bus *EventBus) send(e Event) {
	select {
	case bus.ch <- envelope{event: e}:
		bus.runEvent(bus.snapshot(func(h *hooks) []func(Event) { return h.onPublish }), e)
	default:
		bus.runEvent(bus.snapshot(func(h *hooks) []func(Event) { return h.onDrop }), e)
	}
}

func (bus *EventBus) snapshot(pick func(*hooks) []func(Event)) []func(Event) {
	bus.hooks.mu.RLock()
	defer bus.hooks.mu.RUnlock()
	src := pick(&bus.hooks)
	out := make([]func(Event), len(src))
	copy(out, src)
	return out
}

func (bus *EventBus) runEvent(fns []func(Event), e Event) {
	for _, fn := range fns {
		fn(e)
	}
}

func (bus *EventBus) runOnSubscribe(count int) {
	bus.hooks.mu.RLock()
	fns := make([]func(int), len(bus.hooks.onSubscribe))
	copy(fns, bus.hooks.onSubscribe)
	bus.hooks.mu.RUnlock()
	for _, fn := range fns {
		fn(count)
	}
}

func (bus *EventBus) runOnPanic(e Event, recovered any) {
	bus.hooks.mu.RLock()
	fns := make([]func(Event, any), len(bus.hooks.onPanic))
	copy(fns, bus.hooks.onPanic)
	bus.hooks.mu.RUnlock()
	for _, fn := range fns {
		func() {
			defer func() { recover() }() //nolint:errcheck
			fn(e, recovered)
		}()
	}
}

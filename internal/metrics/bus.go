package metrics

import "github.com/kartik102005/ecolearn/internal/core/eventbus"

// InstrumentBus registers bus hooks that feed the collector.
func InstrumentBus(bus *eventbus.EventBus, c *Collector) {
	bus.OnPublish(func(e eventbus.Event) { c.ObserveBusEvent("published", e.Type) })
	bus.OnDrop(func(e eventbus.Event) { c.ObserveBusEvent("dropped", e.Type) })
	bus.OnPanic(func(e eventbus.Event, _ any) { c.ObserveBusEvent("panicked", e.Type) })
	bus.OnSubscribe(c.SetBusSubscribers)
}

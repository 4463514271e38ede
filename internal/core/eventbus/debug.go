package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger registers hooks that log bus activity. Publishes are
// logged at debug level, drops at warn and subscriber panics at error.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnPublish(func(e Event) {
		logger.Debug().Str("event", e.Type).Str("user_id", e.UserID()).Msg("event fired")
	})

	bus.OnDrop(func(e Event) {
		logger.Warn().Str("event", e.Type).Msg("event dropped: buffer full")
	})

	bus.OnSubscribe(func(count int) {
		logger.Debug().Int("subscribers", count).Msg("subscribers changed")
	})

	bus.OnPanic(func(e Event, recovered any) {
		logger.Error().
			Str("event", e.Type).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}

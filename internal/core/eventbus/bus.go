package eventbus

import (
	"context"
	"slices"
	"sync"
	"time"
)

type envelope struct {
	event Event
}

// EventBus is an asynchronous bus. Publish never blocks: events are queued on
// a buffered channel and dispatched by the goroutine running Start. When the
// buffer is full the event is dropped and OnDrop hooks fire.
type EventBus struct {
	ch    chan envelope
	done  chan struct{}
	now   func() time.Time
	hooks hooks

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// New creates a bus with the given queue size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 1
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		done: make(chan struct{}),
		now:  time.Now,
		subs: make(map[int]func(Event)),
	}
}

// Start dispatches events until ctx is cancelled, then drains whatever is
// still queued and closes Done.
func (bus *EventBus) Start(ctx context.Context) {
	defer close(bus.done)
	for {
		select {
		case env := <-bus.ch:
			bus.dispatch(env.event)
		case <-ctx.Done():
			for {
				select {
				case env := <-bus.ch:
					bus.dispatch(env.event)
				default:
					return
				}
			}
		}
	}
}

// Done is closed after Start returns.
func (bus *EventBus) Done() <-chan struct{} {
	return bus.done
}

// Publish enqueues e. PublishedAt is stamped when unset.
func (bus *EventBus) Publish(e Event) {
	if e.PublishedAt.IsZero() {
		e.PublishedAt = bus.now()
	}
	bus.send(e)
}

// Subscribe registers fn for every event and returns its removal function.
func (bus *EventBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	bus.mu.Lock()
	id := bus.nextID
	bus.nextID++
	bus.subs[id] = fn
	count := len(bus.subs)
	bus.mu.Unlock()

	bus.runOnSubscribe(count)

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.mu.Lock()
			delete(bus.subs, id)
			count := len(bus.subs)
			bus.mu.Unlock()
			bus.runOnSubscribe(count)
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (bus *EventBus) SubscriberCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subs)
}

func (bus *EventBus) PublishCourseCompleted(p CourseCompletedPayload) {
	bus.Publish(Event{Type: TypeCourseCompleted, Payload: p})
}

func (bus *EventBus) PublishTeamInvite(p TeamInvitePayload) {
	bus.Publish(Event{Type: TypeTeamInvite, Payload: p})
}

func (bus *EventBus) PublishStreakMilestone(p StreakMilestonePayload) {
	bus.Publish(Event{Type: TypeStreakMilestone, Payload: p})
}

func (bus *EventBus) dispatch(e Event) {
	bus.mu.RLock()
	ids := make([]int, 0, len(bus.subs))
	for id := range bus.subs {
		ids = append(ids, id)
	}
	bus.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		bus.mu.RLock()
		fn, ok := bus.subs[id]
		bus.mu.RUnlock()
		if ok {
			bus.call(fn, e)
		}
	}
}

func (bus *EventBus) call(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.runOnPanic(e, r)
		}
	}()
	fn(e)
}

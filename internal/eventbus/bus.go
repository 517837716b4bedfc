// Package eventbus is the process-local publish/subscribe fabric
// described in spec §4.C: five logical topics, throttled per-job
// progress, unthrottled status, fanned out to every connected
// observer. It generalizes the teacher's FanoutHandler (one log record
// fanned out to N sink handlers) from a fixed sink list to a dynamic
// subscriber set.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic names, exactly as named in spec §4.C.
const (
	TopicNew      = "new"
	TopicProgress = "progress"
	TopicStatus   = "status"
	TopicDeleted  = "deleted"
	TopicStats    = "stats"
)

// Event is one message on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// subscriberBufferSize bounds how many events a slow observer can fall
// behind before events are dropped for it; a Worker must never block
// on a stalled subscriber.
const subscriberBufferSize = 64

type subscriber struct {
	id uint64
	ch chan Event
}

// Bus is the broadcaster. Zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[uint64]*subscriber)}
}

// Subscribe registers a new observer and returns its event channel and
// an unsubscribe func. Per spec §4.C, subscribers receive every
// subsequent event until they unsubscribe; there is no replay.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{id: id, ch: make(chan Event, subscriberBufferSize)}
	b.subscribers[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish fans Event out to every current subscriber. A subscriber
// whose buffer is full has the event dropped for it rather than
// stalling the publisher — the Control Surface's list operation is the
// reconciliation path for anything a slow observer missed.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt := Event{Topic: topic, Payload: payload}
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports how many observers are currently connected.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Throttle implements the producer-side ≥1s gate a Worker applies
// before emitting a `progress` event (spec §4.C/§4.F/§4.G). Each
// Worker owns one Throttle for the lifetime of its job; the explicit
// struct (rather than captured free variables) is the lift called for
// by the design note in spec §9.
type Throttle struct {
	intervalNanos int64
	lastEmitNanos atomic.Int64
}

// NewThrottle constructs a Throttle with the given minimum interval
// between allowed emissions.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{intervalNanos: int64(interval)}
}

// Allow reports whether enough wall-clock time has passed since the
// last allowed emission, and if so records now as the new baseline.
// Callers must still always allow a final/terminal emission regardless
// of this result, per spec §4.C.
func (t *Throttle) Allow() bool {
	now := time.Now().UnixNano()
	last := t.lastEmitNanos.Load()
	if now-last < t.intervalNanos {
		return false
	}
	return t.lastEmitNanos.CompareAndSwap(last, now)
}

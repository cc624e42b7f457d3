package eventstore

import (
	"log/slog"
	"sync"

	"github.com/authapp/zitadel-sub007/pkg/idgen"
)

// defaultSubscriptionBuffer is the channel capacity of a subscription.
// A subscriber that falls this many batches behind starts losing
// notifications; delivery is best-effort by contract.
const defaultSubscriptionBuffer = 64

// Subscription receives batches of committed events matching its filter.
// Delivery happens after commit and never blocks the writer: when the
// subscriber's buffer is full, the batch is dropped for that subscriber.
type Subscription struct {
	// Events yields one slice per committed push. The channel is closed
	// on Unsubscribe and on engine shutdown.
	Events <-chan []Event

	id             string
	ch             chan []Event
	aggregateTypes []string
	eventTypes     []string
	bus            *subscriptionBus

	mu     sync.Mutex
	closed bool
}

// Unsubscribe removes the subscription and closes its channel. It is safe
// to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.close()
}

// send delivers a batch without blocking. The subscription's own lock
// serializes it against close, so a concurrent Unsubscribe can never
// turn a delivery into a send on a closed channel.
func (s *Subscription) send(events []Event) (delivered, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- events:
		return true, false
	default:
		return false, true
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) matches(event *Event) bool {
	if len(s.aggregateTypes) > 0 && !contains(s.aggregateTypes, event.AggregateType) {
		return false
	}
	if len(s.eventTypes) > 0 && !contains(s.eventTypes, event.EventType) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithAggregateTypes restricts the subscription to the given aggregate
// types. Empty means all.
func WithAggregateTypes(types ...string) SubscribeOption {
	return func(s *Subscription) {
		s.aggregateTypes = types
	}
}

// WithEventTypes restricts the subscription to the given event types.
// Empty means all.
func WithEventTypes(types ...string) SubscribeOption {
	return func(s *Subscription) {
		s.eventTypes = types
	}
}

// WithBufferSize overrides the subscription channel capacity.
func WithBufferSize(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.ch = make(chan []Event, n)
		}
	}
}

// subscriptionBus is the process-local fan-out of committed events. One
// bus belongs to one engine; tests needing isolation construct a fresh
// engine.
type subscriptionBus struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	dropped func(subscriberID string, batch int) // hook for metrics/logging
	logger  *slog.Logger
}

func newSubscriptionBus(logger *slog.Logger) *subscriptionBus {
	return &subscriptionBus{
		subs:   make(map[string]*Subscription),
		logger: logger,
	}
}

func (b *subscriptionBus) subscribe(opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		id:  idgen.SortableID(),
		bus: b,
	}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.ch == nil {
		sub.ch = make(chan []Event, defaultSubscriptionBuffer)
	}
	sub.Events = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// Late subscribers on a closed bus get a closed channel instead of
		// a channel that never yields.
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *subscriptionBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// notify fans a committed batch out to all matching subscribers. It
// iterates a snapshot of the subscriber map so registration never blocks
// delivery, and sends without blocking so a slow subscriber never stalls
// a fast one.
func (b *subscriptionBus) notify(events []Event) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	snapshot := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		matched := make([]Event, 0, len(events))
		for i := range events {
			if sub.matches(&events[i]) {
				matched = append(matched, events[i])
			}
		}
		if len(matched) == 0 {
			continue
		}
		if _, dropped := sub.send(matched); dropped {
			if b.dropped != nil {
				b.dropped(sub.id, len(matched))
			}
			b.logger.Warn("subscription buffer full, dropping batch",
				"subscriber", sub.id,
				"events", len(matched))
		}
	}
}

// closeAll closes every subscription. Used on engine shutdown.
func (b *subscriptionBus) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

package bus

import (
	"context"
	"sync"

	"quakenotify/pkg/envelope"
)

const defaultBufferSize = 100

// Bus broadcasts every published envelope to every live subscription. Each
// subscription owns its own buffered queue, so one slow worker only delays the
// publisher, never another worker.
type Bus struct {
	subscribers      map[uint64]*Subscription
	nextSubscriberID uint64

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// Subscription is one reader's view of the bus.
type Subscription struct {
	id    uint64
	bus   *Bus
	queue chan envelope.Envelope
	done  chan struct{}
	once  sync.Once
}

func New() *Bus {
	return &Bus{
		subscribers:      make(map[uint64]*Subscription),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// Subscribe registers a reader. Envelopes published before this call are not
// delivered to it.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	sub := &Subscription{
		bus:   b,
		queue: make(chan envelope.Envelope, buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		sub.once.Do(func() { close(sub.done) })
		return sub
	default:
	}

	sub.id = b.nextSubscriberID
	b.nextSubscriberID++
	b.subscribers[sub.id] = sub

	return sub
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish hands env to every subscription, blocking while a subscriber's
// queue is full. It returns false if ctx ends or the bus closes first.
func (b *Bus) Publish(ctx context.Context, env envelope.Envelope) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- env:
		case <-sub.done:
			// Unsubscribed while we were publishing.
		case <-ctx.Done():
			return false
		case <-b.done:
			return false
		}
	}

	return true
}

// Receive blocks for the next envelope. Buffered envelopes are still handed
// out after the bus closes; ok is false once nothing more will arrive.
func (s *Subscription) Receive(ctx context.Context) (envelope.Envelope, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case env := <-s.queue:
		return env, true
	default:
	}

	select {
	case env := <-s.queue:
		return env, true
	case <-ctx.Done():
		return envelope.Envelope{}, false
	case <-s.done:
		return envelope.Envelope{}, false
	case <-s.bus.done:
		select {
		case env := <-s.queue:
			return env, true
		default:
			return envelope.Envelope{}, false
		}
	}
}

// Unsubscribe detaches the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s.id)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for id, ch := range b.eventSubscribers {
			close(ch)
			delete(b.eventSubscribers, id)
		}
		b.mu.Unlock()
	})
}

package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventAlertDelivered  EventType = "alert_delivered"
	EventAlertSuppressed EventType = "alert_suppressed"
	EventAlertFailed     EventType = "alert_failed"
	EventAlertDropped    EventType = "alert_dropped"
	EventWorkerStopped   EventType = "worker_stopped"
)

// Event reports what a dispatch worker did with one envelope for one target.
type Event struct {
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	Channel    string    `json:"channel,omitempty"`
	Target     string    `json:"target,omitempty"`
	EnvelopeID string    `json:"envelope_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Intensity  float64   `json:"intensity,omitempty"`
	Shindo     string    `json:"shindo,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func (b *Bus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.eventSubscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking a worker on slow observers.
		}
	}

	return true
}

func (b *Bus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextEventSubscriberID
	b.nextEventSubscriberID++
	b.eventSubscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if eventCh, ok := b.eventSubscribers[id]; ok {
				delete(b.eventSubscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

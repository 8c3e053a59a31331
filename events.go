package optimistic

import (
	"context"
	"sync"
)

// EventKind names a cache or lifecycle notification.
type EventKind string

const (
	// EventCached fires after a key was written or its entry changed in place.
	EventCached EventKind = "cached"
	// EventRemoved fires after a key was deleted by a successful destroy.
	EventRemoved EventKind = "removed"
	// EventEvicted fires after a key outlived its TTL and was swept.
	EventEvicted EventKind = "evicted"

	EventSaveStarted   EventKind = "save_started"
	EventSaveEnded     EventKind = "save_ended"
	EventUpdateStarted EventKind = "update_started"
	EventUpdateEnded   EventKind = "update_ended"
	EventDeleteStarted EventKind = "delete_started"
	EventDeleteEnded   EventKind = "delete_ended"
	EventCreateStarted EventKind = "create_started"
	EventCreateEnded   EventKind = "create_ended"
)

// TopicAll subscribes to every event.
const TopicAll = "*"

// Event is delivered to listeners. Key is the affected cache key when known,
// Value the stored entry or the entity being operated on, and Err the outcome
// of an *Ended lifecycle event.
type Event struct {
	Kind  EventKind
	Key   string
	Value any
	Err   error
}

// Listener receives cache and lifecycle events.
type Listener interface {
	OnModelEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev Event)

// OnModelEvent implements Listener.
func (f ListenerFunc) OnModelEvent(ctx context.Context, ev Event) {
	if f == nil {
		return
	}
	f(ctx, ev)
}

type subscription struct {
	id       uint64
	topic    string
	listener Listener
}

// bus delivers events synchronously, in subscription order.
type bus struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription
}

func (b *bus) subscribe(topic string, l Listener) func() {
	if l == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, topic: topic, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *bus) publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == TopicAll || (ev.Key != "" && s.topic == ev.Key) {
			targets = append(targets, s.listener)
		}
	}
	b.mu.RUnlock()
	for _, l := range targets {
		l.OnModelEvent(ctx, ev)
	}
}

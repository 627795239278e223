package events

import (
	"log/slog"
	"sync"
	"time"
)

// Topic enumerates everything components announce to each other.
type Topic string

const (
	TopicSessionExpired      Topic = "session.expired"
	TopicConnectionIssue     Topic = "connection.issue"
	TopicConnectionRestored  Topic = "connection.restored"
	TopicConnectionCooldown  Topic = "connection.cooldown"
	TopicNotificationShown   Topic = "notification.received"
	TopicNotificationToast   Topic = "notification.toast"
	TopicSubscriptionChanged Topic = "push.subscription_changed"
)

// Event is a single message on the bus. Payload type depends on the topic.
type Event struct {
	Topic   Topic
	Scope   string
	Payload any
	At      time.Time
}

// Handler receives events for a subscribed topic.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous typed publish/subscribe hub. A nil *Bus drops events.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers handler for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every handler of its topic in subscription order.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, s := range b.subs[ev.Topic] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "topic", ev.Topic, "scope", ev.Scope, "panic", r)
		}
	}()
	h(ev)
}

package events

import (
	"testing"
)

func TestBus_PublishToSubscribers(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var got []string
	bus.Subscribe(TopicConnectionIssue, func(ev Event) { got = append(got, "a:"+ev.Scope) })
	bus.Subscribe(TopicConnectionIssue, func(ev Event) { got = append(got, "b:"+ev.Scope) })
	bus.Subscribe(TopicSessionExpired, func(ev Event) { got = append(got, "wrong topic") })

	bus.Publish(Event{Topic: TopicConnectionIssue, Scope: "leads"})

	if len(got) != 2 || got[0] != "a:leads" || got[1] != "b:leads" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe(TopicNotificationToast, func(Event) { calls++ })
	bus.Publish(Event{Topic: TopicNotificationToast})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Topic: TopicNotificationToast})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	delivered := false
	bus.Subscribe(TopicSessionExpired, func(Event) { panic("boom") })
	bus.Subscribe(TopicSessionExpired, func(ev Event) {
		delivered = true
		if ev.At.IsZero() {
			t.Error("timestamp should be filled in")
		}
	})

	bus.Publish(Event{Topic: TopicSessionExpired})
	if !delivered {
		t.Fatal("second handler was not called")
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	t.Parallel()
	var bus *Bus
	bus.Publish(Event{Topic: TopicSessionExpired})
}

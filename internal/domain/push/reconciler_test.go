package push

import (
	"context"
	"testing"

	"leadwire/internal/domain/events"
)

func TestReconciler_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("idle when not opted in", func(t *testing.T) {
		platform := newFakePlatform(PermissionGranted)
		m, _, _ := newTestManager(t, platform)
		if got := NewReconciler(m, ReconcilerConfig{}).Sweep(ctx); got != SweepIdle {
			t.Errorf("Sweep() = %s, want idle", got)
		}
		if n := platform.registrations.Load(); n != 0 {
			t.Errorf("registered service worker while idle")
		}
	})

	t.Run("in sync", func(t *testing.T) {
		platform := newFakePlatform(PermissionGranted)
		m, _, _ := newTestManager(t, platform)
		if _, err := m.Subscribe(ctx); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		if got := NewReconciler(m, ReconcilerConfig{}).Sweep(ctx); got != SweepInSync {
			t.Errorf("Sweep() = %s, want in_sync", got)
		}
	})

	t.Run("permission revoked outside the app", func(t *testing.T) {
		platform := newFakePlatform(PermissionGranted)
		m, _, prefs := newTestManager(t, platform)
		if _, err := m.Subscribe(ctx); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		var changed []events.Event
		m.bus.Subscribe(events.TopicSubscriptionChanged, func(e events.Event) { changed = append(changed, e) })

		platform.setPermission(PermissionDenied)
		if got := NewReconciler(m, ReconcilerConfig{}).Sweep(ctx); got != SweepRevoked {
			t.Fatalf("Sweep() = %s, want revoked", got)
		}
		if enabled, _ := prefs.Enabled(ctx); enabled {
			t.Error("preference still enabled")
		}
		if len(changed) != 1 || changed[0].Payload != StatePermissionDenied {
			t.Errorf("events = %+v", changed)
		}
	})

	t.Run("lost subscription is restored", func(t *testing.T) {
		platform := newFakePlatform(PermissionGranted)
		m, backend, _ := newTestManager(t, platform)
		if _, err := m.Subscribe(ctx); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		// The browser expired the subscription on its own.
		if _, err := platform.reg.Unsubscribe(ctx); err != nil {
			t.Fatal(err)
		}

		if got := NewReconciler(m, ReconcilerConfig{}).Sweep(ctx); got != SweepResubscribed {
			t.Fatalf("Sweep() = %s, want resubscribed", got)
		}
		if n := platform.reg.subscribes.Load(); n != 2 {
			t.Errorf("native subscribes = %d, want 2", n)
		}
		// Same endpoint as before, so the backend already knows it.
		if n := backend.subscribes.Load(); n != 1 {
			t.Errorf("backend subscribes = %d, want 1", n)
		}
	})
}

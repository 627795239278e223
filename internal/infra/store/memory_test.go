package store

import (
	"context"
	"testing"
	"time"

	"leadwire/internal/domain/sandbox"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &sandbox.Subscription{ID: "a", UserID: "u1", Endpoint: "https://push/1", CreatedAt: t0}
	second := &sandbox.Subscription{ID: "b", UserID: "u1", Endpoint: "https://push/2", CreatedAt: t0.Add(time.Minute)}
	other := &sandbox.Subscription{ID: "c", UserID: "u2", Endpoint: "https://push/3", CreatedAt: t0}
	for _, sub := range []*sandbox.Subscription{second, first, other} {
		if err := s.Upsert(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}

	// Re-subscribing keeps identity and creation time.
	again := &sandbox.Subscription{ID: "z", UserID: "u1", Endpoint: "https://push/1", Auth: "new", CreatedAt: t0.Add(time.Hour)}
	if err := s.Upsert(ctx, again); err != nil {
		t.Fatal(err)
	}
	if again.ID != "a" || !again.CreatedAt.Equal(t0) {
		t.Errorf("upsert replaced identity: %+v", again)
	}

	subs, _ := s.ListByUser(ctx, "u1")
	if len(subs) != 2 || subs[0].Endpoint != "https://push/1" || subs[0].Auth != "new" {
		t.Fatalf("ListByUser = %+v", subs)
	}

	if n, _ := s.Delete(ctx, "u2", "https://push/1"); n != 0 {
		t.Error("deleted another user's subscription")
	}
	if n, _ := s.Delete(ctx, "u1", "https://push/1"); n != 1 {
		t.Errorf("Delete = %d, want 1", n)
	}
	if n, _ := s.DeleteAll(ctx, "u1"); n != 1 {
		t.Errorf("DeleteAll = %d, want 1", n)
	}
	if subs, _ := s.ListByUser(ctx, "u2"); len(subs) != 1 {
		t.Errorf("u2 subscriptions = %d, want 1", len(subs))
	}
}

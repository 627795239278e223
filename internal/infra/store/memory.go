package store

import (
	"context"
	"sort"
	"sync"

	"leadwire/internal/domain/sandbox"
)

var _ sandbox.SubscriptionStore = (*MemoryStore)(nil)

// MemoryStore keeps subscriptions in process memory, keyed by endpoint.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*sandbox.Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*sandbox.Subscription)}
}

func (s *MemoryStore) Upsert(_ context.Context, sub *sandbox.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	if existing, ok := s.subs[sub.Endpoint]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	s.subs[sub.Endpoint] = &cp
	*sub = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, endpoint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[endpoint]; ok && sub.UserID == userID {
		delete(s.subs, endpoint)
		return 1, nil
	}
	return 0, nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for endpoint, sub := range s.subs {
		if sub.UserID == userID {
			delete(s.subs, endpoint)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*sandbox.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*sandbox.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

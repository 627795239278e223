package sandbox

import "context"

// SubscriptionStore persists push subscriptions.
// Implementations live in infra/store/ (memory and Supabase).
type SubscriptionStore interface {
	// Upsert stores sub, replacing any subscription with the same endpoint.
	Upsert(ctx context.Context, sub *Subscription) error

	// Delete removes the user's subscription for endpoint and reports how
	// many rows went away.
	Delete(ctx context.Context, userID, endpoint string) (int, error)

	// DeleteAll removes every subscription of the user.
	DeleteAll(ctx context.Context, userID string) (int, error)

	// ListByUser returns the user's subscriptions, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
}

// TestPushLimiter caps how often a user may trigger test pushes.
// Implementations live in infra/ratelimit/.
type TestPushLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// Enqueuer hands push payloads to the service-worker queue.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, raw []byte) error
}

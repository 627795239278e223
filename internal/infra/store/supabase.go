package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadwire/internal/domain/sandbox"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const tableName = "push_subscriptions"

var _ sandbox.SubscriptionStore = (*SupabaseStore)(nil)

// SupabaseStore implements SubscriptionStore using the Supabase Go SDK.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a new Supabase-backed subscription store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// supabaseRow is the PostgREST representation of a subscription.
type supabaseRow struct {
	ID         string  `json:"id,omitempty"`
	UserID     string  `json:"user_id"`
	Endpoint   string  `json:"endpoint"`
	P256dh     string  `json:"p256dh"`
	Auth       string  `json:"auth"`
	DeviceInfo *string `json:"device_info,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// Upsert inserts the subscription or updates the row with the same endpoint.
func (s *SupabaseStore) Upsert(ctx context.Context, sub *sandbox.Subscription) error {
	row := supabaseRow{
		UserID:    sub.UserID,
		Endpoint:  sub.Endpoint,
		P256dh:    sub.P256dh,
		Auth:      sub.Auth,
		UpdatedAt: sub.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if sub.DeviceInfo != "" {
		row.DeviceInfo = &sub.DeviceInfo
	}

	data, _, err := s.client.From(tableName).Insert(row, true, "endpoint", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("upserting push subscription: %w", err)
	}

	var results []supabaseRow
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing upsert response: %w", err)
	}
	if len(results) > 0 {
		*sub = *rowToSubscription(&results[0])
	}
	return nil
}

// Delete removes the user's subscription for endpoint.
func (s *SupabaseStore) Delete(ctx context.Context, userID, endpoint string) (int, error) {
	data, _, err := s.client.From(tableName).
		Delete("representation", "").
		Eq("user_id", userID).
		Eq("endpoint", endpoint).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("deleting push subscription: %w", err)
	}
	return countRows(data)
}

// DeleteAll removes every subscription of the user.
func (s *SupabaseStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	data, _, err := s.client.From(tableName).
		Delete("representation", "").
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("deleting push subscriptions: %w", err)
	}
	return countRows(data)
}

// ListByUser returns the user's subscriptions, oldest first.
func (s *SupabaseStore) ListByUser(ctx context.Context, userID string) ([]*sandbox.Subscription, error) {
	data, _, err := s.client.From(tableName).
		Select("*", "exact", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing push subscriptions: %w", err)
	}

	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing push subscriptions: %w", err)
	}

	subs := make([]*sandbox.Subscription, len(rows))
	for i := range rows {
		subs[i] = rowToSubscription(&rows[i])
	}
	return subs, nil
}

func countRows(data []byte) (int, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("parsing delete response: %w", err)
	}
	return len(rows), nil
}

// rowToSubscription converts a supabaseRow to a Subscription.
func rowToSubscription(row *supabaseRow) *sandbox.Subscription {
	sub := &sandbox.Subscription{
		ID:       row.ID,
		UserID:   row.UserID,
		Endpoint: row.Endpoint,
		P256dh:   row.P256dh,
		Auth:     row.Auth,
	}
	if row.DeviceInfo != nil {
		sub.DeviceInfo = *row.DeviceInfo
	}
	if row.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
			sub.CreatedAt = t
		}
	}
	if row.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.UpdatedAt); err == nil {
			sub.UpdatedAt = t
		}
	}
	return sub
}

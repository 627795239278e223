package push

import (
	"context"
	"fmt"
	"net/http"

	"leadwire/internal/domain/apiclient"
)

const (
	PathVAPIDPublicKey = "/notifications/vapid-public-key"
	PathSubscribe      = "/notifications/subscribe"
	PathUnsubscribe    = "/notifications/unsubscribe"
	PathTest           = "/notifications/test"
)

// Backend is the server side of the subscription lifecycle.
type Backend interface {
	VAPIDPublicKey(ctx context.Context) (string, error)
	Subscribe(ctx context.Context, sub *Subscription) (bool, error)
	// Unsubscribe removes exactly endpoint. An empty endpoint is rejected with
	// ErrNoSubscription so another device's subscription is never touched.
	Unsubscribe(ctx context.Context, endpoint string) (bool, error)
}

// APIBackend implements Backend over the authenticated API client.
type APIBackend struct {
	client *apiclient.Client
}

var _ Backend = (*APIBackend)(nil)

func NewAPIBackend(client *apiclient.Client) *APIBackend {
	return &APIBackend{client: client}
}

type vapidKeyResponse struct {
	PublicKey      string `json:"publicKey"`
	VAPIDPublicKey string `json:"vapidPublicKey"`
	Key            string `json:"key"`
}

// VAPIDPublicKey fetches the key without credentials. Backends disagree on
// the field name, so publicKey, vapidPublicKey and key are tried in order.
func (b *APIBackend) VAPIDPublicKey(ctx context.Context) (string, error) {
	var resp vapidKeyResponse
	req := &apiclient.Request{Method: http.MethodGet, Path: PathVAPIDPublicKey, Anonymous: true}
	if err := b.client.Do(ctx, req, &resp); err != nil {
		return "", fmt.Errorf("fetching vapid public key: %w", err)
	}
	for _, k := range []string{resp.PublicKey, resp.VAPIDPublicKey, resp.Key} {
		if k != "" {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: response carried no key", ErrInvalidVAPIDKey)
}

func (b *APIBackend) Subscribe(ctx context.Context, sub *Subscription) (bool, error) {
	var resp struct {
		Subscribed bool `json:"subscribed"`
	}
	if err := b.client.Post(ctx, PathSubscribe, sub, &resp); err != nil {
		return false, err
	}
	return resp.Subscribed, nil
}

func (b *APIBackend) Unsubscribe(ctx context.Context, endpoint string) (bool, error) {
	if endpoint == "" {
		return false, ErrNoSubscription
	}
	body := map[string]string{"endpoint": endpoint}
	var resp struct {
		Unsubscribed bool `json:"unsubscribed"`
	}
	if err := b.client.Delete(ctx, PathUnsubscribe, body, &resp); err != nil {
		return false, err
	}
	return resp.Unsubscribed, nil
}

// SendTest asks the backend to push a test notification to the signed-in user.
func (b *APIBackend) SendTest(ctx context.Context, title, body string) (bool, error) {
	var resp struct {
		Queued bool `json:"queued"`
	}
	req := map[string]string{"title": title, "body": body}
	if err := b.client.Post(ctx, PathTest, req, &resp); err != nil {
		return false, err
	}
	return resp.Queued, nil
}

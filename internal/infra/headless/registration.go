package headless

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/push"
	"leadwire/internal/infra/localstore"

	"github.com/google/uuid"
)

const authSecretSize = 16

var _ push.Registration = (*Registration)(nil)

// storedSubscription is the persisted subscription, private key included so
// a delivery process could decrypt payloads.
type storedSubscription struct {
	Endpoint   string `json:"endpoint"`
	P256dh     []byte `json:"p256dh"`
	Auth       []byte `json:"auth"`
	PrivateKey []byte `json:"privateKey"`
	ServerKey  []byte `json:"serverKey"`
}

// Registration is a headless service-worker registration.
type Registration struct {
	platform  *Platform
	scriptURL string
	scope     string
}

func (r *Registration) Scope() string {
	return r.scope
}

func (r *Registration) Subscription(ctx context.Context) (*push.NativeSubscription, error) {
	var stored storedSubscription
	if err := r.platform.storage.Get(ctx, subscriptionKey, &stored); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading subscription: %w", err)
	}
	return &push.NativeSubscription{Endpoint: stored.Endpoint, P256dh: stored.P256dh, Auth: stored.Auth}, nil
}

// Subscribe creates fresh P-256 keys and a random auth secret. The server key
// must be a valid uncompressed point, as a browser would require.
func (r *Registration) Subscribe(ctx context.Context, applicationServerKey []byte) (*push.NativeSubscription, error) {
	if _, err := ecdh.P256().NewPublicKey(applicationServerKey); err != nil {
		return nil, fmt.Errorf("invalid application server key: %w", err)
	}
	if r.platform.Permission() != push.PermissionGranted {
		return nil, fmt.Errorf("subscribe requires granted permission")
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating subscription key: %w", err)
	}
	auth := make([]byte, authSecretSize)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("generating auth secret: %w", err)
	}

	stored := storedSubscription{
		Endpoint:   r.platform.cfg.EndpointBase + "/" + uuid.NewString(),
		P256dh:     priv.PublicKey().Bytes(),
		Auth:       auth,
		PrivateKey: priv.Bytes(),
		ServerKey:  applicationServerKey,
	}
	if err := r.platform.storage.Set(ctx, subscriptionKey, stored); err != nil {
		return nil, fmt.Errorf("storing subscription: %w", err)
	}
	slog.Info("push subscription created", "endpoint", stored.Endpoint)
	return &push.NativeSubscription{Endpoint: stored.Endpoint, P256dh: stored.P256dh, Auth: stored.Auth}, nil
}

func (r *Registration) Unsubscribe(ctx context.Context) (bool, error) {
	current, err := r.Subscription(ctx)
	if err != nil || current == nil {
		return false, err
	}
	if err := r.platform.storage.Delete(ctx, subscriptionKey); err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return true, nil
}

func (r *Registration) PostMessage(ctx context.Context, msg notification.WorkerMessage) error {
	if r.platform.cfg.Messenger == nil {
		slog.Warn("no service worker process to receive message", "type", msg.Type)
		return nil
	}
	return r.platform.cfg.Messenger(ctx, msg)
}

package push

import (
	"context"

	"leadwire/internal/domain/notification"
)

// Permission mirrors the OS-level notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Platform is the page-side view of the browser capabilities push depends on.
// Implementations live in infra/ (e.g., the headless platform).
type Platform interface {
	// Supported reports whether the Notification API, service workers and
	// the push manager are all present.
	Supported() bool

	// Permission returns the current permission. It can change at any time
	// outside the app.
	Permission() Permission

	// RequestPermission prompts the user.
	RequestPermission(ctx context.Context) (Permission, error)

	// RegisterServiceWorker registers scriptURL at scope, or returns the
	// existing registration.
	RegisterServiceWorker(ctx context.Context, scriptURL, scope string) (Registration, error)

	UserAgent() string
}

// Registration is a service-worker registration and its push manager.
type Registration interface {
	Scope() string

	// Subscription returns the active subscription, or nil if there is none.
	Subscription(ctx context.Context) (*NativeSubscription, error)

	// Subscribe creates a subscription bound to the VAPID public key.
	Subscribe(ctx context.Context, applicationServerKey []byte) (*NativeSubscription, error)

	// Unsubscribe drops the active subscription.
	Unsubscribe(ctx context.Context) (bool, error)

	// PostMessage sends a message to the service worker.
	PostMessage(ctx context.Context, msg notification.WorkerMessage) error
}

// NativeSubscription is a subscription as the platform returns it.
type NativeSubscription struct {
	Endpoint string
	P256dh   []byte
	Auth     []byte
}

package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"leadwire/internal/common"
	"leadwire/internal/domain/events"
	"leadwire/internal/domain/notification"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultServiceWorkerURL = "/sw.js"
	DefaultScope            = "/"
)

// Config holds manager settings.
type Config struct {
	ServiceWorkerURL string
	Scope            string
}

// Manager drives one installation through the subscription lifecycle.
type Manager struct {
	platform Platform
	backend  Backend
	prefs    *Preferences
	bus      *events.Bus
	cfg      Config

	flights singleflight.Group

	mu           sync.Mutex
	registration Registration
	// synced is the endpoint the backend last acknowledged.
	synced string
}

func NewManager(platform Platform, backend Backend, prefs *Preferences, bus *events.Bus, cfg Config) *Manager {
	if cfg.ServiceWorkerURL == "" {
		cfg.ServiceWorkerURL = DefaultServiceWorkerURL
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	return &Manager{
		platform: platform,
		backend:  backend,
		prefs:    prefs,
		bus:      bus,
		cfg:      cfg,
	}
}

// Preferences exposes the opt-in flag.
func (m *Manager) Preferences() *Preferences {
	return m.prefs
}

// State reads the platform afresh on every call; permission can be revoked
// outside the app.
func (m *Manager) State(ctx context.Context) (State, error) {
	if !m.platform.Supported() {
		return StateUnsupported, nil
	}
	switch m.platform.Permission() {
	case PermissionDenied:
		return StatePermissionDenied, nil
	case PermissionGranted:
	default:
		return StatePermissionDefault, nil
	}

	reg, err := m.Register(ctx)
	if err != nil {
		return StatePermissionGranted, err
	}
	native, err := reg.Subscription(ctx)
	if err != nil {
		return StatePermissionGranted, fmt.Errorf("reading push subscription: %w", err)
	}
	if native == nil {
		return StatePermissionGranted, nil
	}
	return StateSubscribed, nil
}

// RequestPermission prompts only from the default state. A denied permission
// is final until the user changes it in the browser.
func (m *Manager) RequestPermission(ctx context.Context) (Permission, error) {
	if !m.platform.Supported() {
		return PermissionDefault, common.ErrUnsupported
	}
	switch m.platform.Permission() {
	case PermissionGranted:
		return PermissionGranted, nil
	case PermissionDenied:
		return PermissionDenied, common.ErrPermissionDenied
	}

	v, err, _ := m.flights.Do("permission", func() (any, error) {
		return m.platform.RequestPermission(ctx)
	})
	if err != nil {
		return PermissionDefault, fmt.Errorf("requesting notification permission: %w", err)
	}
	p := v.(Permission)
	if p != PermissionGranted {
		return p, common.ErrPermissionDenied
	}
	return p, nil
}

// Register registers the service worker once. Concurrent callers share the
// in-flight registration; a failed registration is retried on the next call.
func (m *Manager) Register(ctx context.Context) (Registration, error) {
	if !m.platform.Supported() {
		return nil, common.ErrUnsupported
	}
	if reg := m.currentRegistration(); reg != nil {
		return reg, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flights.Do("register", func() (any, error) {
		if reg := m.currentRegistration(); reg != nil {
			return reg, nil
		}
		reg, err := m.platform.RegisterServiceWorker(flightCtx, m.cfg.ServiceWorkerURL, m.cfg.Scope)
		if err != nil {
			return nil, fmt.Errorf("registering service worker: %w", err)
		}
		m.mu.Lock()
		m.registration = reg
		m.mu.Unlock()
		slog.Info("service worker registered", "script", m.cfg.ServiceWorkerURL, "scope", reg.Scope())
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Registration), nil
}

func (m *Manager) currentRegistration() Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registration
}

// Subscribe makes sure this browser holds a push subscription the backend
// knows about. Repeated or concurrent calls produce one subscription.
func (m *Manager) Subscribe(ctx context.Context) (*Subscription, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan("subscribe", func() (any, error) {
		return m.subscribe(flightCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Subscription), nil
	}
}

func (m *Manager) subscribe(ctx context.Context) (*Subscription, error) {
	if _, err := m.RequestPermission(ctx); err != nil {
		return nil, err
	}
	reg, err := m.Register(ctx)
	if err != nil {
		return nil, err
	}

	native, err := reg.Subscription(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading push subscription: %w", err)
	}
	if native == nil {
		rawKey, err := m.backend.VAPIDPublicKey(ctx)
		if err != nil {
			return nil, err
		}
		key, err := DecodeApplicationServerKey(rawKey)
		if err != nil {
			return nil, err
		}
		native, err = reg.Subscribe(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("creating push subscription: %w", err)
		}
	}

	sub := Encode(native, m.platform.UserAgent())

	m.mu.Lock()
	known := m.synced == sub.Endpoint
	m.mu.Unlock()
	if !known {
		ok, err := m.backend.Subscribe(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("registering subscription with backend: %w", err)
		}
		if !ok {
			return nil, ErrNotAccepted
		}
		m.mu.Lock()
		m.synced = sub.Endpoint
		m.mu.Unlock()
		slog.Info("push subscription registered", "endpoint", sub.Endpoint, "device", sub.DeviceInfo)
		m.bus.Publish(events.Event{Topic: events.TopicSubscriptionChanged, Payload: StateSubscribed})
	}

	if err := m.prefs.SetEnabled(ctx, true); err != nil {
		slog.Warn("failed to store notification preference", "error", err)
	}
	return sub, nil
}

// Unsubscribe removes the subscription from the backend and then from the
// browser. A non-empty endpoint must match the active subscription. Without
// an active subscription only the local preference is cleared.
func (m *Manager) Unsubscribe(ctx context.Context, endpoint string) error {
	reg, err := m.Register(ctx)
	if err != nil {
		return err
	}
	native, err := reg.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("reading push subscription: %w", err)
	}
	if endpoint != "" && (native == nil || native.Endpoint != endpoint) {
		return ErrEndpointMismatch
	}
	if native == nil {
		// No endpoint to name, so the backend is not called.
		m.mu.Lock()
		m.synced = ""
		m.mu.Unlock()
		if err := m.prefs.SetEnabled(ctx, false); err != nil {
			slog.Warn("failed to clear notification preference", "error", err)
		}
		return nil
	}
	endpoint = native.Endpoint

	if _, err := m.backend.Unsubscribe(ctx, endpoint); err != nil {
		return fmt.Errorf("removing subscription from backend: %w", err)
	}
	ok, err := reg.Unsubscribe(ctx)
	if err != nil {
		return fmt.Errorf("dropping push subscription: %w", err)
	}
	if !ok {
		slog.Warn("platform reported no subscription to drop", "endpoint", endpoint)
	}

	m.mu.Lock()
	m.synced = ""
	m.mu.Unlock()

	if err := m.prefs.SetEnabled(ctx, false); err != nil {
		slog.Warn("failed to clear notification preference", "error", err)
	}
	slog.Info("push subscription removed", "endpoint", endpoint)
	m.bus.Publish(events.Event{Topic: events.TopicSubscriptionChanged, Payload: StatePermissionGranted})
	return nil
}

// SkipWaiting tells a waiting service worker to activate immediately.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	reg, err := m.Register(ctx)
	if err != nil {
		return err
	}
	if err := reg.PostMessage(ctx, notification.WorkerMessage{Type: notification.MessageSkipWaiting}); err != nil {
		return fmt.Errorf("posting skip-waiting: %w", err)
	}
	return nil
}

// Package headless implements the browser capabilities the push and
// notification domains need, for processes without a browser: the CLI and the
// service-worker process.
package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/push"
	"leadwire/internal/infra/localstore"
)

const (
	permissionKey   = "permission"
	subscriptionKey = "subscription"

	DefaultUserAgent = "leadwire-headless/1.0 (X11; Linux x86_64)"
)

var (
	_ push.Platform        = (*Platform)(nil)
	_ notification.Display = (*Platform)(nil)
	_ notification.Clients = (*Platform)(nil)
)

// Prompter answers a permission request on behalf of the user.
type Prompter func(ctx context.Context) (push.Permission, error)

// Messenger delivers a page message to the service worker process.
type Messenger func(ctx context.Context, msg notification.WorkerMessage) error

// Config holds platform settings.
type Config struct {
	// EndpointBase prefixes generated push endpoints.
	EndpointBase string
	UserAgent    string
	// Unsupported simulates a browser without push support.
	Unsupported bool
	// Prompt answers permission requests. Nil grants.
	Prompt Prompter
	// Messenger carries PostMessage calls. Nil drops them with a warning.
	Messenger Messenger
}

// Platform keeps permission and subscription in local storage so separate
// processes sharing the storage see the same browser.
type Platform struct {
	storage localstore.Storage
	cfg     Config

	mu            sync.Mutex
	registration  *Registration
	notifications map[string]*notification.Payload
	windows       []*Window
}

func New(storage localstore.Storage, cfg Config) *Platform {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.EndpointBase = strings.TrimRight(cfg.EndpointBase, "/")
	return &Platform{
		storage:       storage,
		cfg:           cfg,
		notifications: make(map[string]*notification.Payload),
	}
}

func (p *Platform) Supported() bool {
	return !p.cfg.Unsupported
}

func (p *Platform) UserAgent() string {
	return p.cfg.UserAgent
}

// Permission reads the stored permission. Unreadable storage reads as default.
func (p *Platform) Permission() push.Permission {
	var perm push.Permission
	if err := p.storage.Get(context.Background(), permissionKey, &perm); err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			slog.Warn("failed to read notification permission", "error", err)
		}
		return push.PermissionDefault
	}
	return perm
}

// SetPermission changes the permission as if the user edited browser settings.
func (p *Platform) SetPermission(ctx context.Context, perm push.Permission) error {
	if perm == push.PermissionDefault {
		return p.storage.Delete(ctx, permissionKey)
	}
	if err := p.storage.Set(ctx, permissionKey, perm); err != nil {
		return fmt.Errorf("storing permission: %w", err)
	}
	return nil
}

func (p *Platform) RequestPermission(ctx context.Context) (push.Permission, error) {
	answer := push.PermissionGranted
	if p.cfg.Prompt != nil {
		var err error
		if answer, err = p.cfg.Prompt(ctx); err != nil {
			return push.PermissionDefault, err
		}
	}
	if err := p.SetPermission(ctx, answer); err != nil {
		return push.PermissionDefault, err
	}
	slog.Info("notification permission answered", "permission", answer)
	return answer, nil
}

func (p *Platform) RegisterServiceWorker(_ context.Context, scriptURL, scope string) (push.Registration, error) {
	if p.cfg.Unsupported {
		return nil, fmt.Errorf("service workers are not available")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registration == nil || p.registration.scope != scope {
		p.registration = &Registration{platform: p, scriptURL: scriptURL, scope: scope}
	}
	return p.registration, nil
}

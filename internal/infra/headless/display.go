package headless

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/push"

	"github.com/google/uuid"
)

// Permitted reports whether notifications may be shown right now.
func (p *Platform) Permitted() bool {
	return p.Permission() == push.PermissionGranted
}

// Show logs the notification and keeps it in the tray. A notification with the
// same tag replaces the previous one.
func (p *Platform) Show(_ context.Context, n *notification.Payload) error {
	if !p.Permitted() {
		return fmt.Errorf("notification permission is %s", p.Permission())
	}
	p.mu.Lock()
	_, replaced := p.notifications[n.Tag]
	p.notifications[n.Tag] = n
	p.mu.Unlock()

	slog.Info("notification",
		"title", n.Title,
		"body", n.Body,
		"tag", n.Tag,
		"url", n.URL(),
		"replaced", replaced,
	)
	return nil
}

// Tray returns the displayed notifications ordered by tag.
func (p *Platform) Tray() []*notification.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*notification.Payload, 0, len(p.notifications))
	for _, n := range p.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Window is an application window known to the headless platform.
type Window struct {
	id         string
	url        string
	controlled bool
	focused    bool
	platform   *Platform
}

func (w *Window) ID() string  { return w.id }
func (w *Window) URL() string { return w.url }

func (w *Window) Focus(context.Context) error {
	w.platform.mu.Lock()
	for _, other := range w.platform.windows {
		other.focused = other == w
	}
	w.platform.mu.Unlock()
	slog.Info("focusing window", "client_id", w.id, "url", w.url)
	return nil
}

// Focused reports whether the window has focus.
func (w *Window) Focused() bool {
	w.platform.mu.Lock()
	defer w.platform.mu.Unlock()
	return w.focused
}

// AddWindow records an open window.
func (p *Platform) AddWindow(url string, controlled bool) *Window {
	w := &Window{id: uuid.NewString(), url: url, controlled: controlled, platform: p}
	p.mu.Lock()
	p.windows = append(p.windows, w)
	p.mu.Unlock()
	return w
}

func (p *Platform) MatchAll(_ context.Context, includeUncontrolled bool) ([]notification.WindowClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notification.WindowClient, 0, len(p.windows))
	for _, w := range p.windows {
		if w.controlled || includeUncontrolled {
			out = append(out, w)
		}
	}
	return out, nil
}

func (p *Platform) OpenWindow(ctx context.Context, url string) (notification.WindowClient, error) {
	w := p.AddWindow(url, true)
	slog.Info("opening window", "client_id", w.id, "url", url)
	if err := w.Focus(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

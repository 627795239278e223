package notification

import (
	"context"

	"github.com/spf13/cast"
)

const (
	DefaultTitle = "Leadwire"
	DefaultBody  = "You have a new notification."
	DefaultRoute = "/"
)

// MessageSkipWaiting asks a waiting service worker to activate immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// WorkerMessage is a page to service-worker message.
type WorkerMessage struct {
	Type string `json:"type"`
}

// Payload is the canonical notification shape produced by the normalizer and
// consumed by both delivery paths and the click router.
type Payload struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag"`
	Data               map[string]any `json:"data,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
	Silent             bool           `json:"silent,omitempty"`
}

// URL returns data.url, or "" when absent.
func (p *Payload) URL() string {
	if p == nil || p.Data == nil {
		return ""
	}
	return cast.ToString(p.Data["url"])
}

// Display shows native notifications.
type Display interface {
	// Supported reports whether native notifications exist at all.
	Supported() bool
	// Permitted reports whether the user currently allows them.
	Permitted() bool
	Show(ctx context.Context, p *Payload) error
}

// WindowClient is an open window of the application.
type WindowClient interface {
	ID() string
	URL() string
	Focus(ctx context.Context) error
}

// Clients enumerates and opens application windows.
type Clients interface {
	// MatchAll lists open windows. includeUncontrolled also returns windows
	// not yet controlled by the service worker.
	MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error)
	OpenWindow(ctx context.Context, url string) (WindowClient, error)
}

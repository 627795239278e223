package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// RouteResult reports how a click was handled.
type RouteResult struct {
	Action   string `json:"action"` // "focused" or "opened"
	URL      string `json:"url"`
	ClientID string `json:"clientId,omitempty"`
}

const (
	ActionFocused = "focused"
	ActionOpened  = "opened"
)

// Router sends the user to the page a clicked notification points at.
type Router struct {
	origin       *url.URL
	defaultRoute string
	clients      Clients
}

func NewRouter(origin, defaultRoute string, clients Clients) (*Router, error) {
	o, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin: %w", err)
	}
	if o.Scheme == "" || o.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	if defaultRoute == "" {
		defaultRoute = DefaultRoute
	}
	return &Router{
		origin:       &url.URL{Scheme: o.Scheme, Host: o.Host},
		defaultRoute: defaultRoute,
		clients:      clients,
	}, nil
}

// Resolve returns the absolute click target: data.url, or the default route,
// resolved against the origin.
func (r *Router) Resolve(p *Payload) *url.URL {
	if target := strings.TrimSpace(p.URL()); target != "" {
		if ref, err := url.Parse(target); err == nil {
			return r.origin.ResolveReference(ref)
		}
		slog.Warn("ignoring malformed notification url", "url", target)
	}
	ref, _ := url.Parse(r.defaultRoute)
	return r.origin.ResolveReference(ref)
}

// Route focuses the first open window showing the target page, or opens one.
func (r *Router) Route(ctx context.Context, p *Payload) (RouteResult, error) {
	target := r.Resolve(p)

	windows, err := r.clients.MatchAll(ctx, true)
	if err != nil {
		return RouteResult{}, fmt.Errorf("listing window clients: %w", err)
	}
	for _, w := range windows {
		u, err := url.Parse(w.URL())
		if err != nil || !samePage(u, target) {
			continue
		}
		if err := w.Focus(ctx); err != nil {
			return RouteResult{}, fmt.Errorf("focusing window %s: %w", w.ID(), err)
		}
		return RouteResult{Action: ActionFocused, URL: w.URL(), ClientID: w.ID()}, nil
	}

	w, err := r.clients.OpenWindow(ctx, target.String())
	if err != nil {
		return RouteResult{}, fmt.Errorf("opening window at %s: %w", target, err)
	}
	res := RouteResult{Action: ActionOpened, URL: target.String()}
	if w != nil {
		res.ClientID = w.ID()
	}
	return res, nil
}

// samePage compares origin and path. Query and fragment are ignored.
func samePage(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Host, b.Host) &&
		normalizePath(a.Path) == normalizePath(b.Path)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

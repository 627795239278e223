package notification

import (
	"context"
	"log/slog"

	"leadwire/internal/domain/events"
)

// Foreground delivers push messages that arrive while the app is open. A
// payload is never dropped: when native notifications cannot be shown it is
// surfaced as an in-app toast.
type Foreground struct {
	normalizer *Normalizer
	display    Display
	bus        *events.Bus
}

func NewForeground(normalizer *Normalizer, display Display, bus *events.Bus) *Foreground {
	return &Foreground{normalizer: normalizer, display: display, bus: bus}
}

// Deliver normalizes raw and shows it. native reports whether the OS
// displayed it; otherwise a toast event was published.
func (f *Foreground) Deliver(ctx context.Context, raw []byte) (p *Payload, native bool) {
	p = f.normalizer.Normalize(raw)
	f.bus.Publish(events.Event{Topic: events.TopicNotificationShown, Payload: p})

	if f.display != nil && f.display.Supported() && f.display.Permitted() {
		err := f.display.Show(ctx, p)
		if err == nil {
			return p, true
		}
		slog.Warn("native notification failed, falling back to toast", "tag", p.Tag, "error", err)
	}

	f.bus.Publish(events.Event{Topic: events.TopicNotificationToast, Payload: p})
	return p, false
}

package push

import (
	"context"
	"log/slog"
	"time"

	"leadwire/internal/domain/events"
)

// ReconcilerConfig holds configuration for the subscription reconciler.
type ReconcilerConfig struct {
	// Interval is how often the stored preference is compared with the
	// platform.
	Interval time.Duration
}

// SweepResult describes what one reconciliation pass did.
type SweepResult string

const (
	SweepIdle         SweepResult = "idle"
	SweepInSync       SweepResult = "in_sync"
	SweepRevoked      SweepResult = "revoked"
	SweepResubscribed SweepResult = "resubscribed"
	SweepFailed       SweepResult = "failed"
)

// Reconciler keeps the "notifications enabled" preference honest. The
// platform is the source of truth: permission revoked in browser settings
// clears the preference, and a subscription the browser dropped while the
// user still opts in is recreated.
type Reconciler struct {
	manager *Manager
	config  ReconcilerConfig
}

func NewReconciler(manager *Manager, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Reconciler{manager: manager, config: cfg}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("reconciler started", "interval", r.config.Interval)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) SweepResult {
	prefs := r.manager.Preferences()
	enabled, err := prefs.Enabled(ctx)
	if err != nil {
		slog.Error("reconciler: failed to read preference", "error", err)
		return SweepFailed
	}
	if !enabled {
		return SweepIdle
	}

	state, err := r.manager.State(ctx)
	if err != nil {
		slog.Error("reconciler: failed to read push state", "error", err)
		return SweepFailed
	}

	switch state {
	case StateSubscribed:
		return SweepInSync
	case StatePermissionGranted:
		if _, err := r.manager.Subscribe(ctx); err != nil {
			slog.Error("reconciler: failed to restore subscription", "error", err)
			return SweepFailed
		}
		slog.Info("reconciler: restored lost subscription")
		return SweepResubscribed
	default:
		if err := prefs.SetEnabled(ctx, false); err != nil {
			slog.Error("reconciler: failed to clear preference", "error", err)
			return SweepFailed
		}
		slog.Warn("reconciler: notifications disabled outside the app", "state", state)
		r.manager.bus.Publish(events.Event{Topic: events.TopicSubscriptionChanged, Payload: state})
		return SweepRevoked
	}
}

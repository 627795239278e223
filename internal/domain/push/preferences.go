package push

import (
	"context"
	"errors"
	"fmt"

	"leadwire/internal/infra/localstore"
)

const enabledKey = "notificationsEnabled"

// Preferences persists whether the user opted in to notifications.
type Preferences struct {
	storage localstore.Storage
}

func NewPreferences(storage localstore.Storage) *Preferences {
	return &Preferences{storage: storage}
}

func (p *Preferences) Enabled(ctx context.Context) (bool, error) {
	var enabled bool
	if err := p.storage.Get(ctx, enabledKey, &enabled); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reading notification preference: %w", err)
	}
	return enabled, nil
}

func (p *Preferences) SetEnabled(ctx context.Context, enabled bool) error {
	if !enabled {
		if err := p.storage.Delete(ctx, enabledKey); err != nil {
			return fmt.Errorf("clearing notification preference: %w", err)
		}
		return nil
	}
	if err := p.storage.Set(ctx, enabledKey, true); err != nil {
		return fmt.Errorf("storing notification preference: %w", err)
	}
	return nil
}

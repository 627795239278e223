// Package breaker implements scoped circuit breakers fed by classified
// request outcomes.
//
// A scope moves CLOSED -> OPEN once enough consecutive infrastructure
// failures (NETWORK, SERVER, NOT_FOUND) accumulate, and enters a cooldown
// window at a stricter ceiling. During cooldown Allow rejects calls locally.
// When the window elapses calls are admitted again and the next recorded
// outcome decides: success closes the scope, failure starts a new window.
package breaker

import (
	"sync"
	"time"

	"leadwire/internal/common"
	"leadwire/internal/domain/events"
)

// State is the externally visible breaker state.
type State string

const (
	StateClosed      State = "CLOSED"
	StateOpen        State = "OPEN"
	StateCoolingDown State = "COOLING_DOWN"
)

// Config holds the thresholds of one breaker.
type Config struct {
	// OpenThreshold is the number of consecutive failures that opens the
	// breaker and raises the connection-issue affordance.
	OpenThreshold int
	// CooldownThreshold is the number of consecutive failures that starts a
	// cooldown window during which calls are rejected without a network call.
	CooldownThreshold int
	Cooldown          time.Duration
}

// LocalDefaults are the per-query thresholds.
func LocalDefaults() Config {
	return Config{OpenThreshold: 2, CooldownThreshold: 3, Cooldown: 30 * time.Second}
}

// GlobalDefaults are the client-wide thresholds.
func GlobalDefaults() Config {
	return Config{OpenThreshold: 3, CooldownThreshold: 5, Cooldown: 30 * time.Second}
}

func (c Config) withDefaults(def Config) Config {
	if c.OpenThreshold <= 0 {
		c.OpenThreshold = def.OpenThreshold
	}
	if c.CooldownThreshold <= 0 {
		c.CooldownThreshold = def.CooldownThreshold
	}
	if c.CooldownThreshold < c.OpenThreshold {
		c.CooldownThreshold = c.OpenThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// Counter is a point-in-time view of a breaker.
type Counter struct {
	Scope             string
	State             State
	Count             int
	LastErrorAt       time.Time
	LastClass         common.ErrorClass
	CooldownRemaining time.Duration
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithBus publishes state transitions on bus.
func WithBus(bus *events.Bus) Option {
	return func(b *Breaker) { b.bus = bus }
}

// Breaker is the failure counter of one scope.
type Breaker struct {
	mu            sync.Mutex
	name          string
	cfg           Config
	now           func() time.Time
	bus           *events.Bus
	count         int
	lastErrorAt   time.Time
	lastClass     common.ErrorClass
	open          bool
	cooldownUntil time.Time
}

// New creates a closed breaker for the named scope.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name: name,
		cfg:  cfg.withDefaults(LocalDefaults()),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the scope name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow returns a *common.CooldownError while the scope is cooling down.
// Outside the window it returns nil. Once the window expires every caller is
// admitted again until an outcome is recorded; there is no half-open gate.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Before(b.cooldownUntil) {
		return common.NewCooldownError(b.name, b.cooldownUntil.Sub(now))
	}
	return nil
}

// Record feeds one classified failure into the breaker and returns the
// resulting state. Successes should go through Success.
func (b *Breaker) Record(class common.ErrorClass) State {
	state, pending := b.record(class)
	b.publish(pending)
	return state
}

// record applies class and returns the transitions to publish. Callers
// publish after releasing their own locks.
func (b *Breaker) record(class common.ErrorClass) (State, []events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var pending []events.Event

	switch {
	case class == common.ClassClient:
		// The backend answered; a bad request says nothing about reachability.
		b.count = 0
		if b.open {
			b.open = false
			pending = append(pending, b.event(events.TopicConnectionRestored))
		}
	case class.CountsTowardBreaker():
		now := b.now()
		b.count++
		b.lastErrorAt = now
		b.lastClass = class

		if !b.open && (class == common.ClassNotFound || b.count >= b.cfg.OpenThreshold) {
			b.open = true
			pending = append(pending, b.event(events.TopicConnectionIssue))
		}
		if b.count >= b.cfg.CooldownThreshold {
			b.open = true
			b.cooldownUntil = now.Add(b.cfg.Cooldown)
			pending = append(pending, b.event(events.TopicConnectionCooldown))
		}
	}

	return b.stateLocked(), pending
}

// Success resets the counter and closes the breaker.
func (b *Breaker) Success() {
	b.publish(b.success())
}

func (b *Breaker) success() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var pending []events.Event
	wasOpen := b.open
	b.count = 0
	b.open = false
	b.cooldownUntil = time.Time{}
	if wasOpen {
		pending = append(pending, b.event(events.TopicConnectionRestored))
	}
	return pending
}

// Reset starts a new intent: the counter and the open flag are cleared.
// A running cooldown window is wall-clock bound and survives the reset.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
	b.open = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Snapshot returns the counter of this scope.
func (b *Breaker) Snapshot() Counter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) stateLocked() State {
	if b.now().Before(b.cooldownUntil) {
		return StateCoolingDown
	}
	if b.open {
		return StateOpen
	}
	return StateClosed
}

func (b *Breaker) snapshotLocked() Counter {
	c := Counter{
		Scope:       b.name,
		State:       b.stateLocked(),
		Count:       b.count,
		LastErrorAt: b.lastErrorAt,
		LastClass:   b.lastClass,
	}
	if now := b.now(); now.Before(b.cooldownUntil) {
		c.CooldownRemaining = b.cooldownUntil.Sub(now)
	}
	return c
}

// event must be called with b.mu held.
func (b *Breaker) event(topic events.Topic) events.Event {
	return events.Event{Topic: topic, Scope: b.name, Payload: b.snapshotLocked(), At: b.now()}
}

func (b *Breaker) publish(pending []events.Event) {
	for _, ev := range pending {
		b.bus.Publish(ev)
	}
}

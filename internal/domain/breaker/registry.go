package breaker

import (
	"sync"

	"leadwire/internal/domain/events"
)

// GlobalScope names the client-wide breaker.
const GlobalScope = "global"

// Registry owns the global breaker and lazily creates one local breaker per
// feature query scope.
type Registry struct {
	mu       sync.Mutex
	global   *Breaker
	local    map[string]*Breaker
	localCfg Config
	opts     []Option
}

// NewRegistry creates a registry. opts apply to every breaker it creates.
func NewRegistry(globalCfg, localCfg Config, bus *events.Bus, opts ...Option) *Registry {
	opts = append([]Option{WithBus(bus)}, opts...)
	return &Registry{
		global:   New(GlobalScope, globalCfg.withDefaults(GlobalDefaults()), opts...),
		local:    make(map[string]*Breaker),
		localCfg: localCfg.withDefaults(LocalDefaults()),
		opts:     opts,
	}
}

// Global returns the client-wide breaker.
func (r *Registry) Global() *Breaker {
	return r.global
}

// Scope returns the local breaker for name, creating it on first use.
func (r *Registry) Scope(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.local[name]
	if !ok {
		b = New(name, r.localCfg, r.opts...)
		r.local[name] = b
	}
	return b
}

// Snapshot returns the global counter followed by every local one.
func (r *Registry) Snapshot() []Counter {
	r.mu.Lock()
	locals := make([]*Breaker, 0, len(r.local))
	for _, b := range r.local {
		locals = append(locals, b)
	}
	r.mu.Unlock()

	out := []Counter{r.global.Snapshot()}
	for _, b := range locals {
		out = append(out, b.Snapshot())
	}
	return out
}

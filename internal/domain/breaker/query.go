package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadwire/internal/common"
	"leadwire/internal/domain/events"
)

// ErrSuperseded is returned to a fetch whose parameters were replaced while
// it was in flight. Its result was discarded.
var ErrSuperseded = errors.New("result superseded by newer query parameters")

// Fetcher loads the data of a feature query for params.
type Fetcher[P comparable, T any] func(ctx context.Context, params P) (T, error)

// View is the visible state of a query.
type View[P comparable, T any] struct {
	Params     P
	Data       T
	HasData    bool
	Err        error
	Loading    bool
	Dialog     bool
	Cooldown   time.Duration
	Generation uint64
}

// Query is one feature screen's data scope: its current parameters
// (filters, page), its local breaker and the last applied result.
//
// Every parameter change bumps the generation. A fetch captures the
// generation it started with and may only update the view if it still
// matches on completion.
type Query[P comparable, T any] struct {
	mu         sync.Mutex
	local      *Breaker
	global     *Breaker
	fetch      Fetcher[P, T]
	params     P
	generation uint64
	view       View[P, T]
}

// NewQuery creates a query scope named name with initial params.
func NewQuery[P comparable, T any](reg *Registry, name string, params P, fetch Fetcher[P, T]) *Query[P, T] {
	return &Query[P, T]{
		local:  reg.Scope(name),
		global: reg.Global(),
		fetch:  fetch,
		params: params,
		view:   View[P, T]{Params: params},
	}
}

// Params returns the active parameters.
func (q *Query[P, T]) Params() P {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.params
}

// SetParams switches the query to new parameters. A change is a new intent:
// the local failure counter resets and any fetch still in flight for the old
// parameters becomes stale. Returns false if params are unchanged.
func (q *Query[P, T]) SetParams(params P) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if params == q.params {
		return false
	}
	q.params = params
	q.generation++
	q.local.Reset()
	q.view = View[P, T]{Params: params, Generation: q.generation}
	return true
}

// Fetch loads data for the active parameters. While the local breaker cools
// down it fails fast with a *common.CooldownError and no fetch happens.
func (q *Query[P, T]) Fetch(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	gen, params := q.generation, q.params
	if err := q.local.Allow(); err != nil {
		q.applyFailureLocked(err)
		q.mu.Unlock()
		return zero, err
	}
	q.view.Loading = true
	q.mu.Unlock()

	data, err := q.fetch(ctx, params)

	// Breaker transitions are published after q.mu is released so bus
	// handlers may read the view.
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return zero, ErrSuperseded
	}
	q.view.Loading = false

	if err != nil {
		var pending []events.Event
		// A cooldown elsewhere never reached the network; don't count it here.
		var cooldown *common.CooldownError
		if !errors.As(err, &cooldown) {
			_, pending = q.local.record(common.ClassOf(err))
		}
		q.applyFailureLocked(err)
		q.mu.Unlock()
		q.local.publish(pending)
		return zero, err
	}

	localPending := q.local.success()
	globalPending := q.global.success()
	q.view = View[P, T]{
		Params:     params,
		Data:       data,
		HasData:    true,
		Generation: gen,
	}
	q.mu.Unlock()
	q.local.publish(localPending)
	q.global.publish(globalPending)
	return data, nil
}

// Retry is the manual retry action of the connection-issue dialog.
func (q *Query[P, T]) Retry(ctx context.Context) (T, error) {
	return q.Fetch(ctx)
}

// View returns the visible state.
func (q *Query[P, T]) View() View[P, T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.view
}

// Counter returns the local breaker counter.
func (q *Query[P, T]) Counter() Counter {
	return q.local.Snapshot()
}

func (q *Query[P, T]) applyFailureLocked(err error) {
	snap := q.local.Snapshot()
	q.view.Loading = false
	q.view.Err = err
	q.view.Dialog = snap.State != StateClosed
	q.view.Cooldown = snap.CooldownRemaining
}

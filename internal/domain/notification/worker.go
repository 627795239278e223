package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrWorkerStopped is returned for events that arrive after Drain began.
var ErrWorkerStopped = errors.New("service worker is shutting down")

// ServiceWorker is the background runtime: it shows pushed notifications,
// routes clicks and reacts to page messages. Event work runs through
// WaitUntil so shutdown can wait for it.
type ServiceWorker struct {
	normalizer *Normalizer
	display    Display
	router     *Router

	wg         sync.WaitGroup
	mu         sync.Mutex
	draining   bool
	onActivate func()
}

func NewServiceWorker(normalizer *Normalizer, display Display, router *Router) *ServiceWorker {
	return &ServiceWorker{normalizer: normalizer, display: display, router: router}
}

// OnActivate sets the hook run when the page asks a waiting worker to take over.
func (sw *ServiceWorker) OnActivate(fn func()) {
	sw.mu.Lock()
	sw.onActivate = fn
	sw.mu.Unlock()
}

// WaitUntil runs fn in the background, detached from ctx cancellation, and
// returns a channel receiving its result. Failures and panics are logged.
func (sw *ServiceWorker) WaitUntil(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	sw.mu.Lock()
	if sw.draining {
		sw.mu.Unlock()
		done <- ErrWorkerStopped
		return done
	}
	sw.wg.Add(1)
	sw.mu.Unlock()

	workCtx := context.WithoutCancel(ctx)
	go func() {
		defer sw.wg.Done()
		start := time.Now()

		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
			if err != nil {
				slog.Error("service worker task failed", "task", name, "error", err, "duration", time.Since(start))
			}
			done <- err
		}()
		err = fn(workCtx)
	}()
	return done
}

// Drain stops accepting events and waits for outstanding work.
func (sw *ServiceWorker) Drain(ctx context.Context) error {
	sw.mu.Lock()
	sw.draining = true
	sw.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		sw.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining service worker: %w", ctx.Err())
	}
}

// HandlePush shows the notification carried by raw. The caller may stop
// waiting when ctx ends; the display work still completes.
func (sw *ServiceWorker) HandlePush(ctx context.Context, raw []byte) (*Payload, error) {
	p := sw.normalizer.Normalize(raw)
	done := sw.WaitUntil(ctx, "push", func(ctx context.Context) error {
		if err := sw.display.Show(ctx, p); err != nil {
			return fmt.Errorf("showing notification %s: %w", p.Tag, err)
		}
		slog.Info("notification shown", "tag", p.Tag, "title", p.Title)
		return nil
	})
	return p, wait(ctx, done)
}

// HandleClick routes a clicked notification to its page.
func (sw *ServiceWorker) HandleClick(ctx context.Context, p *Payload) (RouteResult, error) {
	var res RouteResult
	done := sw.WaitUntil(ctx, "click", func(ctx context.Context) error {
		r, err := sw.router.Route(ctx, p)
		if err != nil {
			return err
		}
		res = r
		slog.Info("notification click routed", "tag", p.Tag, "action", r.Action, "url", r.URL)
		return nil
	})
	if err := wait(ctx, done); err != nil {
		return RouteResult{}, err
	}
	return res, nil
}

// HandleMessage reacts to page messages. Unknown types are ignored.
func (sw *ServiceWorker) HandleMessage(_ context.Context, msg WorkerMessage) {
	switch msg.Type {
	case MessageSkipWaiting:
		sw.mu.Lock()
		hook := sw.onActivate
		sw.mu.Unlock()
		slog.Info("skip waiting requested, activating")
		if hook != nil {
			hook()
		}
	default:
		slog.Debug("ignoring unknown worker message", "type", msg.Type)
	}
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

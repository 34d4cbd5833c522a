package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
)

// ExtendableEvent carries deferred work registered by a handler. The host
// calls Wait to learn when, and whether, all of it completed.
type ExtendableEvent struct {
	ctx     context.Context
	waitCtx context.Context

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func (e *ExtendableEvent) init(ctx context.Context, detached bool) {
	e.ctx = ctx
	e.waitCtx = ctx
	if detached {
		e.waitCtx = context.WithoutCancel(ctx)
	}
}

// Context returns the context the event was dispatched with.
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil runs fn on its own goroutine and extends the event until it
// returns.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(e.waitCtx); err != nil {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		}
	}()
}

// Wait blocks until every WaitUntil function returned and joins their errors.
func (e *ExtendableEvent) Wait() error {
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

// InstallEvent is dispatched once per controller version before activation.
type InstallEvent struct {
	ExtendableEvent
	skipWaiting atomic.Bool
}

// NewInstallEvent creates an install event.
func NewInstallEvent(ctx context.Context) *InstallEvent {
	ev := &InstallEvent{}
	ev.init(ctx, false)
	return ev
}

// SkipWaiting asks the host to activate this version as soon as install
// succeeds instead of waiting for clients of the previous version to close.
func (e *InstallEvent) SkipWaiting() {
	e.skipWaiting.Store(true)
}

// SkipWaitingRequested reports whether SkipWaiting was called.
func (e *InstallEvent) SkipWaitingRequested() bool {
	return e.skipWaiting.Load()
}

// Clients is the host handle over the pages served by a registration.
type Clients interface {
	// Claim routes every open client through the calling controller.
	Claim(ctx context.Context) error
}

// ClientsFunc adapts a function to the Clients interface.
type ClientsFunc func(ctx context.Context) error

// Claim calls f(ctx).
func (f ClientsFunc) Claim(ctx context.Context) error {
	return f(ctx)
}

// ActivateEvent is dispatched when a controller version becomes active.
type ActivateEvent struct {
	ExtendableEvent
	Clients Clients
}

// NewActivateEvent creates an activate event. clients may be nil.
func NewActivateEvent(ctx context.Context, clients Clients) *ActivateEvent {
	ev := &ActivateEvent{Clients: clients}
	ev.init(ctx, false)
	return ev
}

// Outcome is the terminal state of one intercepted request.
type Outcome string

const (
	// OutcomePassthrough means the request was not intercepted.
	OutcomePassthrough Outcome = "passthrough"

	// OutcomeCache means a stored snapshot answered the request.
	OutcomeCache Outcome = "served-from-cache"

	// OutcomeNetwork means the live response was returned without caching.
	OutcomeNetwork Outcome = "served-from-network"

	// OutcomeNetworkThenCached means the live response was returned and a
	// copy scheduled for storage.
	OutcomeNetworkThenCached Outcome = "served-from-network-then-cached"

	// OutcomeFallback means the configured fallback resource was served.
	OutcomeFallback Outcome = "served-fallback"

	// OutcomeFailed means network, cache and fallback all failed.
	OutcomeFailed Outcome = "failed"
)

// FetchEvent is one intercepted request. Work registered with WaitUntil
// (cache writes) is detached from the request context so it survives the
// caller going away.
type FetchEvent struct {
	ExtendableEvent
	Request *cache.Request

	outcome atomic.Value
}

// NewFetchEvent creates a fetch event for req.
func NewFetchEvent(ctx context.Context, req *cache.Request) *FetchEvent {
	ev := &FetchEvent{Request: req}
	ev.init(ctx, true)
	return ev
}

// Outcome returns how the request was resolved, or "" before handling.
func (e *FetchEvent) Outcome() Outcome {
	o, _ := e.outcome.Load().(Outcome)
	return o
}

func (e *FetchEvent) setOutcome(o Outcome) {
	e.outcome.Store(o)
}

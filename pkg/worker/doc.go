// Package worker implements the cache controller: a versioned unit that
// pre-caches a manifest on install, deletes stale partitions on activate
// and answers intercepted GET requests with a network-first or cache-first
// strategy.
//
// Lifecycle events follow the extendable-event model. Handlers register
// deferred work with WaitUntil and the host waits for it:
//
//	ctrl, _ := worker.NewController(cfg, storage, fetcher)
//
//	install := worker.NewInstallEvent(ctx)
//	ctrl.Install(install)
//	if err := install.Wait(); err != nil {
//	    // keep the previous controller
//	}
//
//	ev := worker.NewFetchEvent(r.Context(), req)
//	resp, handled, err := ctrl.HandleFetch(ev)
//
// Runtime cache writes are scheduled on the fetch event and run detached
// from the request context. A response is only written when it is a 200
// and not opaque; the delivered response and the stored one are
// independent copies.
package worker

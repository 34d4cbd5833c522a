package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/Sternrassler/offline-asset-cache/pkg/client"
	"github.com/Sternrassler/offline-asset-cache/pkg/logging"
	"github.com/Sternrassler/offline-asset-cache/pkg/precache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrOffline is returned when neither the network, the cache nor the
// fallback could answer a request.
var ErrOffline = errors.New("offline: no network, cache or fallback response")

// Controller is one version of the cache controller. It pre-caches the
// manifest on install, deletes stale partitions on activate and answers
// intercepted GET requests.
type Controller struct {
	config   Config
	storage  cache.Storage
	fetcher  client.Fetcher
	precache *precache.BatchFetcher
	manifest []*cache.Request
	fallback *cache.Request
	logger   zerolog.Logger
}

// NewController creates a controller for the validated configuration.
func NewController(cfg Config, storage cache.Storage, fetcher client.Fetcher) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}

	cfg = cfg.clone()
	manifest, err := precache.Requests(cfg.Scope, cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest: %w", err)
	}
	fallback, err := precache.Requests(cfg.Scope, []string{cfg.fallbackPath()})
	if err != nil {
		return nil, fmt.Errorf("resolve fallback: %w", err)
	}

	logger := logging.NewLogger("controller").With().Str("version", cfg.Version).Logger()

	inManifest := false
	for _, req := range manifest {
		if cache.KeyFor(req) == cache.KeyFor(fallback[0]) {
			inManifest = true
			break
		}
	}
	if !inManifest {
		logger.Warn().
			Str("fallback", fallback[0].URL.String()).
			Msg("Fallback resource is not in the manifest and may never be cached")
	}

	pcfg := precache.DefaultConfig()
	if cfg.PrecacheConcurrency > 0 {
		pcfg.MaxConcurrency = cfg.PrecacheConcurrency
	}

	return &Controller{
		config:   cfg,
		storage:  storage,
		fetcher:  fetcher,
		precache: precache.NewBatchFetcher(fetcher, pcfg),
		manifest: manifest,
		fallback: fallback[0],
		logger:   logger,
	}, nil
}

// Version returns the partition name owned by this controller.
func (c *Controller) Version() string {
	return c.config.Version
}

// Manifest returns the resolved manifest requests.
func (c *Controller) Manifest() []*cache.Request {
	return append([]*cache.Request(nil), c.manifest...)
}

// Config returns a copy of the controller configuration.
func (c *Controller) Config() Config {
	return c.config.clone()
}

// Install pre-caches the manifest into the current partition and requests
// immediate activation unless WaitForClients is set. The install fails as a
// whole if any manifest entry cannot be fetched; the host learns the result
// from ev.Wait.
func (c *Controller) Install(ev *InstallEvent) {
	ev.WaitUntil(func(ctx context.Context) error {
		start := time.Now()
		partition, err := c.storage.Open(ctx, c.config.Version)
		if err != nil {
			return fmt.Errorf("open partition %s: %w", c.config.Version, err)
		}
		if err := c.precache.AddAll(ctx, partition, c.manifest); err != nil {
			return fmt.Errorf("install %s: %w", c.config.Version, err)
		}
		c.logger.Info().
			Int("entries", len(c.manifest)).
			Dur("duration", time.Since(start)).
			Msg("Controller installed")
		return nil
	})
	if !c.config.WaitForClients {
		ev.SkipWaiting()
	}
}

// Activate deletes every partition other than the current one in parallel
// and then claims the open clients unless WaitForClients is set.
func (c *Controller) Activate(ev *ActivateEvent) {
	ev.WaitUntil(func(ctx context.Context) error {
		names, err := c.storage.Keys(ctx)
		if err != nil {
			return fmt.Errorf("list partitions: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, name := range names {
			if name == c.config.Version {
				continue
			}
			name := name
			g.Go(func() error {
				if _, err := c.storage.Delete(gctx, name); err != nil {
					return fmt.Errorf("delete partition %s: %w", name, err)
				}
				stalePartitionsDeleted.Inc()
				c.logger.Info().Str("partition", name).Msg("Deleted stale partition")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if ev.Clients != nil && !c.config.WaitForClients {
			if err := ev.Clients.Claim(ctx); err != nil {
				return fmt.Errorf("claim clients: %w", err)
			}
		}
		c.logger.Info().Msg("Controller activated")
		return nil
	})
}

// HandleFetch intercepts one request. It returns handled=false for
// requests the controller does not intercept (anything but GET); those go
// to the network untouched. For handled requests either a response or an
// error wrapping ErrOffline is returned.
func (c *Controller) HandleFetch(ev *FetchEvent) (resp *cache.Response, handled bool, err error) {
	req := ev.Request
	if req == nil || req.Method != http.MethodGet {
		ev.setOutcome(OutcomePassthrough)
		fetchEventsTotal.WithLabelValues("none", string(OutcomePassthrough)).Inc()
		return nil, false, nil
	}

	start := time.Now()
	strategy := c.strategyFor(req)

	var outcome Outcome
	switch strategy {
	case NetworkFirst:
		resp, outcome, err = c.networkFirst(ev)
	default:
		resp, outcome, err = c.cacheFirst(ev)
	}

	ev.setOutcome(outcome)
	fetchEventsTotal.WithLabelValues(string(strategy), string(outcome)).Inc()
	fetchDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())

	logEvent := c.logger.Debug()
	if outcome == OutcomeFailed {
		logEvent = c.logger.Warn().Err(err)
	}
	logEvent.
		Str("url", req.URL.String()).
		Str("mode", string(req.Mode)).
		Str("strategy", string(strategy)).
		Str("outcome", string(outcome)).
		Dur("duration", time.Since(start)).
		Msg("Request intercepted")

	return resp, true, err
}

func (c *Controller) strategyFor(req *cache.Request) Strategy {
	if req.IsNavigation() {
		return c.config.Navigation
	}
	return c.config.Assets
}

func (c *Controller) networkFirst(ev *FetchEvent) (*cache.Response, Outcome, error) {
	ctx := ev.Context()
	req := ev.Request

	resp, fetchErr := c.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		if c.storeInBackground(ev, req, resp) {
			return resp, OutcomeNetworkThenCached, nil
		}
		return resp, OutcomeNetwork, nil
	}

	c.logger.Debug().
		Err(fetchErr).
		Str("url", req.URL.String()).
		Msg("Network failed, trying cache")

	if cached, ok := c.match(ctx, req); ok {
		return cached, OutcomeCache, nil
	}
	return c.serveFallback(ctx, req, fetchErr)
}

func (c *Controller) cacheFirst(ev *FetchEvent) (*cache.Response, Outcome, error) {
	ctx := ev.Context()
	req := ev.Request

	if cached, ok := c.match(ctx, req); ok {
		return cached, OutcomeCache, nil
	}

	resp, fetchErr := c.fetcher.Fetch(ctx, req)
	if fetchErr != nil {
		return c.serveFallback(ctx, req, fetchErr)
	}
	if c.storeInBackground(ev, req, resp) {
		return resp, OutcomeNetworkThenCached, nil
	}
	return resp, OutcomeNetwork, nil
}

// serveFallback resolves the configured last-resort response after the
// network and the cache both failed.
func (c *Controller) serveFallback(ctx context.Context, req *cache.Request, cause error) (*cache.Response, Outcome, error) {
	if c.config.Fallback == FallbackRootDocument && !req.IsNavigation() {
		return nil, OutcomeFailed, fmt.Errorf("%w: %w", ErrOffline, cause)
	}

	if resp, ok := c.match(ctx, c.fallback); ok {
		return resp, OutcomeFallback, nil
	}
	return nil, OutcomeFailed, fmt.Errorf("%w: fallback %s not cached: %w", ErrOffline, c.fallback.URL, cause)
}

// match looks the request up across all partitions. Storage errors count
// as a miss so a broken backend degrades to network-only behaviour.
func (c *Controller) match(ctx context.Context, req *cache.Request) (*cache.Response, bool) {
	resp, err := c.storage.Match(ctx, req)
	if err == nil {
		return resp, true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().
			Err(err).
			Str("url", req.URL.String()).
			Msg("Cache lookup failed - treating as miss")
	}
	return nil, false
}

// Cacheable reports whether a network response may be stored at runtime:
// status 200 and not opaque.
func Cacheable(resp *cache.Response) bool {
	return resp != nil &&
		resp.Status == http.StatusOK &&
		resp.Type != cache.TypeOpaque &&
		resp.Type != cache.TypeError
}

// storeInBackground clones a cacheable response and writes the copy to the
// current partition under ev.WaitUntil. The caller keeps the original for
// delivery. It reports whether a write was scheduled.
func (c *Controller) storeInBackground(ev *FetchEvent, req *cache.Request, resp *cache.Response) bool {
	if !Cacheable(resp) {
		return false
	}

	copied, err := resp.Clone()
	if err != nil {
		backgroundWritesTotal.WithLabelValues("clone_error").Inc()
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Failed to clone response for caching")
		return false
	}

	ev.WaitUntil(func(ctx context.Context) error {
		partition, err := c.storage.Open(ctx, c.config.Version)
		if err == nil {
			err = partition.Put(ctx, req, copied)
		}
		if err != nil {
			backgroundWritesTotal.WithLabelValues("error").Inc()
			c.logger.Warn().
				Err(err).
				Str("url", req.URL.String()).
				Msg("Background cache write failed")
			return fmt.Errorf("cache %s: %w", req.URL, err)
		}
		backgroundWritesTotal.WithLabelValues("success").Inc()
		return nil
	})
	return true
}

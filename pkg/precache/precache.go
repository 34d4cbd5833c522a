package precache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/Sternrassler/offline-asset-cache/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBadResponse is returned when a manifest entry does not resolve to an ok response
	ErrBadResponse = errors.New("precache: response is not ok")

	// ErrDuplicateRequest is returned when the same identity appears twice in a batch
	ErrDuplicateRequest = errors.New("precache: duplicate request in batch")
)

var (
	precacheEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetcache_precache_entries_total",
		Help: "Manifest entries fetched during install by result",
	}, []string{"result"})

	precacheDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assetcache_precache_duration_seconds",
		Help:    "Duration of a complete manifest bulk add",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel manifest fetches
	MaxConcurrency int
}

// DefaultConfig returns the default batch configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
	}
}

// BatchFetcher fetches and commits a batch of requests
type BatchFetcher struct {
	fetcher client.Fetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher client.Fetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// Requests resolves manifest paths against the scope URL as GET requests.
func Requests(scope *url.URL, paths []string) ([]*cache.Request, error) {
	reqs := make([]*cache.Request, 0, len(paths))
	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse manifest path %q: %w", p, err)
		}
		req, err := cache.NewRequest("GET", scope.ResolveReference(ref).String(), cache.ModeNoCORS)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// FetchAll fetches every request and returns the pairs in input order.
// If any fetch fails or any response is not ok, every fetched response is
// released and the first error is returned.
func (bf *BatchFetcher) FetchAll(ctx context.Context, reqs []*cache.Request) ([]cache.Pair, error) {
	seen := make(map[cache.Key]struct{}, len(reqs))
	for _, req := range reqs {
		key := cache.KeyFor(req)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, key)
		}
		seen[key] = struct{}{}
	}

	pairs := make([]cache.Pair, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := bf.fetcher.Fetch(gctx, req)
			if err != nil {
				precacheEntriesTotal.WithLabelValues("fetch_error").Inc()
				var fetchErr *client.FetchError
				if errors.As(err, &fetchErr) {
					// already names the url
					return err
				}
				return fmt.Errorf("fetch %s: %w", req.URL, err)
			}
			if !resp.OK() {
				resp.Close()
				precacheEntriesTotal.WithLabelValues("bad_response").Inc()
				return fmt.Errorf("%w: %s returned %d (%s)", ErrBadResponse, req.URL, resp.Status, resp.Type)
			}
			precacheEntriesTotal.WithLabelValues("ok").Inc()
			pairs[i] = cache.Pair{Request: req, Response: resp}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, p := range pairs {
			if p.Response != nil {
				p.Response.Close()
			}
		}
		return nil, err
	}
	return pairs, nil
}

// AddAll fetches every request and stores all responses in the partition
// in one atomic write.
func (bf *BatchFetcher) AddAll(ctx context.Context, partition cache.Partition, reqs []*cache.Request) error {
	start := time.Now()
	defer func() {
		precacheDuration.Observe(time.Since(start).Seconds())
	}()

	log.Info().
		Str("partition", partition.Name()).
		Int("entries", len(reqs)).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting manifest precache")

	pairs, err := bf.FetchAll(ctx, reqs)
	if err != nil {
		log.Warn().
			Err(err).
			Str("partition", partition.Name()).
			Msg("Manifest precache failed - nothing committed")
		return err
	}

	if err := partition.PutAll(ctx, pairs); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}

	log.Info().
		Str("partition", partition.Name()).
		Int("entries", len(pairs)).
		Dur("duration", time.Since(start)).
		Msg("Manifest precache complete")
	return nil
}

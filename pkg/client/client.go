// Package client provides the network side of the asset cache: a Fetcher
// that performs one HTTP request per call and classifies the provenance of
// every response (basic, cors, opaque).
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for network fetches.
var (
	networkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetcache_network_requests_total",
		Help: "Total network fetches by response type and status",
	}, []string{"type", "status"})

	networkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assetcache_network_request_duration_seconds",
		Help:    "Network fetch duration in seconds by request mode",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"mode"})

	networkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetcache_network_errors_total",
		Help: "Total rejected network fetches by class",
	}, []string{"class"})
)

// Fetcher performs a single network attempt for an intercepted request.
// A non-nil error means the fetch was rejected; HTTP error statuses are
// returned as responses.
type Fetcher interface {
	Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *cache.Request) (*cache.Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	return f(ctx, req)
}

// Config holds the fetcher configuration.
type Config struct {
	// Origin is the scope origin; responses from it are basic
	Origin *url.URL

	// Timeout is the http.Client timeout (0 disables it)
	Timeout time.Duration

	// UserAgent is sent when the request carries none
	UserAgent string

	// Transport overrides the HTTP transport (for testing)
	Transport http.RoundTripper
}

// DefaultConfig returns a configuration for the given scope origin.
func DefaultConfig(origin *url.URL) Config {
	return Config{
		Origin:    origin,
		Timeout:   30 * time.Second,
		UserAgent: "offline-asset-cache/1.0",
	}
}

// HTTPFetcher is the net/http backed Fetcher.
type HTTPFetcher struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new fetcher.
func New(cfg Config) (*HTTPFetcher, error) {
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, fmt.Errorf("absolute origin url is required")
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
	}, nil
}

// Fetch executes the request once. There is no retry: a failed attempt is
// reported to the caller, which decides on a fallback.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	startTime := time.Now()
	defer func() {
		networkRequestDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(startTime).Seconds())
	}()

	target := req.URL.String()
	crossOrigin := !SameOrigin(req.URL, f.config.Origin)

	if crossOrigin && req.Mode == cache.ModeSameOrigin {
		return nil, f.reject(target, ErrSameOriginViolation)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, nil)
	if err != nil {
		return nil, f.reject(target, err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	if httpReq.Header.Get("User-Agent") == "" && f.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.config.UserAgent)
	}
	if crossOrigin && req.Mode == cache.ModeCORS {
		httpReq.Header.Set("Origin", originString(f.config.Origin))
	}

	f.logger.Debug().
		Str("url", target).
		Str("method", req.Method).
		Str("mode", string(req.Mode)).
		Msg("Executing network fetch")

	httpResp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, f.reject(target, err)
	}

	typ := f.classifyResponse(req, httpResp, crossOrigin)
	if typ == cache.TypeError {
		httpResp.Body.Close()
		return nil, f.reject(target, ErrCORSRejected)
	}

	resp := cache.NewResponse(httpResp.StatusCode, httpResp.Header, httpResp.Body)
	resp.StatusText = httpResp.Status
	resp.Type = typ
	resp.URL = target
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		resp.URL = httpResp.Request.URL.String()
	}

	networkRequestsTotal.WithLabelValues(string(typ), strconv.Itoa(httpResp.StatusCode)).Inc()
	return resp, nil
}

// classifyResponse derives the provenance of a response from the request
// mode and the scope origin.
func (f *HTTPFetcher) classifyResponse(req *cache.Request, resp *http.Response, crossOrigin bool) cache.ResponseType {
	if !crossOrigin {
		return cache.TypeBasic
	}

	switch req.Mode {
	case cache.ModeNavigate:
		return cache.TypeBasic
	case cache.ModeCORS:
		allow := strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin"))
		if allow == "*" || strings.EqualFold(allow, originString(f.config.Origin)) {
			return cache.TypeCORS
		}
		return cache.TypeError
	default:
		return cache.TypeOpaque
	}
}

func (f *HTTPFetcher) reject(target string, err error) error {
	class := classifyError(err)
	networkErrorsTotal.WithLabelValues(string(class)).Inc()

	f.logger.Debug().
		Err(err).
		Str("url", target).
		Str("error_class", string(class)).
		Msg("Network fetch rejected")

	return &FetchError{URL: target, ErrorClass: class, Err: err}
}

// SameOrigin reports whether two URLs share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}

func originString(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + u.Host
}

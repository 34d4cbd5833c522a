// Package proxy exposes a cache controller as an http.Handler. Every GET is
// turned into an intercepted request and answered by the controller the
// router selects; everything else is forwarded to the origin.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/Sternrassler/offline-asset-cache/pkg/worker"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Response headers set by the handler.
const (
	HeaderOutcome   = "X-Asset-Cache"
	HeaderRequestID = "X-Request-ID"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "assetcache_http_requests_total",
	Help: "Total proxied HTTP requests by outcome and status code",
}, []string{"outcome", "code"})

// Router selects the controller for a request.
type Router interface {
	ControllerFor(navigation bool) *worker.Controller
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(navigation bool) *worker.Controller

// ControllerFor calls f(navigation).
func (f RouterFunc) ControllerFor(navigation bool) *worker.Controller {
	return f(navigation)
}

// Config holds handler configuration.
type Config struct {
	// Origin is where relative request URIs and passthrough traffic go
	Origin *url.URL

	// Transport is used for passthrough requests (nil uses http.DefaultTransport)
	Transport http.RoundTripper
}

// Handler is the HTTP host adapter.
type Handler struct {
	origin       *url.URL
	router       Router
	reverseproxy *httputil.ReverseProxy
	logger       zerolog.Logger

	background sync.WaitGroup
}

// New creates a handler.
func New(cfg Config, router Router, logger zerolog.Logger) (*Handler, error) {
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, errors.New("absolute origin url is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}

	h := &Handler{
		origin: cfg.Origin,
		router: router,
		logger: logger,
	}
	h.reverseproxy = &httputil.ReverseProxy{
		Rewrite:      h.rewrite,
		Transport:    cfg.Transport,
		ErrorHandler: h.passthroughError,
	}
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()
	w.Header().Set(HeaderRequestID, reqID)
	logger := h.logger.With().
		Str("request_id", reqID).
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Logger()

	mode := RequestMode(r)
	ctrl := h.router.ControllerFor(mode == cache.ModeNavigate)
	if r.Method != http.MethodGet || ctrl == nil {
		h.passthrough(w, r, logger)
		return
	}

	req, err := h.interceptedRequest(r, mode)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot build intercepted request")
		httpRequestsTotal.WithLabelValues("bad_request", "400").Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ev := worker.NewFetchEvent(r.Context(), req)
	resp, handled, err := ctrl.HandleFetch(ev)
	h.trackBackground(ev, logger)

	if !handled {
		h.passthrough(w, r, logger)
		return
	}

	outcome := ev.Outcome()
	w.Header().Set(HeaderOutcome, string(outcome))
	if err != nil {
		httpRequestsTotal.WithLabelValues(string(outcome), "504").Inc()
		logger.Warn().
			Err(err).
			Str("mode", string(mode)).
			Str("version", ctrl.Version()).
			Msg("Request failed offline")
		http.Error(w, "offline", http.StatusGatewayTimeout)
		return
	}
	defer resp.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.Status)
	if _, err := resp.WriteTo(w); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response body")
	}

	httpRequestsTotal.WithLabelValues(string(outcome), strconv.Itoa(resp.Status)).Inc()
	logger.Info().
		Str("mode", string(mode)).
		Str("version", ctrl.Version()).
		Str("outcome", string(outcome)).
		Int("status_code", resp.Status).
		Dur("duration", time.Since(start)).
		Msg("Request served")
}

// Wait blocks until every background cache write started by the handler
// finished. Call it after the server stopped accepting requests.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) trackBackground(ev *worker.FetchEvent, logger zerolog.Logger) {
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if err := ev.Wait(); err != nil {
			logger.Warn().Err(err).Msg("Background cache write failed")
		}
	}()
}

func (h *Handler) passthrough(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) {
	w.Header().Set(HeaderOutcome, string(worker.OutcomePassthrough))
	httpRequestsTotal.WithLabelValues(string(worker.OutcomePassthrough), "").Inc()
	logger.Debug().Msg("Forwarding request to origin")
	h.reverseproxy.ServeHTTP(w, r)
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	if pr.In.URL.IsAbs() {
		target := *pr.In.URL
		pr.Out.URL = &target
		pr.Out.Host = ""
	} else {
		pr.SetURL(h.origin)
	}
	pr.SetXForwarded()
}

func (h *Handler) passthroughError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn().Err(err).Str("uri", r.RequestURI).Msg("Passthrough request failed")
	w.WriteHeader(http.StatusBadGateway)
}

// interceptedRequest resolves the target URL and copies end-to-end headers.
// Absolute-form request URIs (forward proxy use) are kept as they are.
func (h *Handler) interceptedRequest(r *http.Request, mode cache.Mode) (*cache.Request, error) {
	var target *url.URL
	if r.URL.IsAbs() {
		target = r.URL
	} else {
		target = h.origin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}

	req, err := cache.NewRequest(r.Method, target.String(), mode)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", target, err)
	}
	req.Header = make(http.Header, len(r.Header))
	copyHeaders(req.Header, r.Header)
	return req, nil
}

// RequestMode derives the request mode. Sec-Fetch-Mode wins; otherwise a
// GET accepting text/html is a navigation and anything else is no-cors.
func RequestMode(r *http.Request) cache.Mode {
	if mode, ok := cache.ParseMode(r.Header.Get("Sec-Fetch-Mode")); ok {
		return mode
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return cache.ModeNavigate
	}
	return cache.ModeNoCORS
}

// hopByHopHeaders are never forwarded by proxies (RFC 7230).
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// copyHeaders copies src into dst, skipping hop-by-hop headers and any
// header named in Connection.
func copyHeaders(dst, src http.Header) {
	connection := map[string]struct{}{}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connection[textproto.CanonicalMIMEHeaderKey(name)] = struct{}{}
			}
		}
	}

	for key, values := range src {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if _, hop := hopByHopHeaders[canonical]; hop {
			continue
		}
		if _, named := connection[canonical]; named {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

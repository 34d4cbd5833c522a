// Package testutil provides testing utilities for the offline asset cache.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable origin server that can be switched offline.
// Offline, every connection is dropped without a response, which the fetcher
// sees as a network failure.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	offline  bool

	// Tracking
	RequestCount  int
	MethodCounts  map[string]int
	LastRequest   *http.Request
	LastUserAgent string
}

// NewMockOrigin creates and starts a mock origin.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		MethodCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		offline := mock.offline
		if !offline {
			mock.RequestCount++
			mock.MethodCounts[r.Method]++
			mock.LastRequest = r.Clone(r.Context())
			mock.LastUserAgent = r.UserAgent()
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if offline {
			dropConnection(w)
			return
		}
		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// URL returns the mock server URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetOffline toggles network failure for every request.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.MethodCounts = make(map[string]int)
	m.LastRequest = nil
	m.LastUserAgent = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" && r.Method != http.MethodHead {
			w.Write([]byte(resp.Body))
		}
	})
}

// ServeSite registers the default manifest of a small static site.
func (m *MockOrigin) ServeSite(version string) {
	m.SetResponse("/", NewHTMLResponse("<h1>home "+version+"</h1>"))
	m.SetResponse("/index.html", NewHTMLResponse("<h1>index "+version+"</h1>"))
	m.SetResponse("/offline.html", NewHTMLResponse("<h1>offline</h1>"))
	m.SetResponse("/favicon.svg", NewAssetResponse("image/svg+xml", "<svg/>"))
	m.SetResponse("/og-image.svg", NewAssetResponse("image/svg+xml", "<svg id=\"og\"/>"))
	m.SetResponse("/manifest.json", NewAssetResponse("application/manifest+json", `{"name":"app"}`))
}

// GetRequestCount returns the number of requests that reached the server.
func (m *MockOrigin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetMethodCount returns the number of requests with the given method.
func (m *MockOrigin) GetMethodCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MethodCounts[method]
}

// NewHTMLResponse creates a 200 document response.
func NewHTMLResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":  "text/html; charset=utf-8",
			"Cache-Control": "no-cache",
		},
	}
}

// NewAssetResponse creates a 200 sub-resource response.
func NewAssetResponse(contentType, body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "public, max-age=31536000",
		},
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "not found",
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "internal server error",
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
	}
}

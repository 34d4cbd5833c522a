package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/Sternrassler/offline-asset-cache/internal/testutil"
	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/Sternrassler/offline-asset-cache/pkg/client"
	"github.com/Sternrassler/offline-asset-cache/pkg/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type testEnv struct {
	origin  *testutil.MockOrigin
	storage *cache.MemoryStorage
	ctrl    *worker.Controller
	handler *Handler
}

func newTestEnv(t *testing.T, installed bool) *testEnv {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)
	origin.ServeSite("v1")

	originURL, _ := url.Parse(origin.URL())
	fetcher, err := client.New(client.DefaultConfig(originURL))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	cfg, _ := worker.VariantNetworkFirstNavigation.Apply(worker.Config{
		Version:     "v1",
		Scope:       originURL,
		Manifest:    []string{"/", "/index.html", "/offline.html"},
		OfflinePath: "/offline.html",
		RootPath:    "/",
	})
	storage := cache.NewMemoryStorage()
	ctrl, err := worker.NewController(cfg, storage, fetcher)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	if installed {
		ev := worker.NewInstallEvent(context.Background())
		ctrl.Install(ev)
		if err := ev.Wait(); err != nil {
			t.Fatalf("install: %v", err)
		}
	}

	handler, err := New(Config{Origin: originURL}, RouterFunc(func(bool) *worker.Controller { return ctrl }),
		zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{origin: origin, storage: storage, ctrl: ctrl, handler: handler}
}

func (e *testEnv) do(t *testing.T, method, target string, header http.Header) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	e.handler.Wait()

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

var navigate = http.Header{"Accept": {"text/html,application/xhtml+xml"}}

func TestServeHTTP_NavigationOnlineThenOffline(t *testing.T) {
	env := newTestEnv(t, true)
	env.origin.SetResponse("/index.html", testutil.NewHTMLResponse("<h1>B1</h1>"))

	resp, body := env.do(t, "GET", "/index.html", navigate)
	if resp.StatusCode != http.StatusOK || body != "<h1>B1</h1>" {
		t.Fatalf("online = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomeNetworkThenCached) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}
	if resp.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	env.origin.SetOffline(true)
	resp, body = env.do(t, "GET", "/index.html", navigate)
	if resp.StatusCode != http.StatusOK || body != "<h1>B1</h1>" {
		t.Errorf("offline = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomeCache) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}
}

func TestServeHTTP_OfflineFallback(t *testing.T) {
	env := newTestEnv(t, true)
	env.origin.SetOffline(true)

	resp, body := env.do(t, "GET", "/about", navigate)
	if resp.StatusCode != http.StatusOK || body != "<h1>offline</h1>" {
		t.Errorf("fallback = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomeFallback) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}
}

func TestServeHTTP_FailedIsGatewayTimeout(t *testing.T) {
	env := newTestEnv(t, false)
	env.origin.SetOffline(true)

	resp, body := env.do(t, "GET", "/index.html", navigate)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	if strings.TrimSpace(body) != "offline" {
		t.Errorf("body = %q", body)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomeFailed) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}
}

func TestServeHTTP_NotFoundIsDeliveredNotCached(t *testing.T) {
	env := newTestEnv(t, false)
	env.origin.SetResponse("/missing.css", testutil.NewNotFoundResponse())

	resp, _ := env.do(t, "GET", "/missing.css", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomeNetwork) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}

	req, _ := cache.NewRequest("GET", env.origin.URL()+"/missing.css", cache.ModeNoCORS)
	if _, err := env.storage.Match(context.Background(), req); err != cache.ErrCacheMiss {
		t.Errorf("Match() error = %v, want ErrCacheMiss", err)
	}
}

func TestServeHTTP_PassthroughNonGET(t *testing.T) {
	env := newTestEnv(t, false)
	env.origin.SetResponse("/api/items", testutil.MockResponse{StatusCode: http.StatusCreated, Body: "created"})

	resp, body := env.do(t, "POST", "/api/items", nil)
	if resp.StatusCode != http.StatusCreated || body != "created" {
		t.Errorf("passthrough = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomePassthrough) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}
	if env.origin.GetMethodCount("POST") != 1 {
		t.Errorf("origin saw %d POSTs", env.origin.GetMethodCount("POST"))
	}
	if names, _ := env.storage.Keys(context.Background()); len(names) != 0 {
		t.Errorf("POST touched storage: %v", names)
	}
}

func TestServeHTTP_NoControllerPassesThrough(t *testing.T) {
	env := newTestEnv(t, false)
	env.handler.router = RouterFunc(func(bool) *worker.Controller { return nil })

	resp, body := env.do(t, "GET", "/index.html", navigate)
	if resp.StatusCode != http.StatusOK || body != "<h1>index v1</h1>" {
		t.Errorf("passthrough = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderOutcome); got != string(worker.OutcomePassthrough) {
		t.Errorf("%s = %q", HeaderOutcome, got)
	}
}

func TestServeHTTP_AbsoluteFormURI(t *testing.T) {
	env := newTestEnv(t, false)

	resp, body := env.do(t, "GET", env.origin.URL()+"/favicon.svg", nil)
	if resp.StatusCode != http.StatusOK || body != "<svg/>" {
		t.Errorf("absolute-form = %d %q", resp.StatusCode, body)
	}
}

func TestServeHTTP_RequestID(t *testing.T) {
	env := newTestEnv(t, true)

	first, _ := env.do(t, "GET", "/", navigate)
	second, _ := env.do(t, "GET", "/", navigate)

	id := first.Header.Get(HeaderRequestID)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("%s = %q is not a uuid: %v", HeaderRequestID, id, err)
	}
	if id == second.Header.Get(HeaderRequestID) {
		t.Error("request ids should differ")
	}
}

func TestNew_Validation(t *testing.T) {
	router := RouterFunc(func(bool) *worker.Controller { return nil })
	logger := zerolog.Nop()

	if _, err := New(Config{}, router, logger); err == nil {
		t.Error("New without origin should fail")
	}
	if _, err := New(Config{Origin: &url.URL{Path: "/x"}}, router, logger); err == nil {
		t.Error("New with relative origin should fail")
	}
	if _, err := New(Config{Origin: &url.URL{Scheme: "http", Host: "x"}}, nil, logger); err == nil {
		t.Error("New without router should fail")
	}
}

func TestRequestMode(t *testing.T) {
	tests := []struct {
		name   string
		method string
		header http.Header
		want   cache.Mode
	}{
		{"sec-fetch-mode navigate", "GET", http.Header{"Sec-Fetch-Mode": {"navigate"}}, cache.ModeNavigate},
		{"sec-fetch-mode cors", "GET", http.Header{"Sec-Fetch-Mode": {"cors"}, "Accept": {"text/html"}}, cache.ModeCORS},
		{"html accept", "GET", http.Header{"Accept": {"text/html,*/*"}}, cache.ModeNavigate},
		{"image accept", "GET", http.Header{"Accept": {"image/avif,image/webp"}}, cache.ModeNoCORS},
		{"no headers", "GET", nil, cache.ModeNoCORS},
		{"post with html accept", "POST", http.Header{"Accept": {"text/html"}}, cache.ModeNoCORS},
		{"unknown sec-fetch-mode", "GET", http.Header{"Sec-Fetch-Mode": {"websocket"}}, cache.ModeNoCORS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			for k, v := range tt.header {
				r.Header[k] = v
			}
			if got := RequestMode(r); got != tt.want {
				t.Errorf("RequestMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCopyHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"text/css"},
		"Connection":        {"keep-alive, X-Internal"},
		"Keep-Alive":        {"timeout=5"},
		"Transfer-Encoding": {"chunked"},
		"X-Internal":        {"secret"},
		"Cache-Control":     {"max-age=60"},
	}
	dst := http.Header{}
	copyHeaders(dst, src)

	for _, kept := range []string{"Content-Type", "Cache-Control"} {
		if dst.Get(kept) == "" {
			t.Errorf("%s dropped", kept)
		}
	}
	for _, dropped := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "X-Internal"} {
		if dst.Get(dropped) != "" {
			t.Errorf("%s forwarded", dropped)
		}
	}
}

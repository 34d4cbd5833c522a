package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
)

func newTestFetcher(t *testing.T, origin string) *HTTPFetcher {
	t.Helper()
	u, err := url.Parse(origin)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	f, err := New(DefaultConfig(u))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func mustRequest(t *testing.T, method, rawURL string, mode cache.Mode) *cache.Request {
	t.Helper()
	req, err := cache.NewRequest(method, rawURL, mode)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		origin      *url.URL
		expectError bool
	}{
		{
			name:   "absolute origin",
			origin: &url.URL{Scheme: "https", Host: "example.com"},
		},
		{
			name:        "nil origin",
			expectError: true,
		},
		{
			name:        "relative origin",
			origin:      &url.URL{Path: "/app"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Origin: tt.origin})
			if (err != nil) != tt.expectError {
				t.Errorf("New() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestFetch_Classification(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("not found"))
		default:
			w.Write([]byte("origin:" + r.URL.Path))
		}
	}))
	defer origin.Close()

	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/granted" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Write([]byte("foreign"))
	}))
	defer foreign.Close()

	f := newTestFetcher(t, origin.URL)

	tests := []struct {
		name       string
		url        string
		mode       cache.Mode
		wantType   cache.ResponseType
		wantStatus int
		wantClass  ErrorClass
	}{
		{
			name:       "same origin asset is basic",
			url:        origin.URL + "/style.css",
			mode:       cache.ModeNoCORS,
			wantType:   cache.TypeBasic,
			wantStatus: 200,
		},
		{
			name:       "404 resolves as response",
			url:        origin.URL + "/missing",
			mode:       cache.ModeNoCORS,
			wantType:   cache.TypeBasic,
			wantStatus: 404,
		},
		{
			name:       "cross origin no-cors is opaque",
			url:        foreign.URL + "/pixel.png",
			mode:       cache.ModeNoCORS,
			wantType:   cache.TypeOpaque,
			wantStatus: 200,
		},
		{
			name:       "cross origin cors with grant",
			url:        foreign.URL + "/granted",
			mode:       cache.ModeCORS,
			wantType:   cache.TypeCORS,
			wantStatus: 200,
		},
		{
			name:      "cross origin cors without grant rejects",
			url:       foreign.URL + "/denied",
			mode:      cache.ModeCORS,
			wantClass: ErrorClassCORS,
		},
		{
			name:      "same-origin mode to foreign origin rejects",
			url:       foreign.URL + "/x",
			mode:      cache.ModeSameOrigin,
			wantClass: ErrorClassCORS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.Fetch(context.Background(), mustRequest(t, "GET", tt.url, tt.mode))

			if tt.wantClass != "" {
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("Fetch() error = %v, want FetchError", err)
				}
				if fe.ErrorClass != tt.wantClass {
					t.Errorf("ErrorClass = %q, want %q", fe.ErrorClass, tt.wantClass)
				}
				return
			}

			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			defer resp.Close()
			if resp.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", resp.Type, tt.wantType)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestFetch_Body(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent header missing")
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<h1>B1</h1>"))
	}))
	defer origin.Close()

	f := newTestFetcher(t, origin.URL)
	resp, err := f.Fetch(context.Background(), mustRequest(t, "GET", origin.URL+"/index.html", cache.ModeNavigate))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	body, err := resp.Bytes()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "<h1>B1</h1>" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.URL != origin.URL+"/index.html" {
		t.Errorf("URL = %q", resp.URL)
	}
}

func TestFetch_NetworkFailure(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	originURL := origin.URL
	origin.Close()

	f := newTestFetcher(t, originURL)
	_, err := f.Fetch(context.Background(), mustRequest(t, "GET", originURL+"/", cache.ModeNavigate))

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch() error = %v, want FetchError", err)
	}
	if fe.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", fe.ErrorClass)
	}
}

func TestFetch_Timeout(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL)
	cfg := DefaultConfig(u)
	cfg.Timeout = 20 * time.Millisecond
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = f.Fetch(context.Background(), mustRequest(t, "GET", origin.URL+"/slow", cache.ModeNoCORS))
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch() error = %v, want FetchError", err)
	}
	if fe.ErrorClass != ErrorClassTimeout {
		t.Errorf("ErrorClass = %q, want timeout", fe.ErrorClass)
	}
}

func TestSameOrigin(t *testing.T) {
	parse := func(s string) *url.URL {
		u, _ := url.Parse(s)
		return u
	}

	tests := []struct {
		a, b string
		want bool
	}{
		{"https://example.com/a", "https://example.com/b", true},
		{"https://example.com:443/a", "https://EXAMPLE.com/", true},
		{"http://example.com/", "https://example.com/", false},
		{"https://example.com/", "https://cdn.example.com/", false},
		{"http://127.0.0.1:8080/", "http://127.0.0.1:9090/", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			if got := SameOrigin(parse(tt.a), parse(tt.b)); got != tt.want {
				t.Errorf("SameOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

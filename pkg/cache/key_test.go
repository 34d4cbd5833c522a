package cache

import (
	"net/url"
	"testing"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "plain path",
			url:  "https://example.com/index.html",
			want: "GET https://example.com/index.html",
		},
		{
			name: "query string is part of identity",
			url:  "https://example.com/style.css?v=2",
			want: "GET https://example.com/style.css?v=2",
		},
		{
			name: "fragment is dropped",
			url:  "https://example.com/docs#intro",
			want: "GET https://example.com/docs",
		},
		{
			name: "root document",
			url:  "https://example.com/",
			want: "GET https://example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatalf("parse url: %v", err)
			}
			got := KeyFor(&Request{Method: "GET", URL: u}).String()
			if got != tt.want {
				t.Errorf("KeyFor().String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKeyFor_NoPrefixMatching ensures distinct queries yield distinct identities
func TestKeyFor_NoPrefixMatching(t *testing.T) {
	a, _ := NewRequest("GET", "https://example.com/app.js", ModeNoCORS)
	b, _ := NewRequest("GET", "https://example.com/app.js?v=1", ModeNoCORS)

	if KeyFor(a) == KeyFor(b) {
		t.Errorf("keys for %s and %s should differ", a.URL, b.URL)
	}
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("GET https://example.com/a?b=c")
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if key.URL != "https://example.com/a?b=c" {
		t.Errorf("URL = %s", key.URL)
	}

	for _, bad := range []string{"", "GET", "POST https://example.com/"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

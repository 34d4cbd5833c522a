package cache

import (
	"bytes"
	"errors"
	"net/http"
	"testing"
)

func TestResponse_SingleConsumption(t *testing.T) {
	resp := NewBytesResponse(200, nil, []byte("B1"))

	body, err := resp.Bytes()
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if string(body) != "B1" {
		t.Errorf("body = %q, want B1", body)
	}
	if !resp.BodyUsed() {
		t.Error("BodyUsed() should be true after reading")
	}

	if _, err := resp.Bytes(); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("second read error = %v, want ErrBodyUsed", err)
	}
	if _, err := resp.Clone(); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("Clone after read error = %v, want ErrBodyUsed", err)
	}
}

func TestResponse_Clone(t *testing.T) {
	resp := NewBytesResponse(200, http.Header{"Content-Type": []string{"text/html"}}, []byte("hello"))
	resp.Type = TypeCORS
	resp.URL = "https://cdn.example.com/hello"

	clone, err := resp.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	// Both copies must be readable independently
	a, err := clone.Bytes()
	if err != nil {
		t.Fatalf("read clone: %v", err)
	}
	var buf bytes.Buffer
	if _, err := resp.WriteTo(&buf); err != nil {
		t.Fatalf("read original: %v", err)
	}
	if string(a) != "hello" || buf.String() != "hello" {
		t.Errorf("bodies = %q / %q, want hello twice", a, buf.String())
	}

	if clone.Type != TypeCORS || clone.URL != resp.URL || clone.Status != 200 {
		t.Errorf("clone metadata mismatch: %+v", clone)
	}

	// Header maps must not alias
	clone.Header.Set("Content-Type", "changed")
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Error("clone header mutation leaked into original")
	}
}

func TestResponse_OK(t *testing.T) {
	tests := []struct {
		name   string
		status int
		typ    ResponseType
		want   bool
	}{
		{"200 basic", 200, TypeBasic, true},
		{"204 cors", 204, TypeCORS, true},
		{"404 basic", 404, TypeBasic, false},
		{"200 opaque", 200, TypeOpaque, false},
		{"error", 0, TypeError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewBytesResponse(tt.status, nil, nil)
			resp.Type = tt.typ
			if got := resp.OK(); got != tt.want {
				t.Errorf("OK() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryToResponse_IndependentBodies(t *testing.T) {
	entry := &Entry{Status: 200, Data: []byte("snapshot"), Type: TypeBasic}

	for i := 0; i < 2; i++ {
		body, err := EntryToResponse(entry).Bytes()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if string(body) != "snapshot" {
			t.Errorf("read %d body = %q", i, body)
		}
	}
}

func TestResponseToEntry(t *testing.T) {
	if _, err := ResponseToEntry(nil); err == nil {
		t.Error("ResponseToEntry(nil) should fail")
	}

	resp := NewBytesResponse(200, http.Header{"ETag": []string{`"abc"`}}, []byte("data"))
	entry, err := ResponseToEntry(resp)
	if err != nil {
		t.Fatalf("ResponseToEntry failed: %v", err)
	}
	if string(entry.Data) != "data" || entry.Headers.Get("ETag") != `"abc"` {
		t.Errorf("entry mismatch: %+v", entry)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt was not set")
	}
	if !resp.BodyUsed() {
		t.Error("ResponseToEntry should consume the body")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in     string
		want   Mode
		wantOK bool
	}{
		{"navigate", ModeNavigate, true},
		{"NAVIGATE", ModeNavigate, true},
		{"no-cors", ModeNoCORS, true},
		{"cors", ModeCORS, true},
		{"same-origin", ModeSameOrigin, true},
		{"websocket", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMode(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, ok)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	if _, err := NewRequest("GET", "/relative", ModeNoCORS); err == nil {
		t.Error("relative url should be rejected")
	}

	req, err := NewRequest("", "https://example.com/", ModeNavigate)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.Method != http.MethodGet {
		t.Errorf("Method = %s, want GET", req.Method)
	}
	if !req.IsNavigation() {
		t.Error("IsNavigation() should be true")
	}
}

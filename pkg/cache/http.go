package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrBodyUsed is returned when a response body is read a second time.
var ErrBodyUsed = errors.New("response body already used")

// Mode describes why a request was issued.
type Mode string

const (
	// ModeNavigate is a full document load.
	ModeNavigate Mode = "navigate"

	// ModeSameOrigin is a sub-resource restricted to the scope origin.
	ModeSameOrigin Mode = "same-origin"

	// ModeNoCORS is a sub-resource that may cross origins without a CORS grant.
	ModeNoCORS Mode = "no-cors"

	// ModeCORS is a sub-resource that requires a CORS grant to cross origins.
	ModeCORS Mode = "cors"
)

// ParseMode maps a Sec-Fetch-Mode value to a Mode. ok is false for unknown values.
func ParseMode(s string) (mode Mode, ok bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNavigate:
		return ModeNavigate, true
	case ModeSameOrigin:
		return ModeSameOrigin, true
	case ModeNoCORS:
		return ModeNoCORS, true
	case ModeCORS:
		return ModeCORS, true
	default:
		return "", false
	}
}

// ResponseType is the provenance of a response.
type ResponseType string

const (
	// TypeBasic is a same-origin response.
	TypeBasic ResponseType = "basic"

	// TypeCORS is a cross-origin response with an explicit CORS grant.
	TypeCORS ResponseType = "cors"

	// TypeOpaque is a cross-origin response without a CORS grant. Its content
	// cannot be inspected by the caller.
	TypeOpaque ResponseType = "opaque"

	// TypeError is a synthetic network error response.
	TypeError ResponseType = "error"
)

// Request is one intercepted outbound request.
type Request struct {
	Method string
	URL    *url.URL
	Mode   Mode
	Header http.Header
}

// NewRequest builds a request for an absolute URL.
func NewRequest(method, rawURL string, mode Mode) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %q", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Mode:   mode,
		Header: make(http.Header),
	}, nil
}

// IsNavigation reports whether the request loads a full document.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// Response is a fetched or cached response.
//
// The body can be consumed exactly once (Bytes, WriteTo). Clone must be
// called before the body is consumed when the response is needed twice.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Type       ResponseType
	URL        string

	mu   sync.Mutex
	body io.ReadCloser
	used bool
}

// NewResponse wraps a body. A nil body is treated as empty.
func NewResponse(status int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = make(http.Header)
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		Status:     status,
		StatusText: fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header,
		Type:       TypeBasic,
		body:       body,
	}
}

// NewBytesResponse builds a basic response around an in-memory body.
func NewBytesResponse(status int, header http.Header, data []byte) *Response {
	return NewResponse(status, header, io.NopCloser(bytes.NewReader(data)))
}

// OK reports whether the response has a 2xx status and a readable body.
func (r *Response) OK() bool {
	return r.Type != TypeOpaque && r.Type != TypeError && r.Status >= 200 && r.Status < 300
}

// BodyUsed reports whether the body has been consumed.
func (r *Response) BodyUsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Clone duplicates the response. The remaining body is buffered in memory
// once and each copy gets an independent reader over it.
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.used {
		return nil, ErrBodyUsed
	}

	data, err := io.ReadAll(r.body)
	closeErr := r.body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer response body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close response body: %w", closeErr)
	}

	r.body = io.NopCloser(bytes.NewReader(data))

	return &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
		Type:       r.Type,
		URL:        r.URL,
		body:       io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// Bytes consumes and returns the body.
func (r *Response) Bytes() ([]byte, error) {
	body, err := r.take()
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// WriteTo consumes the body and streams it to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	body, err := r.take()
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return io.Copy(w, body)
}

// Close releases the body without reading it.
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil
	}
	r.used = true
	return r.body.Close()
}

func (r *Response) take() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, ErrBodyUsed
	}
	r.used = true
	return r.body, nil
}

// ResponseToEntry converts a response into a snapshot.
// It consumes the response body; callers that still need the response
// must pass a clone.
func ResponseToEntry(resp *Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	data, err := resp.Bytes()
	if err != nil {
		return nil, err
	}

	return &Entry{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    resp.Header.Clone(),
		Type:       resp.Type,
		URL:        resp.URL,
		Data:       data,
		CachedAt:   time.Now().UTC(),
	}, nil
}

// EntryToResponse rebuilds a fresh response from a snapshot. Every call
// returns an independent body.
func EntryToResponse(entry *Entry) *Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		Status:     entry.Status,
		StatusText: entry.StatusText,
		Header:     header,
		Type:       entry.Type,
		URL:        entry.URL,
		body:       io.NopCloser(bytes.NewReader(entry.Data)),
	}
}

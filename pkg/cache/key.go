package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Key is the identity of a cached request.
//
// Only GET requests are ever stored, so the method is fixed. The URL is the
// absolute request URL including the query string; the fragment is dropped
// because it never reaches the network.
type Key struct {
	URL string
}

// KeyFor returns the identity of the request.
func KeyFor(req *Request) Key {
	return Key{URL: normalizeURL(req.URL)}
}

// String generates the storage form of the key.
// Format: GET <absolute-url>
//
// Example:
//
//	GET https://example.com/style.css?v=2
func (k Key) String() string {
	return http.MethodGet + " " + k.URL
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	method, rawURL, ok := strings.Cut(s, " ")
	if !ok || method != http.MethodGet || rawURL == "" {
		return Key{}, fmt.Errorf("invalid cache key %q", s)
	}
	return Key{URL: rawURL}, nil
}

func normalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

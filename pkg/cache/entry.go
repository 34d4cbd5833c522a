package cache

import (
	"net/http"
	"time"
)

// Entry is a byte-exact snapshot of a response stored in a partition.
type Entry struct {
	// Status is the HTTP status code of the captured response
	Status int `json:"status"`

	// StatusText is the reason phrase (e.g. "200 OK")
	StatusText string `json:"status_text"`

	// Headers are the response headers at capture time
	Headers http.Header `json:"headers"`

	// Type is the provenance classification of the response
	Type ResponseType `json:"type"`

	// URL is the final URL the response was served from
	URL string `json:"url"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when the snapshot was written
	CachedAt time.Time `json:"cached_at"`
}

// Size returns the number of body bytes held by the snapshot.
func (e *Entry) Size() int {
	return len(e.Data)
}

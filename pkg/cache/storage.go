package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrMethodNotCacheable is returned when a non-GET request is stored
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")

	// ErrPartialContent is returned when a 206 response is stored
	ErrPartialContent = errors.New("partial content responses cannot be cached")

	// ErrVaryWildcard is returned when a response carries Vary: *
	ErrVaryWildcard = errors.New("responses with Vary: * cannot be cached")
)

// Storage is the set of named partitions owned by one controller scope.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the named partition, creating it if absent.
	Open(ctx context.Context, name string) (Partition, error)

	// Has reports whether the named partition exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the partition and every entry in it. It reports
	// whether the partition existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Keys lists partition names in creation order.
	Keys(ctx context.Context) ([]string, error)

	// Match searches all partitions in creation order and returns the first
	// stored response for the request. Returns ErrCacheMiss if none has it.
	Match(ctx context.Context, req *Request) (*Response, error)
}

// Partition is one named key-value store of response snapshots.
type Partition interface {
	// Name returns the partition name (the cache version).
	Name() string

	// Match returns the stored response for the request or ErrCacheMiss.
	Match(ctx context.Context, req *Request) (*Response, error)

	// Put stores the response under the request identity, replacing any
	// previous snapshot. It consumes the response body.
	Put(ctx context.Context, req *Request, resp *Response) error

	// PutAll stores every pair or none of them.
	PutAll(ctx context.Context, pairs []Pair) error

	// Delete removes one entry. It reports whether the entry existed.
	Delete(ctx context.Context, req *Request) (bool, error)

	// Keys lists the identities stored in the partition.
	Keys(ctx context.Context) ([]Key, error)
}

// Pair is one request/response combination of a batch write.
type Pair struct {
	Request  *Request
	Response *Response
}

// validatePut applies the storage rules shared by all backends.
func validatePut(req *Request, resp *Response) error {
	if req == nil || resp == nil {
		return fmt.Errorf("request and response are required")
	}
	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: %s", ErrMethodNotCacheable, req.Method)
	}
	if resp.Status == http.StatusPartialContent {
		return ErrPartialContent
	}
	for _, v := range resp.Header.Values("Vary") {
		for _, field := range strings.Split(v, ",") {
			if strings.TrimSpace(field) == "*" {
				return ErrVaryWildcard
			}
		}
	}
	return nil
}

// snapshot validates and converts one pair into its storage form.
func snapshot(req *Request, resp *Response) (Key, *Entry, error) {
	if err := validatePut(req, resp); err != nil {
		return Key{}, nil, err
	}
	entry, err := ResponseToEntry(resp)
	if err != nil {
		return Key{}, nil, err
	}
	return KeyFor(req), entry, nil
}

func encodeEntry(entry *Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// partitionLookup is implemented by every backend. lookup returns an
// existing partition or ErrCacheMiss and never creates one, so the read
// path cannot resurrect a partition deleted by activation.
type partitionLookup interface {
	Keys(ctx context.Context) ([]string, error)
	lookup(ctx context.Context, name string) (Partition, error)
}

// matchInOrder implements Storage.Match on top of Keys and lookup.
func matchInOrder(ctx context.Context, s partitionLookup, req *Request) (*Response, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		partition, err := s.lookup(ctx, name)
		if errors.Is(err, ErrCacheMiss) {
			// deleted after Keys
			continue
		}
		if err != nil {
			return nil, err
		}
		resp, err := partition.Match(ctx, req)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, ErrCacheMiss
}

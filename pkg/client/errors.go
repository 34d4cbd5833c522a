package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the fetcher.
var (
	// ErrCORSRejected is returned when a cors-mode request crosses origins
	// without an Access-Control-Allow-Origin grant.
	ErrCORSRejected = errors.New("cross-origin response without CORS grant")

	// ErrSameOriginViolation is returned when a same-origin request targets
	// another origin.
	ErrSameOriginViolation = errors.New("same-origin request to foreign origin")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection level failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents client or transport timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCanceled represents requests cancelled by the caller.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassCORS represents responses rejected by origin policy.
	ErrorClassCORS ErrorClass = "cors"
)

// FetchError is a rejected fetch. It never carries an HTTP status: any
// response the origin sends, including 404 or 500, is a resolved fetch.
type FetchError struct {
	URL        string
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %v", e.URL, e.ErrorClass, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyError categorizes a transport error for observability.
func classifyError(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrCORSRejected), errors.Is(err, ErrSameOriginViolation):
		return ErrorClassCORS
	case errors.Is(err, context.Canceled):
		return ErrorClassCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

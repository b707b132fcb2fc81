package xiaomi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
)

// Sentinel errors returned by the client.
var (
	ErrWrongLoginPrefix  = errors.New("xiaomi: wrong loginPrefix")
	ErrNotAuthenticated  = errors.New("xiaomi: not authenticated")
	ErrIncompleteSession = errors.New("xiaomi: login response lacks session fields")
	ErrMalformedToken    = errors.New("xiaomi: malformed token")
	ErrUnsupportedRegion = errors.New("xiaomi: unsupported region")
	ErrPaginationStalled = errors.New("xiaomi: pagination cursor did not advance")
	ErrMissingRedirect   = errors.New("xiaomi: oauth2 redirect without location")
)

// codeAuthExpired is the envelope code of a session the vendor no longer accepts.
const codeAuthExpired = 3

// APIError is a decrypted response envelope with a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return "xiaomi: " + e.Message
}

// StatusError is a non-2xx HTTP response from the vendor.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

type regionError struct {
	region string
}

func (e *regionError) Error() string { return "xiaomi: unsupported region: " + e.region }
func (e *regionError) Unwrap() error { return ErrUnsupportedRegion }

// IsSessionExpired reports whether err means the session must be discarded:
// an HTTP 401 or an auth-expired envelope, plain or behind the eco proxy.
func IsSessionExpired(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusUnauthorized
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == codeAuthExpired
}

// IsRetryable reports whether err is a transient transport failure: a network
// error, 429 or 5xx. Envelope errors are never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	var ne net.Error
	return errors.As(err, &ne)
}

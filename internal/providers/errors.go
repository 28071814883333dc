package providers

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingCredentials is returned when no upstream API key is configured
	ErrMissingCredentials = errors.New("upstream API key is not configured")

	// ErrNoChoices is returned when a successful response carries no choices
	ErrNoChoices = errors.New("upstream response contained no choices")
)

// UpstreamError describes a failed upstream call. StatusCode is zero when
// no HTTP response was received.
type UpstreamError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request for %s failed: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("upstream returned status %d for %s: %v", e.StatusCode, e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// AuthRejected reports whether the upstream refused the credentials.
func (e *UpstreamError) AuthRejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// RateLimited reports whether the upstream answered 429
func (e *UpstreamError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

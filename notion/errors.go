package notion

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized reports an invalid or revoked integration token, or an
	// integration that was never shared with the target page. Callers must not
	// treat it as "nothing found".
	ErrUnauthorized = errors.New("notion: unauthorized")
	// ErrNotFound reports a missing (or unshared) object.
	ErrNotFound = errors.New("notion: object not found")
	// ErrUnavailable reports transport failures, 5xx responses, rate limiting
	// and an open circuit breaker.
	ErrUnavailable = errors.New("notion: unavailable")
)

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Op      string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %s: %d %s: %s", e.Op, e.Status, e.Code, e.Message)
}

// Is maps response codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Code == "unauthorized" || e.Code == "restricted_resource"
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Code == "object_not_found"
	case ErrUnavailable:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	}
	return false
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// breakerFailure reports whether err should count against the circuit breaker.
// Client errors (bad request, auth, not found) say nothing about Notion's health.
func breakerFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Is(ErrUnavailable)
	}
	return true
}

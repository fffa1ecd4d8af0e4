package farmapi

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned when the remote API answers with a non-2xx status
// after the single re-authentication retry has been used.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("farmapi: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("farmapi: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the remote API.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

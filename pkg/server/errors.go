package server

import (
	"net/http"

	"github.com/farmops/pondsync/pkg/ponds"
)

// statusFor maps a pond error to its HTTP status. Anything unclassified,
// including remote failures and a missing template, is a 500.
func statusFor(err error) int {
	switch {
	case ponds.IsValidation(err):
		return http.StatusBadRequest
	case ponds.IsPolicyDenied(err):
		return http.StatusForbidden
	case ponds.IsNotFound(err):
		return http.StatusNotFound
	case ponds.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

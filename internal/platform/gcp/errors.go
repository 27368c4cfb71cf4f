package gcp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// isGoogleAPICode checks if the error is a Google API error with one of the
// given HTTP status codes.
func isGoogleAPICode(err error, codes ...int) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, code := range codes {
			if apiErr.Code == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	return isGoogleAPICode(err, http.StatusNotFound)
}

// IsConflict checks if an error indicates a naming conflict, such as two
// concurrent creations of the same template.
func IsConflict(err error) bool {
	return isGoogleAPICode(err, http.StatusConflict)
}

// IsRateLimited checks if an error indicates quota or rate limiting. These
// errors are retryable.
func IsRateLimited(err error) bool {
	return isGoogleAPICode(err, http.StatusTooManyRequests, http.StatusForbidden)
}

package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx Discord API response.
type APIError struct {
	Status  int    `json:"-"`
	Route   string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("discord API returned status %d on %s: %s (code %d)", e.Status, e.Route, e.Message, e.Code)
	}
	return fmt.Sprintf("discord API returned status %d on %s: %s", e.Status, e.Route, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsRateLimited reports whether err is a 429 that outlived the retries.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

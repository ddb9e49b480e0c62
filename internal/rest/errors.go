package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a backend failure. The store surfaces kinds to consumers
// so they can decide whether re-invoking the operation makes sense.
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindInvalidRequest Kind = "invalid_request"
	KindNetworkFailure Kind = "network_failure"
	KindServerError    Kind = "server_error"
)

// Error is a classified backend failure. Status is the HTTP status code,
// zero for transport-level failures.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
}

// KindOf extracts the classification from an error chain.
// Unclassified errors report as network failures.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindNetworkFailure
}

func classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest:
		return KindInvalidRequest
	case status >= 500:
		return KindServerError
	default:
		// Unexpected 2xx/3xx/4xx codes are treated as server misbehavior.
		return KindServerError
	}
}

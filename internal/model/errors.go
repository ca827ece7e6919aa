package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the host refuses push permission
	ErrPermissionDenied = errors.New("push permission denied")

	// ErrTokenUnavailable is returned when the platform cannot issue a push token
	ErrTokenUnavailable = errors.New("push token unavailable")

	// ErrNetwork marks transient failures (transport errors, timeouts, 5xx)
	ErrNetwork = errors.New("network error")

	// ErrServerRejected marks permanent failures (not found, unauthorized, bad request)
	ErrServerRejected = errors.New("server rejected request")

	// ErrMalformedPayload is returned when a platform payload cannot be decoded
	ErrMalformedPayload = errors.New("malformed notification payload")

	// ErrRecordNotFound is returned when a mutation references a record that was never ingested
	ErrRecordNotFound = errors.New("notification record not found")
)

// APIError is a non-2xx response from the backend.
// It unwraps to ErrNetwork or ErrServerRejected depending on the status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend status %d", e.Status)
}

// Unwrap classifies the error: 408, 429 and 5xx are transient.
func (e *APIError) Unwrap() error {
	if e.Transient() {
		return ErrNetwork
	}
	return ErrServerRejected
}

// Transient reports whether the request may succeed if retried.
func (e *APIError) Transient() bool {
	return e.Status == 408 || e.Status == 429 || e.Status >= 500
}

// IsTransient reports whether err should be retried locally.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

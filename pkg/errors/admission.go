// Package errors provides the admission error taxonomy and database error
// classification used across SurgeGate. Admission failures are always
// converted to well-formed HTTP responses; the types here carry the status
// code and retry guidance the transport layer needs to do that.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Admission error kinds. These are the machine-readable values surfaced in
// the "error" field of rejection bodies.
const (
	KindAdmissionRejected = "admission_rejected"
	KindCircuitOpen       = "circuit_open"
	KindPoolExhausted     = "pool_exhausted"
)

// AdmissionError is a rejection produced by the admission chain. It is
// always recoverable by the client: RetryAfter tells it when to come back.
type AdmissionError struct {
	Kind       string
	Status     int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Kind, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewAdmissionRejected reports a rate, throttle, or concurrency limit hit.
// gate names the rejecting gate for the message ("global", "ip", "path",
// "rate", "concurrency").
func NewAdmissionRejected(gate, detail string, retryAfter time.Duration) *AdmissionError {
	return &AdmissionError{
		Kind:       KindAdmissionRejected,
		Status:     429,
		Message:    fmt.Sprintf("%s limit exceeded: %s", gate, detail),
		RetryAfter: retryAfter,
	}
}

// NewCircuitOpen reports that the named resource's circuit is open and
// calls are being short-circuited until the recovery timeout elapses.
func NewCircuitOpen(resource string, retryAfter time.Duration) *AdmissionError {
	return &AdmissionError{
		Kind:       KindCircuitOpen,
		Status:     503,
		Message:    fmt.Sprintf("circuit open for %s", resource),
		RetryAfter: retryAfter,
	}
}

// NewPoolExhausted reports that the connection pool cannot grow further.
// The health monitor's emergency path is triggered separately; the client
// just sees 503.
func NewPoolExhausted(detail string) *AdmissionError {
	return &AdmissionError{
		Kind:       KindPoolExhausted,
		Status:     503,
		Message:    detail,
		RetryAfter: 5 * time.Second,
	}
}

// AsAdmission extracts an AdmissionError from an error chain.
func AsAdmission(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsAdmissionRejected reports whether err is a 429-class rejection.
func IsAdmissionRejected(err error) bool {
	ae, ok := AsAdmission(err)
	return ok && ae.Kind == KindAdmissionRejected
}

// IsCircuitOpen reports whether err is a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	ae, ok := AsAdmission(err)
	return ok && ae.Kind == KindCircuitOpen
}

// IsPoolExhausted reports whether err is a pool-exhausted rejection.
func IsPoolExhausted(err error) bool {
	ae, ok := AsAdmission(err)
	return ok && ae.Kind == KindPoolExhausted
}

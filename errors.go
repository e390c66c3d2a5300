package laju

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the selected endpoint's circuit is open.
	ErrCircuitOpen = errors.New("laju: circuit open")

	// ErrRateLimited is returned when an upstream explicitly signaled throttling
	// and the request's retry budget is exhausted.
	ErrRateLimited = errors.New("laju: rate limited")

	// ErrSuspended is returned while the global backoff window is active.
	ErrSuspended = errors.New("laju: temporarily unavailable (backoff active)")

	// ErrNoAvailableEndpoint is returned when selection finds zero available endpoints.
	ErrNoAvailableEndpoint = errors.New("laju: no available endpoint")

	// ErrStopped is returned after EmergencyStop has halted dispatch.
	ErrStopped = errors.New("laju: coordinator stopped")
)

// ErrorType classifies a request failure. The dispatcher retries RateLimited
// and Timeout locally within the request's retry budget; every other type is
// returned to the caller as a terminal outcome.
type ErrorType string

const (
	ErrorTypeRateLimited         ErrorType = "RateLimited"
	ErrorTypeCircuitOpen         ErrorType = "CircuitOpen"
	ErrorTypeTimeout             ErrorType = "Timeout"
	ErrorTypeTransport           ErrorType = "Transport"
	ErrorTypeNoAvailableEndpoint ErrorType = "NoAvailableEndpoint"
	ErrorTypeSuspended           ErrorType = "Suspended"
	ErrorTypeStopped             ErrorType = "Stopped"
	ErrorTypeValidation          ErrorType = "Validation"
)

// Retryable reports whether the dispatcher may retry a failure of this type.
func (t ErrorType) Retryable() bool {
	return t == ErrorTypeRateLimited || t == ErrorTypeTimeout
}

// RequestError is the structured failure returned to callers.
type RequestError struct {
	Type       ErrorType
	Message    string
	Cause      error
	RequestID  string
	Endpoint   string
	Source     string
	Attempt    int
	MaxRetries int
	StatusCode int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (endpoint %s)", msg, e.Endpoint)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types so errors.Is works against both *RequestError
// values and the package sentinels.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*RequestError); ok {
		return e.Type == other.Type
	}
	switch target {
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimited
	case ErrSuspended:
		return e.Type == ErrorTypeSuspended
	case ErrNoAvailableEndpoint:
		return e.Type == ErrorTypeNoAvailableEndpoint
	case ErrStopped:
		return e.Type == ErrorTypeStopped
	}
	return false
}

// StatusError carries an upstream HTTP status code out of a FetchFunc so the
// classifier can see it. Transports should return it (or wrap it) for any
// non-2xx response they treat as a failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("upstream status %d", e.Code)
}

// Classifier maps a transport failure to an ErrorType. It replaces ad hoc
// substring matching on error messages with an explicit, extensible function;
// install a custom one with WithClassifier to recognize provider-specific
// throttling signals.
type Classifier func(err error) ErrorType

// DefaultClassifier recognizes explicit throttling status codes (429),
// server errors (5xx) and timeouts. Everything else is a generic transport
// failure.
func DefaultClassifier(err error) ErrorType {
	if err == nil {
		return ""
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 429:
			return ErrorTypeRateLimited
		case se.Code >= 500:
			return ErrorTypeTransport
		default:
			return ErrorTypeTransport
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTypeTimeout
	}

	return ErrorTypeTransport
}

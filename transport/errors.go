package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors classifying every failure the adapter returns.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrTransport indicates the backend was unreachable or timed out.
	ErrTransport = errors.New("transport failure")

	// ErrAuth indicates a 401, or no credential for a protected call.
	ErrAuth = errors.New("credential invalid")

	// ErrProtocol indicates a response that broke the API contract:
	// non-JSON or missing required fields in a 2xx body, or an
	// unexpected status code.
	ErrProtocol = errors.New("protocol violation")
)

// Error wraps an underlying error with its classification.
// It preserves the original error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel for classification (e.g., ErrAuth).
	Kind error
	// Op is the operation that failed (e.g., "list_products").
	Op string
	// Path is the request path, if any.
	Path string
	// Status is the HTTP status code, or 0 when no response arrived.
	Status int
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s %s: %v (status %d): %v", e.Op, e.Path, e.Kind, e.Status, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// StatusError is the underlying error for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func newError(kind error, op, path string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Status: status, Err: err}
}

// classifyDoError maps an http.Client.Do failure to ErrTransport.
// Context cancellation by the caller is passed through unclassified so
// callers can tell teardown from network trouble.
func classifyDoError(op, path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrTransport, op, path, 0, fmt.Errorf("timeout: %w", err))
	}
	return newError(ErrTransport, op, path, 0, err)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsTransport reports whether err is a network-level failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsProtocol reports whether err is a contract violation.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

package generate

import "fmt"

// Kind is the error taxonomy surfaced to HTTP clients, mapped to HTTP
// status codes by internal/httpapi.
type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request_error"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindRateLimited      Kind = "rate_limited"
	KindQueueFull        Kind = "queue_full"
	KindTimeout          Kind = "timeout"
	KindCancelled        Kind = "cancelled"
	KindModelError       Kind = "model_error"
	KindInternal         Kind = "internal_error"
)

// Error is a taxonomy-tagged error: every failure the coordinator can
// produce names which error kind it belongs to, so
// internal/httpapi never has to guess an HTTP status from a bare error
// string.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidRequestf(format string, args ...any) *Error {
	return newError(KindInvalidRequest, format, args...)
}

package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrorCode represents a specific error code in the system.
type ErrorCode string

const (
	// SequenceGapError indicates an update that does not bridge the current
	// book state cleanly. Fatal to the connection epoch: the book is discarded
	// and rebuilt from a fresh snapshot.
	SequenceGapError ErrorCode = "sequence_gap_error"
	// SnapshotUnavailableError indicates a venue snapshot fetch failure.
	SnapshotUnavailableError ErrorCode = "snapshot_unavailable_error"
	// SnapshotStaleError indicates a snapshot older than the buffered stream
	// could not be replaced by a fresh one.
	SnapshotStaleError ErrorCode = "snapshot_stale_error"
	// TransientNetworkError indicates a disconnect, timeout or upstream 5xx.
	TransientNetworkError ErrorCode = "transient_network_error"
	// MalformedMessageError indicates a single stream message that could not
	// be decoded. The message is skipped, the connection survives.
	MalformedMessageError ErrorCode = "malformed_message_error"
	// PageStoreError indicates a failure of the durable page store.
	PageStoreError ErrorCode = "page_store_error"
	// RowEncodeError indicates a book-state row that could not be serialized.
	RowEncodeError ErrorCode = "row_encode_error"

	// RedisConfigError represents an error when the Redis configuration is invalid or nil.
	RedisConfigError ErrorCode = "redis_config_error"
	// RedisConnectionError represents an error when connecting to Redis.
	RedisConnectionError ErrorCode = "redis_connection_error"
	// RedisGetError represents an error when getting a value from Redis.
	RedisGetError ErrorCode = "redis_get_error"
	// RedisSetError represents an error when setting a value in Redis.
	RedisSetError ErrorCode = "redis_set_error"
)

// CollectorError is an `error` carrying one of the collector's error codes.
// Builders raise these at protocol violations; the per-venue runner inspects
// the code to decide between skip, resync and degrade. Every CollectorError
// implements StackTracer, so the logger can surface the capture site.
type CollectorError struct {
	Code    ErrorCode
	Message string
	Err     error

	stack error
}

// NewCollectorError creates a CollectorError with the given code and message,
// capturing the stack at the construction site.
func NewCollectorError(code ErrorCode, message string) *CollectorError {
	return &CollectorError{
		Code:    code,
		Message: message,
		stack:   errors.New(message),
	}
}

// Error implements the error interface.
func (e *CollectorError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *CollectorError) Unwrap() error {
	return e.Err
}

// Wrap attaches an underlying error and returns the receiver, preserving the
// stack trace.
func (e *CollectorError) Wrap(err error) *CollectorError {
	e.Err = err
	if _, ok := err.(StackTracer); !ok {
		e.Err = errors.WithStack(err)
	}
	return e
}

// StackTrace returns the wrapped error's stack when it carries one, falling
// back to the stack captured at construction.
func (e *CollectorError) StackTrace() errors.StackTrace {
	if tracer, ok := e.Err.(StackTracer); ok {
		return tracer.StackTrace()
	}
	if tracer, ok := e.stack.(StackTracer); ok {
		return tracer.StackTrace()
	}
	return nil
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed.
// Returns an empty code when err carries none.
func CodeOf(err error) ErrorCode {
	var ce *CollectorError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

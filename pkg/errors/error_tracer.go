package errors

import "github.com/pkg/errors"

// StackTracer is implemented by errors carrying a pkg/errors stack trace.
// The logger inspects it to report the capture site.
type StackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorTracer annotates an error from outside the collector taxonomy with a
// stack trace, without assigning it an ErrorCode.
type ErrorTracer struct {
	Message string
	Err     error
}

// TracerFromError wraps err with a stack trace unless it already carries one.
func TracerFromError(err error) *ErrorTracer {
	tracer := &ErrorTracer{Message: err.Error(), Err: err}
	if _, ok := err.(StackTracer); !ok {
		tracer.Err = errors.WithStack(err)
	}
	return tracer
}

func (e *ErrorTracer) Error() string {
	return e.Message
}

func (e *ErrorTracer) Unwrap() error {
	return e.Err
}

// StackTrace returns the underlying error's stack, nil when it has none.
func (e *ErrorTracer) StackTrace() errors.StackTrace {
	if tracer, ok := e.Err.(StackTracer); ok {
		return tracer.StackTrace()
	}
	return nil
}

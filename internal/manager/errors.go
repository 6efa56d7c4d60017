package manager

import (
	"errors"

	"sessiond/internal/probe"
	"sessiond/internal/queue"
)

// ErrUnsupportedBackend is returned when the requested backend cannot be used.
var ErrUnsupportedBackend = probe.ErrUnsupportedBackend

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool { return errors.Is(err, queue.ErrTooBusy) }

// modelNotFoundError signals an unknown model reference or a missing weights file.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a model that cannot be found.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing inference engine so the HTTP
// layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct {
	msg string
	err error
}

func (e dependencyUnavailableError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e dependencyUnavailableError) Unwrap() error { return e.err }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// preconditionError is a caller bug: the request cannot be valid in any state.
type preconditionError struct{ msg string }

func (e preconditionError) Error() string { return "precondition failed: " + e.msg }

// ErrPrecondition constructs a preconditionError.
func ErrPrecondition(msg string) error { return preconditionError{msg: msg} }

// IsPrecondition reports whether err is a contract violation.
func IsPrecondition(err error) bool {
	var e preconditionError
	return errors.As(err, &e)
}

// unsupportedError reports a model that cannot serve the request as asked,
// such as an unknown weights format or an operation its manifest does not declare.
type unsupportedError struct{ what string }

func (e unsupportedError) Error() string { return "unsupported: " + e.what }

// ErrUnsupported constructs an unsupportedError.
func ErrUnsupported(what string) error { return unsupportedError{what: what} }

// IsUnsupported reports whether err is an unsupportedError or an unusable backend.
func IsUnsupported(err error) bool {
	var e unsupportedError
	return errors.As(err, &e) || errors.Is(err, ErrUnsupportedBackend)
}

package api

import (
	"context"
	"errors"

	"sessiond/internal/queue"
)

var (
	// ErrAborted is the single condition reported when the caller gave up,
	// whether before admission, while queued or during execution.
	ErrAborted = errors.New("prompt aborted")
	// ErrToolsWithGrammar rejects a chat turn that declares tools and a response constraint.
	ErrToolsWithGrammar = errors.New("tools cannot be combined with a response constraint")
	// ErrInputTooLong rejects input beyond the model's max_input_tokens.
	ErrInputTooLong = errors.New("input exceeds the model's token limit")
)

// invalidError is a malformed request.
type invalidError struct{ msg string }

func (e invalidError) Error() string { return "invalid request: " + e.msg }

// ErrInvalid constructs an invalid-request error.
func ErrInvalid(msg string) error { return invalidError{msg: msg} }

// IsInvalid reports whether err is a malformed request.
func IsInvalid(err error) bool {
	var e invalidError
	return errors.As(err, &e)
}

// IsAborted reports whether err is ErrAborted.
func IsAborted(err error) bool { return errors.Is(err, ErrAborted) }

// aborted folds every flavor of cancellation into ErrAborted. Errors unrelated
// to ctx pass through unchanged.
func aborted(ctx context.Context, err error) error {
	if err == nil {
		if ctx.Err() != nil {
			return ErrAborted
		}
		return nil
	}
	if errors.Is(err, ErrAborted) {
		return err
	}
	if errors.Is(err, queue.ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrAborted
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	return err
}

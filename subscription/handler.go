package subscription

import (
	"context"
	"errors"

	"github.com/proteanhq/eventengine-go/transport"
)

// Handler processes one delivered message.
//
// A nil return acknowledges the message. A plain error is treated as
// retryable and retried per the engine's policy. An error wrapped with Fatal
// routes the message to the dead-letter stream immediately.
//
// Cursor persistence is periodic, so handlers must tolerate re-delivery of
// already-processed messages: they should be naturally idempotent
// (state-setting rather than accumulating) or deduplicate explicitly.
type Handler func(ctx context.Context, message transport.Message) error

// fatalError marks an error as non-retryable.
type fatalError struct {
	cause error
}

func (e *fatalError) Error() string {
	return "fatal: " + e.cause.Error()
}

func (e *fatalError) Unwrap() error {
	return e.cause
}

// Fatal wraps an error so the engine dead-letters the message immediately
// instead of retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{cause: err}
}

// IsFatal reports whether the error was marked with Fatal.
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}

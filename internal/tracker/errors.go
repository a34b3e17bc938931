package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upgradewatch/internal/challenge"
	"upgradewatch/internal/session"
)

// ErrTransient marks a failure reaching the status page that is expected to
// go away on its own, such as a dropped connection or a navigation timeout.
var ErrTransient = errors.New("transient connection failure")

type Kind string

const (
	KindInvalidRequest      Kind = "InvalidRequest"
	KindSessionUnavailable  Kind = "SessionUnavailable"
	KindChallengeFailed     Kind = "ChallengeFailed"
	KindNoSegmentsFound     Kind = "NoSegmentsFound"
	KindRateLimited         Kind = "RateLimited"
	KindTransientConnection Kind = "TransientConnection"
	KindInternal            Kind = "Internal"
)

// Error is the only error type returned by the gateway. Message is safe to
// show to a user.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying later may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindSessionUnavailable, KindChallengeFailed, KindTransientConnection:
		return true
	}
	return false
}

// KindOf returns the kind of a gateway error, anything else is internal.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindInternal
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// classifyFetch maps a fetcher failure onto an error kind.
func classifyFetch(err error) *Error {
	var target *Error
	switch {
	case errors.As(err, &target):
		return target
	case errors.Is(err, session.ErrUnavailable), errors.Is(err, session.ErrClosed):
		return newError(KindSessionUnavailable, "the browser session is unavailable, try again shortly", err)
	case errors.Is(err, challenge.ErrFailed):
		return newError(KindChallengeFailed, "the status page verification could not be passed", err)
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return newError(KindTransientConnection, "the status page could not be reached", err)
	default:
		return newError(KindInternal, "the status page could not be fetched", err)
	}
}

package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInfra      Kind = "infrastructure"
)

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrInfra      = &Error{Kind: KindInfra}
)

// Error is the typed failure surfaced to use-case callers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Infra wraps cause as an infrastructure failure.
func Infra(cause error, format string, args ...any) error {
	return &Error{Kind: KindInfra, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Wrap leaves typed errors untouched and turns everything else into an
// infrastructure failure. nil stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return err
	}

	return &Error{Kind: KindInfra, Msg: "unexpected failure", Err: err}
}

// KindOf reports the kind of err, defaulting to infrastructure for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}

	return KindInfra
}

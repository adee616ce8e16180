package approval

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced by the approval engine.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindNotFound         Kind = "NotFound"
	KindForbidden        Kind = "Forbidden"
	KindAlreadyProcessed Kind = "AlreadyProcessed"
	KindLevelMismatch    Kind = "LevelMismatch"
	KindStageNotReached  Kind = "StageNotReached"
)

// Error is returned for every expected failure. Anything else is internal.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind so callers can write errors.Is(err, ErrForbidden).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) with(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrAlreadyProcessed = &Error{Kind: KindAlreadyProcessed}
	ErrLevelMismatch    = &Error{Kind: KindLevelMismatch}
	ErrStageNotReached  = &Error{Kind: KindStageNotReached}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" for internal errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Package apperr classifies failures by how the bot reacts to them.
//
// Validation and Conflict errors carry a message meant for the member who caused them.
// Expired means there is nothing left to act on. External wraps a failed call to the chat
// platform or the archive. Anything unclassified is Internal.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the reaction class of an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindExpired
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	// Msg is safe to show to members for Validation and Conflict errors.
	Msg string
	// HolderID names the member blocking a Conflict, when known.
	HolderID int64
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classifier lets error types outside this package declare their kind.
type Classifier interface {
	ErrorKind() Kind
}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports that holderID is in the way. holderID may be zero.
func Conflict(msg string, holderID int64) error {
	return &Error{Kind: KindConflict, Msg: msg, HolderID: holderID}
}

func Expired(msg string) error {
	return &Error{Kind: KindExpired, Msg: msg}
}

// External wraps a failed collaborator call.
func External(op string, err error) error {
	return &Error{Kind: KindExternal, Msg: op, Err: err}
}

// Internal wraps an invariant violation.
func Internal(op string, err error) error {
	return &Error{Kind: KindInternal, Msg: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	var c Classifier
	switch {
	case errors.As(err, &e):
		return e.Kind
	case errors.As(err, &c):
		return c.ErrorKind()
	default:
		return KindInternal
	}
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the member-facing text of err, or fallback when err carries none.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" && (e.Kind == KindValidation || e.Kind == KindConflict) {
		return e.Msg
	}
	var c interface {
		Classifier
		UserMessage() string
	}
	if errors.As(err, &c) {
		return c.UserMessage()
	}
	return fallback
}

// HolderOf returns the blocking member of a Conflict error.
func HolderOf(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.HolderID
	}
	var h interface{ HolderUserID() int64 }
	if errors.As(err, &h) {
		return h.HolderUserID()
	}
	return 0
}

// Package apperr carries the error kinds surfaced by the matching and
// lifecycle operations, with enough detail to render a user-facing message.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindValidation        Kind = "ValidationError"
	KindInsufficientStock Kind = "InsufficientStock"
	KindNotEligible       Kind = "NotEligible"
	KindConflict          Kind = "Conflict"
	KindStorage           Kind = "StorageError"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error

	// NextEligible is set on NotEligible.
	NextEligible *time.Time
	// Available is set on InsufficientStock.
	Available *int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Invalid wraps a parse error as a validation failure.
func Invalid(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

func InsufficientStock(hospitalID string, group string, available, requested int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("hospital %s has %d unit(s) of %s, %d requested", hospitalID, available, group, requested),
		Available: &available,
	}
}

func NotEligible(donorID string, next time.Time) *Error {
	return &Error{
		Kind:         KindNotEligible,
		Message:      fmt.Sprintf("donor %s is not eligible until %s", donorID, next.Format("2006-01-02")),
		NextEligible: &next,
	}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a datastore failure. Nil in, nil out.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf returns the kind of err, or KindStorage for anything unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStorage
}

func Is(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

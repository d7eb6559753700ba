// Package etlerr defines the error taxonomy shared by every stage of the
// migration: connecting to a store, extracting source rows, loading them into
// the destination, and verifying the result.
//
// All stage failures are *Error values. Callers classify them with errors.Is
// against the sentinel values (ErrConnection, ErrExtraction, ErrLoad,
// ErrConsistency) or with CategoryOf.
package etlerr

import (
	"errors"
	"fmt"
)

// Category identifies the stage an error belongs to.
type Category string

const (
	// CategoryConnection means a store could not be opened or used.
	CategoryConnection Category = "connection"
	// CategoryExtraction means a source row was malformed or unreadable.
	CategoryExtraction Category = "extraction"
	// CategoryLoad means a destination write failed outside the
	// unique-conflict skip policy.
	CategoryLoad Category = "load"
	// CategoryConsistency means source and destination disagree after load.
	CategoryConsistency Category = "consistency"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its category.
var (
	ErrConnection  = errors.New("connection error")
	ErrExtraction  = errors.New("extraction error")
	ErrLoad        = errors.New("load error")
	ErrConsistency = errors.New("consistency error")
)

// Error is a stage-labeled failure.
type Error struct {
	Category Category
	// Entity is the entity kind being processed, empty when not applicable.
	Entity  string
	Message string
	Cause   error
}

// Error renders "<category> error [entity]: message: cause".
func (e *Error) Error() string {
	s := string(e.Category) + " error"
	if e.Entity != "" {
		s += " [" + e.Entity + "]"
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's category.
func (e *Error) Is(target error) bool {
	return target != nil && target == sentinel(e.Category)
}

func sentinel(c Category) error {
	switch c {
	case CategoryConnection:
		return ErrConnection
	case CategoryExtraction:
		return ErrExtraction
	case CategoryLoad:
		return ErrLoad
	case CategoryConsistency:
		return ErrConsistency
	}
	return nil
}

func newError(c Category, entity string, cause error, format string, args ...any) *Error {
	return &Error{
		Category: c,
		Entity:   entity,
		Message:  fmt.Sprintf(format, args...),
		Cause:    cause,
	}
}

// Connection builds a connection error.
func Connection(cause error, format string, args ...any) *Error {
	return newError(CategoryConnection, "", cause, format, args...)
}

// Extraction builds an extraction error for the given entity kind.
func Extraction(entity string, cause error, format string, args ...any) *Error {
	return newError(CategoryExtraction, entity, cause, format, args...)
}

// Load builds a load error for the given entity kind.
func Load(entity string, cause error, format string, args ...any) *Error {
	return newError(CategoryLoad, entity, cause, format, args...)
}

// Consistency builds a consistency error.
func Consistency(cause error, format string, args ...any) *Error {
	return newError(CategoryConsistency, "", cause, format, args...)
}

// CategoryOf returns the category of the outermost *Error in err's chain and
// false when err carries none.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}

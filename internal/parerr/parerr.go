// Package parerr defines the error kinds spec.md §7 names and the
// small helpers for classifying and wrapping them, in the
// github.com/pkg/errors idiom the teacher uses throughout client/ and
// server/ (errors.Wrap at I/O boundaries, %+v for logging).
package parerr

import "github.com/pkg/errors"

// Kind is one of the named error kinds a caller-facing operation can
// report; it is not a Go error type in its own right, just a tag a
// *Error carries.
type Kind int

const (
	KindNone Kind = iota
	KindNotPar
	KindVersionMismatch
	KindCorrupt
	KindIO
	KindAlreadyLoaded
	KindNotFound
	KindNameClash
	KindUnrestorable
	KindWriteBlocked
	KindInvalidArgument
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindNotPar:
		return "NotPar"
	case KindVersionMismatch:
		return "VersionMismatch"
	case KindCorrupt:
		return "Corrupt"
	case KindIO:
		return "Io"
	case KindAlreadyLoaded:
		return "AlreadyLoaded"
	case KindNotFound:
		return "NotFound"
	case KindNameClash:
		return "NameClash"
	case KindUnrestorable:
		return "Unrestorable"
	case KindWriteBlocked:
		return "WriteBlocked"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotImplemented:
		return "NotImplemented"
	default:
		return "None"
	}
}

// Error pairs a Kind with the underlying cause, preserving the
// pkg/errors stack trace on whatever it wraps.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error with a message, stack-traced the way
// errors.New is everywhere else in the teacher's code.
func New(k Kind, msg string) error {
	return &Error{Kind: k, cause: errors.New(msg)}
}

// Wrap tags err with k, adding msg as context, or returns nil if err
// is nil.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, cause: errors.Wrap(err, msg)}
}

// As reports whether err (or something it wraps) is a *Error and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	for err != nil {
		if pe, ok := err.(*Error); ok {
			e = pe
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e, e != nil
}

// KindOf extracts the Kind of err, or KindIO if err doesn't carry one
// (any unclassified I/O failure defaults to Io per spec.md §7).
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindIO
}

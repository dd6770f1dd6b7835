package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Capture failures. Callers match these with errors.Cause (or errors.Is).
var (
	// the output file could not be created; nothing was written
	ErrSinkOpen = errors.New("failed to open sink")
	// pid did not resolve to a page table base; nothing was written
	ErrAddressSpaceNotFound = errors.New("address space not found")
	// a page could not be read; snapshots skip these
	ErrPageNotResident = errors.New("page not resident")
	// the sink failed mid-record, the file must be treated as corrupt
	ErrWrite = errors.New("write failed")
	// a reader hit EOF or garbage before the trailer
	ErrTruncated = errors.New("truncated file")
	// a trace or snapshot is already open on this session
	ErrSessionActive = errors.New("capture already active")
)

type causer interface {
	Cause() error
}

// wrappedError keeps both the sentinel and the underlying error reachable.
type wrappedError struct {
	kind  error
	cause error
	msg   string
}

func (w *wrappedError) Error() string {
	if w.cause == nil {
		return w.msg + ": " + w.kind.Error()
	}
	return w.msg + ": " + w.kind.Error() + ": " + w.cause.Error()
}

func (w *wrappedError) Cause() error  { return w.kind }
func (w *wrappedError) Unwrap() error { return w.kind }

// Wrap tags err with one of the capture sentinels.
// errors.Cause(Wrap(ErrWrite, err, "...")) == ErrWrite.
func Wrap(kind, err error, msg string) error {
	return errors.WithStack(&wrappedError{kind: kind, cause: err, msg: msg})
}

// Wrapf is Wrap with a format string.
func Wrapf(kind, err error, format string, args ...interface{}) error {
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// Underlying returns the error that caused a tagged failure, if any.
func Underlying(err error) error {
	for err != nil {
		if w, ok := err.(*wrappedError); ok {
			return w.cause
		}
		c, ok := err.(causer)
		if !ok {
			return nil
		}
		next := c.Cause()
		if next == err {
			return nil
		}
		err = next
	}
	return nil
}

// IsKind reports whether err was tagged with kind.
func IsKind(err, kind error) bool {
	return errors.Cause(err) == kind
}

// Package errs holds the error taxonomy shared by the index internals.
// The root package re-exports every sentinel and type.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity is matched by every IntegrityError.
	ErrIntegrity = errors.New("integrity error")

	// ErrModelMismatch is matched by every ModelMismatchError.
	ErrModelMismatch = errors.New("model mismatch")

	// ErrDimensionMismatch is matched by every DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCorruptRecord is matched by every CorruptRecordError.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrIO is matched by every IOError.
	ErrIO = errors.New("io failure")

	// ErrInvalidArgument is returned when a precondition on an argument is violated.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTypeMismatch is returned when a vector buffer disagrees with the declared dtype.
	ErrTypeMismatch = errors.New("vector buffer type does not match dtype")

	// ErrClosed is returned when an operation is attempted on a closed index.
	ErrClosed = errors.New("index closed")
)

// IntegrityError reports a checksum, row count or dimension disagreement.
// Integrity errors are surfaced, never repaired.
type IntegrityError struct {
	Segment string
	Reason  string
}

func (e *IntegrityError) Error() string {
	if e.Segment == "" {
		return "integrity error: " + e.Reason
	}
	return fmt.Sprintf("integrity error in segment %s: %s", e.Segment, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// Integrity creates an IntegrityError.
func Integrity(segment, format string, args ...any) error {
	return &IntegrityError{Segment: segment, Reason: fmt.Sprintf(format, args...)}
}

// ModelMismatchError rejects a commit against an index built with another model.
type ModelMismatchError struct {
	Field string
	Have  string
	Want  string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("model mismatch: index has %s %q, commit has %q; rebuild required", e.Field, e.Have, e.Want)
}

func (e *ModelMismatchError) Is(target error) bool { return target == ErrModelMismatch }

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// CorruptRecordError describes a malformed line in a JSON-lines file.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type CorruptRecordError struct {
	File  string
	Line  int
	cause error
}

// CorruptRecord creates a CorruptRecordError. Line is 1-based.
func CorruptRecord(file string, line int, cause error) error {
	return &CorruptRecordError{File: file, Line: line, cause: cause}
}

func (e *CorruptRecordError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("corrupt record at %s:%d", e.File, e.Line)
	}
	return fmt.Sprintf("corrupt record at %s:%d: %v", e.File, e.Line, e.cause)
}

func (e *CorruptRecordError) Unwrap() error { return e.cause }

func (e *CorruptRecordError) Is(target error) bool { return target == ErrCorruptRecord }

// IOError wraps a failure propagated from the storage adapter.
//
// The original underlying error can be accessed via errors.Unwrap.
type IOError struct {
	Op    string
	Path  string
	cause error
}

// IO wraps err as an IOError. It returns nil for a nil err.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}
	return &IOError{Op: op, Path: path, cause: err}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io failure: %s %s: %v", e.Op, e.Path, e.cause)
}

func (e *IOError) Unwrap() error { return e.cause }

func (e *IOError) Is(target error) bool { return target == ErrIO }

package semindex

import (
	"github.com/hupe1980/semindex/embed"
	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/storage"
)

var (
	// ErrIntegrity is matched by every IntegrityError.
	ErrIntegrity = errs.ErrIntegrity

	// ErrModelMismatch is returned when a commit targets an index built with another model.
	ErrModelMismatch = errs.ErrModelMismatch

	// ErrDimensionMismatch is returned when a vector has the wrong width.
	ErrDimensionMismatch = errs.ErrDimensionMismatch

	// ErrCorruptRecord is matched by malformed WAL, ledger or metadata lines.
	ErrCorruptRecord = errs.ErrCorruptRecord

	// ErrIO is matched by storage failures.
	ErrIO = errs.ErrIO

	// ErrInvalidArgument is returned when a precondition on an argument is violated.
	ErrInvalidArgument = errs.ErrInvalidArgument

	// ErrTypeMismatch is returned when a vector buffer disagrees with the declared dtype.
	ErrTypeMismatch = errs.ErrTypeMismatch

	// ErrClosed is returned when an operation is attempted on a closed index.
	ErrClosed = errs.ErrClosed

	// ErrNotFound is returned by storage adapters for missing files.
	ErrNotFound = storage.ErrNotFound

	// ErrEmbedderNotReady is returned when the embedding backend is not loaded.
	ErrEmbedderNotReady = embed.ErrNotReady

	// ErrEmbedTimeout is returned when an embedding call exceeds its deadline.
	ErrEmbedTimeout = embed.ErrTimeout
)

type (
	// IntegrityError reports an inconsistency in one segment.
	IntegrityError = errs.IntegrityError

	// ModelMismatchError describes two incompatible model descriptors.
	ModelMismatchError = errs.ModelMismatchError

	// DimensionMismatchError describes a vector width disagreement.
	DimensionMismatchError = errs.DimensionMismatchError

	// CorruptRecordError locates a malformed line.
	CorruptRecordError = errs.CorruptRecordError

	// IOError wraps a storage failure with the operation and path.
	IOError = errs.IOError
)

package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	// CategoryDecode: the backing file exists but cannot be read back as the
	// expected collection type.
	CategoryDecode Category = "decode"
	// CategoryWrite: I/O or serialization failure while persisting.
	CategoryWrite Category = "write"
	// CategoryIndex: a position is out of range for the collection.
	CategoryIndex Category = "index"
	// CategoryEncode: the image could not be re-encoded.
	CategoryEncode Category = "encode"

	CategoryInput    Category = "input"
	CategoryPipeline Category = "pipeline"
	CategoryStorage  Category = "storage"
	CategoryConfig   Category = "config"
)

// Error is the structured error type used throughout the module.
type Error struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a non-retryable Error.
func New(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Transient creates a retryable Error.  The category is kept so callers can
// still tell a failed write from a failed read.
func Transient(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.  An error that already carries
// a category is wrapped without losing it: IsCategory finds the outermost one.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == cat
	}
	return false
}

// CategoryOf returns the outermost category of err, or "" when err is not
// an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

func IsDecode(err error) bool { return IsCategory(err, CategoryDecode) }
func IsWrite(err error) bool  { return IsCategory(err, CategoryWrite) }
func IsIndex(err error) bool  { return IsCategory(err, CategoryIndex) }
func IsEncode(err error) bool { return IsCategory(err, CategoryEncode) }

// Sentinel errors for common failure modes.
var (
	ErrOutOfRange        = errors.New("position out of range")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrEmptyInput        = errors.New("empty input")
	ErrWorkerPoolFull    = errors.New("worker pool queue full")
	ErrClosed            = errors.New("processor stopped")
)

// OutOfRange builds the IndexError returned for a bad position.
func OutOfRange(op string, pos, length int) *Error {
	return New(CategoryIndex, op, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, pos, length))
}

package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced to a caller matches exactly one of these via errors.Is.
var (
	ErrInvalidFile        = errors.New("invalid file")
	ErrParse              = errors.New("parse failure")
	ErrOCR                = errors.New("ocr failure")
	ErrEmbedding          = errors.New("embedding failure")
	ErrIndex              = errors.New("index failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrStorage            = errors.New("storage failure")
	ErrNotFound           = errors.New("not found")
)

// Causes that are refined further than their kind.
var (
	ErrEncrypted         = errors.New("pdf is encrypted and no valid password was supplied")
	ErrNoContent         = errors.New("no content extracted from pdf")
	ErrIndexCorrupt      = errors.New("index snapshot is corrupt")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrOCRUnavailable    = errors.New("ocr engine not available")
)

// Error carries an error kind, the failing operation and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func InvalidFileError(op string, err error) error { return newError(ErrInvalidFile, op, err) }
func ParseError(op string, err error) error       { return newError(ErrParse, op, err) }
func OCRFailure(op string, err error) error       { return newError(ErrOCR, op, err) }
func EmbeddingError(op string, err error) error   { return newError(ErrEmbedding, op, err) }
func IndexError(op string, err error) error       { return newError(ErrIndex, op, err) }
func StorageError(op string, err error) error     { return newError(ErrStorage, op, err) }
func NotFoundError(op string, err error) error    { return newError(ErrNotFound, op, err) }

func ServiceUnavailable(op string, err error) error {
	return newError(ErrServiceUnavailable, op, err)
}

// KindOf maps an error to the wire name of its kind.
// ServiceUnavailable wins over EmbeddingError so query-time outages read as outages.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFile):
		return "invalid_file"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrEmbedding):
		return "embedding_error"
	case errors.Is(err, ErrIndex):
		return "index_error"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOCR):
		return "ocr_failure"
	default:
		return "internal_error"
	}
}

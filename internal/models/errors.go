package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")
	ErrNotFound             = errors.New("not found")

	// ErrDimensionMismatch is reported when a vector does not have the store's dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrInvalidParameters)
	ErrEmptyDocument     = fmt.Errorf("%w: document has no extractable text", ErrInvalidParameters)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", ErrInvalidParameters)
)

// Error ties an operation and an error kind to the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns nil when err is nil, otherwise an *Error of the given kind.
func Wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	// keep the innermost kind when it is already classified
	var e *Error
	if errors.As(err, &e) && errors.Is(err, kind) {
		return err
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsRetryable reports whether err is a transient provider or store failure.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrSynthesisUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

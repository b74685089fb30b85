package protocol

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies why a notification payload could not be decoded.
type DecodeErrorKind string

const (
	// Truncated means the payload was shorter than the minimum the layout
	// requires. Trailing bytes beyond the known fields are never an error.
	Truncated DecodeErrorKind = "truncated"
	// InvalidFormat means the payload had the required length but its
	// contents violated the layout (bad flags, out-of-range field, missing
	// frame signature).
	InvalidFormat DecodeErrorKind = "invalid_format"
)

// DecodeError is returned by the payload decoders. A DecodeError is always
// a single-packet problem: the caller drops the sample and keeps streaming.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Kind.
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons.
var (
	ErrTruncated     = &DecodeError{Kind: Truncated}
	ErrInvalidFormat = &DecodeError{Kind: InvalidFormat}
)

func truncatedf(format string, args ...interface{}) error {
	return &DecodeError{Kind: Truncated, Msg: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...interface{}) error {
	return &DecodeError{Kind: InvalidFormat, Msg: fmt.Sprintf(format, args...)}
}

// IsDecodeError reports whether err is any DecodeError.
func IsDecodeError(err error) bool {
	var derr *DecodeError
	return errors.As(err, &derr)
}

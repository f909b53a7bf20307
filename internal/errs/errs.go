// Package errs defines the failure kinds shared by every stage of the
// fingerprint pipeline.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrConfiguration           = errors.New("configuration error")
	ErrDecode                  = errors.New("decode error")
	ErrHashing                 = errors.New("hashing error")
	ErrAggregation             = errors.New("aggregation error")
	ErrIncompatibleFingerprint = errors.New("incompatible fingerprint")
	ErrMalformedFingerprint    = errors.New("malformed fingerprint")
)

// NoFrame marks an Error that is not tied to a specific frame.
const NoFrame = -1

// Error carries the kind of a failure together with enough context to
// diagnose it.
type Error struct {
	Kind  error
	Op    string
	Frame int
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Frame != NoFrame {
		fmt.Fprintf(&b, " (frame %d)", e.Frame)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error of the given kind.
func New(kind error, op string, frame int, err error, format string, args ...any) *Error {
	return &Error{
		Kind:  kind,
		Op:    op,
		Frame: frame,
		Msg:   fmt.Sprintf(format, args...),
		Err:   err,
	}
}

// Configf reports an invalid parameter.
func Configf(op, format string, args ...any) error {
	return New(ErrConfiguration, op, NoFrame, nil, format, args...)
}

// Decodef reports an unreadable video or frame.
func Decodef(op string, frame int, err error, format string, args ...any) error {
	return New(ErrDecode, op, frame, err, format, args...)
}

// Hashing reports a failure of the image hash primitive on one frame.
func Hashing(op string, frame int, err error) error {
	return New(ErrHashing, op, frame, err, "")
}

// Aggregationf reports that a fingerprint cannot be assembled.
func Aggregationf(op, format string, args ...any) error {
	return New(ErrAggregation, op, NoFrame, nil, format, args...)
}

// Incompatible reports a comparison between fingerprints of different width.
func Incompatible(op string, want, got int) error {
	return New(ErrIncompatibleFingerprint, op, NoFrame, nil, "width %d vs %d", want, got)
}

// Malformedf reports a stored fingerprint that cannot be parsed.
func Malformedf(op, format string, args ...any) error {
	return New(ErrMalformedFingerprint, op, NoFrame, nil, format, args...)
}

// KindOf returns the failure kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrConfiguration,
		ErrDecode,
		ErrHashing,
		ErrAggregation,
		ErrIncompatibleFingerprint,
		ErrMalformedFingerprint,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

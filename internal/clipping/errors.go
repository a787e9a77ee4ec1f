package clipping

import (
	"errors"
	"fmt"
)

// Reason classifies why a clip was rejected
type Reason string

const (
	ReasonUnseekable             Reason = "unseekable"
	ReasonInvalidRange           Reason = "invalid_range"
	ReasonMultiPeriodUnsupported Reason = "multi_period_unsupported"
)

// Error is returned when clip bounds cannot be applied to an upstream timeline.
// Errors compare equal under errors.Is when their reasons match.
type Error struct {
	Reason     Reason // Machine-readable rejection reason
	Message    string // Human-readable detail
	StartUs    int64  // Requested start bound
	EndUs      int64  // Requested end bound
	DurationUs int64  // Upstream window duration
}

var (
	// ErrUnseekable rejects a non-trivial clip of a window that cannot seek.
	ErrUnseekable = &Error{Reason: ReasonUnseekable, Message: "cannot clip an unseekable window"}

	// ErrInvalidRange rejects a start bound beyond the resolved end bound.
	ErrInvalidRange = &Error{Reason: ReasonInvalidRange, Message: "invalid clip range"}

	// ErrMultiPeriodUnsupported rejects upstream timelines that are not a single window with a single period.
	ErrMultiPeriodUnsupported = &Error{Reason: ReasonMultiPeriodUnsupported, Message: "clipping supports a single window with a single period"}
)

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is a clipping error with the same reason
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Reason == t.Reason
	}
	return false
}

func newError(reason Reason, startUs, endUs, durationUs int64, format string, args ...any) *Error {
	return &Error{
		Reason:     reason,
		Message:    fmt.Sprintf(format, args...),
		StartUs:    startUs,
		EndUs:      endUs,
		DurationUs: durationUs,
	}
}

// Outcome labels the result of a clip for metrics and logs: "ok", a Reason,
// or "error" for anything else.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var clipErr *Error
	if errors.As(err, &clipErr) {
		return string(clipErr.Reason)
	}
	return "error"
}

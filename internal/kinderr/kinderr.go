// Package kinderr classifies the core's failures into a closed taxonomy
// (spec §7) instead of Go's open error hierarchy, so every collaborator
// agrees on one set of kinds and the HTTP layer has one mapping table.
package kinderr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one entry in the closed error taxonomy.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	InvalidPath
	InvalidSegmentName
	UnknownQuality
	ProbeError
	NoKeyframes
	ProbeBufferOverflow
	ProbeTimeout
	PlanInvariantViolation
	EncoderError
	EncoderTimeout
	CacheIOError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidPath:
		return "InvalidPath"
	case InvalidSegmentName:
		return "InvalidSegmentName"
	case UnknownQuality:
		return "UnknownQuality"
	case ProbeError:
		return "ProbeError"
	case NoKeyframes:
		return "NoKeyframes"
	case ProbeBufferOverflow:
		return "ProbeBufferOverflow"
	case ProbeTimeout:
		return "ProbeTimeout"
	case PlanInvariantViolation:
		return "PlanInvariantViolation"
	case EncoderError:
		return "EncoderError"
	case EncoderTimeout:
		return "EncoderTimeout"
	case CacheIOError:
		return "CacheIOError"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with a Kind, following the %w-chain
// idiom used throughout the media server's service layer.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinderr.Error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates a kinderr.Error wrapping cause. Returns nil if cause is nil.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the Kind from err, returning Unknown if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is (or wraps) a kinderr.Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the HTTP status the facade's callers should
// return. Per spec §7, propagation policy: nothing is retried inside the
// core; this table is consumed only by the HTTP layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case InvalidPath, InvalidSegmentName, UnknownQuality:
		return http.StatusBadRequest
	case ProbeError, NoKeyframes, ProbeBufferOverflow, ProbeTimeout,
		PlanInvariantViolation, EncoderError, EncoderTimeout, CacheIOError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

package types

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrorKind classifies scheduling failures by how far they propagate
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration fails a single tree computation: bad strategy or
	// a pinned source that holds no replica.
	KindConfiguration
	// KindNoActiveChannel means no usable route exists this cycle.
	KindNoActiveChannel
	// KindResolution covers failed replica, metadata or URL lookups.
	KindResolution
	// KindPersist covers failed channel-queue or registration writes.
	KindPersist
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindNoActiveChannel:
		return "NoActiveChannel"
	case KindResolution:
		return "ResolutionFailure"
	case KindPersist:
		return "PersistFailure"
	default:
		return "Unknown"
	}
}

// class maps a kind onto the errdefs taxonomy
func (k ErrorKind) class() error {
	switch k {
	case KindConfiguration:
		return errdefs.ErrInvalidArgument
	case KindNoActiveChannel:
		return errdefs.ErrUnavailable
	case KindResolution:
		return errdefs.ErrNotFound
	case KindPersist:
		return errdefs.ErrDataLoss
	default:
		return errdefs.ErrUnknown
	}
}

// Error is the tagged error returned by the scheduling engine and driver
type Error struct {
	Kind    ErrorKind
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match both the errdefs class and another *Error of the same kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return target == e.Kind.class()
}

// NewError builds a tagged error
func NewError(kind ErrorKind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Errorf builds a tagged error with a formatted cause
func Errorf(kind ErrorKind, op, subject, format string, args ...any) *Error {
	return NewError(kind, op, subject, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first tagged error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind buckets Firestore failures the way the repositories
// layer cares about them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error wraps an underlying Firestore failure with a coarse kind so
// callers can branch without importing grpc status codes.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("firestore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("firestore: %s", e.Op)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements the repositories.RepositoryError interface.
func (e *Error) IsNotFound() bool { return e != nil && e.Kind == KindNotFound }

// IsConflict implements the repositories.RepositoryError interface.
func (e *Error) IsConflict() bool { return e != nil && e.Kind == KindConflict }

// IsUnavailable implements the repositories.RepositoryError interface.
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// WrapError classifies err for the given operation. Context
// cancellations pass through untouched so callers can match them
// directly.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	kind := KindUnknown
	switch status.Code(err) {
	case codes.NotFound:
		kind = KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		kind = KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		kind = KindUnavailable
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewNotFoundError builds a not-found error for queries that matched
// no document, where there is no underlying grpc status to classify.
func NewNotFoundError(op, message string) error {
	return &Error{Op: op, Kind: KindNotFound, Err: errors.New(message)}
}

// IsNotFound reports whether err classifies as a missing document.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsConflict reports whether err classifies as a contention or
// precondition failure.
func IsConflict(err error) bool {
	return kindOf(err) == KindConflict
}

// IsUnavailable reports whether err classifies as a transient
// backend failure worth retrying.
func IsUnavailable(err error) bool {
	return kindOf(err) == KindUnavailable
}

func kindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

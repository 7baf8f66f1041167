package explorer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed explorer call. Transient errors are worth
// retrying, permanent ones are not. IndexingLag marks a block that the
// explorer has not indexed yet, a condition expected to resolve by itself
// within seconds.
type ErrorKind int

const (
	ErrKindTransient ErrorKind = iota
	ErrKindPermanent
	ErrKindIndexingLag
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindPermanent:
		return "permanent"
	case ErrKindIndexingLag:
		return "indexing_lag"
	default:
		return "unknown"
	}
}

// Error wraps the failure of an explorer call with its classification and
// the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("explorer: %s: %s error: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient returns whether the given error is a transient explorer error.
func IsTransient(err error) bool {
	return hasKind(err, ErrKindTransient)
}

// IsPermanent returns whether the given error is a permanent explorer error.
func IsPermanent(err error) bool {
	return hasKind(err, ErrKindPermanent)
}

// IsIndexingLag returns whether the given error is caused by a block not yet
// visible to the explorer.
func IsIndexingLag(err error) bool {
	return hasKind(err, ErrKindIndexingLag)
}

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

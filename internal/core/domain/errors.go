package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGapLimit is thrown when a recovery is requested with a zero
	// or negative gap limit.
	ErrInvalidGapLimit = errors.New("gap limit must be a positive number")
	// ErrInvalidBatchSize is thrown when a recovery is requested with a zero
	// or negative address batch size.
	ErrInvalidBatchSize = errors.New("batch size must be a positive number")
	// ErrInvalidBirthday ...
	ErrInvalidBirthday = errors.New("birthday height must not be a negative number")
	// ErrNullScopes is thrown when a restore is requested without any key
	// scope to be scanned.
	ErrNullScopes = errors.New("restore requires at least one key scope")
	// ErrNullKnownAddresses is thrown when a rescan is requested without any
	// known address.
	ErrNullKnownAddresses = errors.New("rescan requires at least one known address")
	// ErrUnknownRecoveryMode ...
	ErrUnknownRecoveryMode = errors.New("recovery mode must be either restore or rescan")
	// ErrScanCanceled marks a scan interrupted by the caller. It is returned
	// along with the partial result committed before the interruption and is
	// distinct from a scan failure.
	ErrScanCanceled = errors.New("scan canceled")
)

// PartialScanError reports exactly which units of a scan could not be
// resolved. It is never swallowed: a scan either completes in full or
// surfaces one of these.
type PartialScanError struct {
	UnresolvedHeights  []int
	UnresolvedBranches []Branch
	Err                error
}

func (e *PartialScanError) Error() string {
	if len(e.UnresolvedHeights) > 0 {
		return fmt.Sprintf(
			"scan left %d height(s) unresolved starting at %d: %s",
			len(e.UnresolvedHeights), e.UnresolvedHeights[0], e.Err,
		)
	}
	return fmt.Sprintf(
		"scan left %d branch(es) unresolved: %s", len(e.UnresolvedBranches), e.Err,
	)
}

func (e *PartialScanError) Unwrap() error {
	return e.Err
}

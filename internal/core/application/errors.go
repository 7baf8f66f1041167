package application

import "errors"

var (
	// ErrNullExplorer ...
	ErrNullExplorer = errors.New("explorer service must not be null")
	// ErrNullDeriver ...
	ErrNullDeriver = errors.New("address deriver must not be null")
	// ErrNullRepository ...
	ErrNullRepository = errors.New("scan state repository must not be null")
	// ErrInvalidRange is thrown when a block scan is requested over a
	// descending height range.
	ErrInvalidRange = errors.New("end height must not be lower than start height")
	// ErrInvalidThreshold ...
	ErrInvalidThreshold = errors.New("block-scan threshold must be a positive number")
	// ErrInvalidBruteForceWindow ...
	ErrInvalidBruteForceWindow = errors.New("brute-force window must be a positive number")
	// ErrUnknownStrategy guards the exhaustiveness of strategy selection.
	ErrUnknownStrategy = errors.New("unknown scan strategy")
)

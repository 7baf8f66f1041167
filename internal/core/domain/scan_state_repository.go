package domain

import "context"

// ScanStateRepository persists the scan progress between coordinator
// invocations: the last block height fully processed by the block-scan
// engine and the highest used address index per branch. The wallet's own
// persistence is an external collaborator, this store only spares redundant
// work across restarts.
type ScanStateRepository interface {
	// GetLastProcessedHeight returns the last fully processed block height,
	// or -1 if no range has ever been processed.
	GetLastProcessedHeight(ctx context.Context) (int, error)
	// UpdateLastProcessedHeight records that every height up to the given
	// one has been fully and successfully processed.
	UpdateLastProcessedHeight(ctx context.Context, height int) error
	// GetHighestUsedIndex returns the highest used address index known for
	// the given branch, or -1 if none.
	GetHighestUsedIndex(ctx context.Context, branch Branch) (int, error)
	// UpdateHighestUsedIndex records the highest used address index for the
	// given branch. Lower values than the stored one are ignored.
	UpdateHighestUsedIndex(ctx context.Context, branch Branch, index int) error
	// Close releases the underlying store.
	Close() error
}

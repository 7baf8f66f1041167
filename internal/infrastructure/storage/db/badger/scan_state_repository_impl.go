package dbbadger

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v3"

	"github.com/tdex-network/chainscan/internal/core/domain"
)

const (
	lastProcessedHeightKey = "last_processed_height"
	highestUsedIndexKey    = "highest_used_index"
)

type scanStateRepositoryImpl struct {
	db *badger.DB
}

// NewScanStateRepositoryImpl returns a ScanStateRepository backed by a
// badger store under the given data directory. An empty datadir opens an
// in-memory store, useful for tests.
func NewScanStateRepositoryImpl(datadir string) (domain.ScanStateRepository, error) {
	var opts badger.Options
	if len(datadir) > 0 {
		opts = badger.DefaultOptions(filepath.Join(datadir, "scanstate"))
	} else {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open scan state store: %w", err)
	}
	return &scanStateRepositoryImpl{db: db}, nil
}

func (r *scanStateRepositoryImpl) GetLastProcessedHeight(
	_ context.Context,
) (int, error) {
	return r.getInt([]byte(lastProcessedHeightKey))
}

func (r *scanStateRepositoryImpl) UpdateLastProcessedHeight(
	_ context.Context, height int,
) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(
			[]byte(lastProcessedHeightKey), []byte(strconv.Itoa(height)),
		)
	})
}

func (r *scanStateRepositoryImpl) GetHighestUsedIndex(
	_ context.Context, branch domain.Branch,
) (int, error) {
	return r.getInt(branchKey(branch))
}

func (r *scanStateRepositoryImpl) UpdateHighestUsedIndex(
	_ context.Context, branch domain.Branch, index int,
) error {
	key := branchKey(branch)
	return r.db.Update(func(txn *badger.Txn) error {
		current := -1
		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				current, err = strconv.Atoi(string(val))
				return err
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if index <= current {
			return nil
		}
		return txn.Set(key, []byte(strconv.Itoa(index)))
	})
}

func (r *scanStateRepositoryImpl) Close() error {
	return r.db.Close()
}

func (r *scanStateRepositoryImpl) getInt(key []byte) (int, error) {
	value := -1
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value, err = strconv.Atoi(string(val))
			return err
		})
	})
	if err != nil {
		return -1, err
	}
	return value, nil
}

func branchKey(branch domain.Branch) []byte {
	return []byte(fmt.Sprintf("%s/%s", highestUsedIndexKey, branch))
}

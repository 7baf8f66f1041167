package inmemory

import (
	"context"
	"sync"

	"github.com/tdex-network/chainscan/internal/core/domain"
)

type scanStateRepositoryImpl struct {
	lastProcessedHeight int
	highestUsedIndexes  map[domain.Branch]int
	lock                *sync.RWMutex
}

// NewScanStateRepositoryImpl returns an in-memory ScanStateRepository.
func NewScanStateRepositoryImpl() domain.ScanStateRepository {
	return &scanStateRepositoryImpl{
		lastProcessedHeight: -1,
		highestUsedIndexes:  map[domain.Branch]int{},
		lock:                &sync.RWMutex{},
	}
}

func (r *scanStateRepositoryImpl) GetLastProcessedHeight(
	_ context.Context,
) (int, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.lastProcessedHeight, nil
}

func (r *scanStateRepositoryImpl) UpdateLastProcessedHeight(
	_ context.Context, height int,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.lastProcessedHeight = height
	return nil
}

func (r *scanStateRepositoryImpl) GetHighestUsedIndex(
	_ context.Context, branch domain.Branch,
) (int, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if index, ok := r.highestUsedIndexes[branch]; ok {
		return index, nil
	}
	return -1, nil
}

func (r *scanStateRepositoryImpl) UpdateHighestUsedIndex(
	_ context.Context, branch domain.Branch, index int,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if current, ok := r.highestUsedIndexes[branch]; !ok || index > current {
		r.highestUsedIndexes[branch] = index
	}
	return nil
}

func (r *scanStateRepositoryImpl) Close() error {
	return nil
}

package blockwatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tdex-network/chainscan/pkg/explorer"
)

// BlockEvent notifies subscribers about a newly seen block.
type BlockEvent struct {
	Height int
	Hash   string
}

// Service watches the chain tip through the explorer and publishes every new
// block to its subscribers. Each subscriber owns an independently buffered
// channel, so a slow consumer can neither lose nor duplicate blocks for the
// others; when a subscriber's buffer is full the oldest event is dropped
// with a warning.
type Service interface {
	// Start starts watching the tip. It blocks until Stop is called.
	Start()
	// Stop stops the watcher and closes all subscriptions.
	Stop()
	// Subscribe registers a new subscriber identified by id and returns its
	// event channel.
	Subscribe(id string) (<-chan BlockEvent, error)
	// Unsubscribe removes the subscriber identified by id and closes its
	// channel.
	Unsubscribe(id string)
}

// Opts defines the parameters needed for creating a watcher service with
// the NewService method.
type Opts struct {
	ExplorerSvc                explorer.Service
	PollIntervalInMilliseconds int
	// BufferSize is the per-subscriber buffered channel capacity.
	BufferSize int
}

func (o Opts) validate() error {
	if o.ExplorerSvc == nil {
		return fmt.Errorf("explorer service must not be null")
	}
	if o.PollIntervalInMilliseconds <= 0 {
		return fmt.Errorf("poll interval must be a positive number")
	}
	if o.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be a positive number")
	}
	return nil
}

type blockWatcher struct {
	explorerSvc explorer.Service
	interval    int
	bufSize     int
	tipHeight   int
	subs        map[string]chan BlockEvent
	stopChan    chan struct{}
	mutex       *sync.RWMutex
}

// NewService returns a watcher that is ready to poll the chain tip. Use
// Start and Stop methods to manage it.
func NewService(opts Opts) (Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %w", err)
	}
	return &blockWatcher{
		explorerSvc: opts.ExplorerSvc,
		interval:    opts.PollIntervalInMilliseconds,
		bufSize:     opts.BufferSize,
		tipHeight:   -1,
		subs:        map[string]chan BlockEvent{},
		stopChan:    make(chan struct{}),
		mutex:       &sync.RWMutex{},
	}, nil
}

func (w *blockWatcher) Start() {
	ticker := time.NewTicker(time.Duration(w.interval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stopChan:
			return
		}
	}
}

func (w *blockWatcher) Stop() {
	close(w.stopChan)

	w.mutex.Lock()
	defer w.mutex.Unlock()
	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
}

func (w *blockWatcher) Subscribe(id string) (<-chan BlockEvent, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, ok := w.subs[id]; ok {
		return nil, fmt.Errorf("subscription with id %s already exists", id)
	}
	ch := make(chan BlockEvent, w.bufSize)
	w.subs[id] = ch
	return ch, nil
}

func (w *blockWatcher) Unsubscribe(id string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if ch, ok := w.subs[id]; ok {
		close(ch)
		delete(w.subs, id)
	}
}

func (w *blockWatcher) poll() {
	ctx := context.Background()

	height, err := w.explorerSvc.GetTipHeight(ctx)
	if err != nil {
		log.WithError(err).Warn("block watcher: unable to fetch tip height")
		return
	}

	if w.tipHeight < 0 {
		// first poll establishes the baseline, nothing to publish yet.
		w.tipHeight = height
		return
	}

	for h := w.tipHeight + 1; h <= height; h++ {
		hash, err := w.explorerSvc.GetBlockHashForHeight(ctx, h)
		if err != nil {
			log.WithError(err).Warnf(
				"block watcher: unable to fetch hash of block %d", h,
			)
			return
		}
		w.publish(BlockEvent{Height: h, Hash: hash})
		w.tipHeight = h
	}
}

func (w *blockWatcher) publish(event BlockEvent) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	for id, ch := range w.subs {
		select {
		case ch <- event:
		default:
			// bounded buffer full: drop the oldest event to make room.
			select {
			case dropped := <-ch:
				log.Warnf(
					"block watcher: subscriber %s is slow, dropped block %d",
					id, dropped.Height,
				)
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// BlockScanEngine scans ascending block-height ranges for transactions
// touching a fixed watched-address set. It is the fallback used when that
// set is too large for per-address querying. Block fetches run with bounded
// concurrency but results are always delivered to the inspection stage in
// strictly ascending height order. lastProcessedHeight is owned exclusively
// by one engine instance and moves only after a whole range succeeded.
type BlockScanEngine struct {
	explorerSvc         explorer.Service
	repo                domain.ScanStateRepository
	watched             map[string]hdwallet.AddressInfo
	maxInFlight         int
	lastProcessedHeight int
	mutex               sync.Mutex
}

// NewBlockScanEngine returns an engine watching the given address set. The
// last processed height is recovered from the repository.
func NewBlockScanEngine(
	explorerSvc explorer.Service,
	repo domain.ScanStateRepository,
	watched []hdwallet.AddressInfo,
	maxInFlightBlockFetches int,
) (*BlockScanEngine, error) {
	if explorerSvc == nil {
		return nil, ErrNullExplorer
	}
	if repo == nil {
		return nil, ErrNullRepository
	}
	if maxInFlightBlockFetches <= 0 {
		maxInFlightBlockFetches = 1
	}

	watchedSet := make(map[string]hdwallet.AddressInfo, len(watched))
	for _, info := range watched {
		watchedSet[info.Address] = info
	}

	lastHeight, err := repo.GetLastProcessedHeight(context.Background())
	if err != nil {
		return nil, err
	}

	return &BlockScanEngine{
		explorerSvc:         explorerSvc,
		repo:                repo,
		watched:             watchedSet,
		maxInFlight:         maxInFlightBlockFetches,
		lastProcessedHeight: lastHeight,
	}, nil
}

// LastProcessedHeight returns the top of the last fully processed range, or
// -1 if none.
func (e *BlockScanEngine) LastProcessedHeight() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.lastProcessedHeight
}

// WatchedAddress returns the watched address info for the given address.
func (e *BlockScanEngine) WatchedAddress(address string) (hdwallet.AddressInfo, bool) {
	info, ok := e.watched[address]
	return info, ok
}

type blockFetchResult struct {
	height int
	txs    []explorer.Transaction
	err    error
}

// ScanRange scans every height from fromHeight to toHeight included. If
// lastProcessedHeight+1 is lower than fromHeight the gap is caught up first
// so that no height is ever skipped across invocations. On success
// lastProcessedHeight moves to toHeight; on any failure it is left untouched
// and the returned error reports exactly which heights stayed unresolved.
func (e *BlockScanEngine) ScanRange(
	ctx context.Context, fromHeight, toHeight int,
) (*domain.ScanResult, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if toHeight < fromHeight || fromHeight < 0 {
		return nil, ErrInvalidRange
	}

	scanStart := fromHeight
	if e.lastProcessedHeight >= 0 && e.lastProcessedHeight+1 < fromHeight {
		scanStart = e.lastProcessedHeight + 1
		log.Debugf(
			"block scan catching up heights %d-%d before requested range %d-%d",
			scanStart, fromHeight-1, fromHeight, toHeight,
		)
	}

	res := domain.NewScanResult()
	matched, err := e.scanHeights(ctx, scanStart, toHeight, res)
	if err != nil {
		return res, err
	}

	if err := e.fetchMatchedTxs(ctx, res, matched); err != nil {
		return res, err
	}

	e.lastProcessedHeight = toHeight
	if err := e.repo.UpdateLastProcessedHeight(ctx, toHeight); err != nil {
		return res, err
	}

	log.Debugf(
		"block scan processed heights %d-%d, %d tx match(es)",
		scanStart, toHeight, len(res.Matches),
	)
	return res, nil
}

// scanHeights fetches all blocks of the range with at most maxInFlight
// concurrent fetches and hands them to the inspection stage strictly in
// ascending height order, buffering out-of-order completions.
func (e *BlockScanEngine) scanHeights(
	ctx context.Context, fromHeight, toHeight int, res *domain.ScanResult,
) ([]string, error) {
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	resChan := make(chan blockFetchResult, e.maxInFlight)
	sem := make(chan struct{}, e.maxInFlight)

	go func() {
		wg := &sync.WaitGroup{}
		for height := fromHeight; height <= toHeight; height++ {
			select {
			case sem <- struct{}{}:
			case <-fetchCtx.Done():
				wg.Wait()
				close(resChan)
				return
			}

			wg.Add(1)
			go func(height int) {
				defer wg.Done()
				defer func() { <-sem }()

				txs, err := e.fetchBlockTxs(fetchCtx, height)
				select {
				case resChan <- blockFetchResult{height: height, txs: txs, err: err}:
				case <-fetchCtx.Done():
				}
			}(height)
		}
		wg.Wait()
		close(resChan)
	}()

	matched := make([]string, 0)
	pending := map[int][]explorer.Transaction{}
	next := fromHeight

	for fetchRes := range resChan {
		if fetchRes.err != nil {
			cancelFetch()
			if ctx.Err() != nil {
				return matched, domain.ErrScanCanceled
			}
			return matched, &domain.PartialScanError{
				UnresolvedHeights: heightRange(next, toHeight),
				Err:               fetchRes.err,
			}
		}

		pending[fetchRes.height] = fetchRes.txs
		for {
			txs, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			matched = append(matched, e.inspectBlock(next, txs, res)...)
			next++
		}
	}

	if err := ctx.Err(); err != nil {
		return matched, domain.ErrScanCanceled
	}
	if next <= toHeight {
		return matched, &domain.PartialScanError{
			UnresolvedHeights: heightRange(next, toHeight),
			Err:               fmt.Errorf("block fetch stopped early"),
		}
	}
	return matched, nil
}

func (e *BlockScanEngine) fetchBlockTxs(
	ctx context.Context, height int,
) ([]explorer.Transaction, error) {
	hash, err := e.explorerSvc.GetBlockHashForHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	return e.explorerSvc.GetBlockTxs(ctx, hash)
}

// inspectBlock tests every output address and every consumed prevout address
// of the block's transactions against the watched set in constant time. Raw
// tx bytes are not fetched at this stage.
func (e *BlockScanEngine) inspectBlock(
	height int, txs []explorer.Transaction, res *domain.ScanResult,
) []string {
	matched := make([]string, 0)
	for _, tx := range txs {
		addresses := make([]string, 0)
		for _, out := range tx.Outputs {
			if info, ok := e.watched[out.Address]; ok {
				addresses = append(addresses, info.Address)
			}
		}
		for _, in := range tx.Inputs {
			if in.Prevout == nil {
				continue
			}
			if info, ok := e.watched[in.Prevout.Address]; ok {
				addresses = append(addresses, info.Address)
			}
		}
		if len(addresses) > 0 {
			res.AddMatch(domain.TxMatch{
				Txid:        tx.Txid,
				BlockHeight: height,
				Addresses:   addresses,
			})
			matched = append(matched, tx.Txid)
		}
	}
	return matched
}

// fetchMatchedTxs downloads raw tx bytes only for matched txids, typically a
// small fraction of the scanned transactions. Every payload is parsed and
// its hash checked against the expected txid, a mismatch is a malformed
// payload and fails the scan.
func (e *BlockScanEngine) fetchMatchedTxs(
	ctx context.Context, res *domain.ScanResult, matched []string,
) error {
	hexByTxid := make(map[string]string, len(matched))
	lock := &sync.Mutex{}

	g, gctx := errgroup.WithContext(ctx)
	for _, txid := range matched {
		txid := txid
		g.Go(func() error {
			txHex, err := e.explorerSvc.GetTransactionHex(gctx, txid)
			if err != nil {
				return err
			}
			if err := checkTxPayload(txid, txHex); err != nil {
				return err
			}
			lock.Lock()
			hexByTxid[txid] = txHex
			lock.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return domain.ErrScanCanceled
		}
		return err
	}

	for i, m := range res.Matches {
		if txHex, ok := hexByTxid[m.Txid]; ok {
			res.Matches[i].TxHex = txHex
		}
	}
	return nil
}

func checkTxPayload(txid, txHex string) error {
	rawTx, err := hex.DecodeString(txHex)
	if err != nil {
		return &explorer.Error{
			Kind: explorer.ErrKindPermanent, Op: "tx_hex", Err: err,
		}
	}
	msgTx := &wire.MsgTx{}
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return &explorer.Error{
			Kind: explorer.ErrKindPermanent, Op: "tx_hex", Err: err,
		}
	}
	expected, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return err
	}
	if hash := msgTx.TxHash(); !hash.IsEqual(expected) {
		return &explorer.Error{
			Kind: explorer.ErrKindPermanent,
			Op:   "tx_hex",
			Err:  fmt.Errorf("payload hash %s does not match txid %s", hash, txid),
		}
	}
	return nil
}

func heightRange(from, to int) []int {
	if to < from {
		return nil
	}
	heights := make([]int, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}
	return heights
}

package application

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// branchScanStatus models the lifecycle of a gap-limit pass over one branch:
// scanning until either the stopping condition fires or an unrecoverable
// query failure occurs. Both outcomes are terminal.
type branchScanStatus int

const (
	branchScanning branchScanStatus = iota
	branchGapReached
	branchError
)

func (s branchScanStatus) String() string {
	switch s {
	case branchScanning:
		return "scanning"
	case branchGapReached:
		return "gap_reached"
	case branchError:
		return "error"
	default:
		return "unknown"
	}
}

// BranchResult is the outcome of a discovery pass over one branch.
type BranchResult struct {
	Branch             domain.Branch
	HighestUsedIndex   int
	NewlyUsedAddresses []hdwallet.AddressInfo
	Matches            []domain.TxMatch
}

// GapLimitScanner discovers the highest used address index of a branch
// without enumerating an unbounded address space: it stops after gapLimit
// consecutive unused addresses.
type GapLimitScanner struct {
	explorerSvc explorer.Service
	deriver     AddressDeriver
	gapLimit    int
	batchSize   int
}

// NewGapLimitScanner returns a scanner with the given gap limit and batch
// size, refusing invalid values.
func NewGapLimitScanner(
	explorerSvc explorer.Service, deriver AddressDeriver, gapLimit, batchSize int,
) (*GapLimitScanner, error) {
	if explorerSvc == nil {
		return nil, ErrNullExplorer
	}
	if deriver == nil {
		return nil, ErrNullDeriver
	}
	if gapLimit <= 0 {
		return nil, domain.ErrInvalidGapLimit
	}
	if batchSize <= 0 {
		return nil, domain.ErrInvalidBatchSize
	}
	return &GapLimitScanner{
		explorerSvc: explorerSvc,
		deriver:     deriver,
		gapLimit:    gapLimit,
		batchSize:   batchSize,
	}, nil
}

// Scan runs the unbatched discovery over one branch: one address derived and
// queried at a time, strictly in index order. For a highest used index H and
// gap limit G it issues exactly H+G+1 queries, G for an entirely unused
// branch.
func (s *GapLimitScanner) Scan(
	ctx context.Context, branch domain.Branch,
) (*BranchResult, error) {
	state := domain.NewScanState()
	res := &BranchResult{
		Branch:             branch,
		HighestUsedIndex:   -1,
		NewlyUsedAddresses: make([]hdwallet.AddressInfo, 0),
		Matches:            make([]domain.TxMatch, 0),
	}

	for !state.GapReached(s.gapLimit) {
		if err := ctx.Err(); err != nil {
			return res, domain.ErrScanCanceled
		}

		index := state.CurrentIndex
		info, err := s.deriver.DeriveAddress(
			branch.Scope, branch.Chain, uint32(index),
		)
		if err != nil {
			return nil, fmt.Errorf("unable to derive address %s/%d: %w", branch, index, err)
		}

		txs, err := s.explorerSvc.GetTransactionsForAddress(ctx, info.Address)
		if err != nil {
			if ctx.Err() != nil {
				return res, domain.ErrScanCanceled
			}
			log.WithError(err).Debugf(
				"gap-limit scan of branch %s stopped at index %d with status %s",
				branch, index, branchError,
			)
			return nil, &domain.PartialScanError{
				UnresolvedBranches: []domain.Branch{branch},
				Err:                err,
			}
		}

		state.Advance()
		if len(txs) > 0 {
			state.MarkUsed(index)
			s.recordUsed(res, *info, txs)
		}
	}

	res.HighestUsedIndex = state.HighestUsedIndex
	log.Debugf(
		"gap-limit scan of branch %s reached status %s with highest used index %d",
		branch, branchGapReached, res.HighestUsedIndex,
	)
	return res, nil
}

// ScanBatched runs the discovery in fixed-size batches whose queries are
// issued concurrently, bounded by the explorer's shared admission limiter.
// Aggregation restores index order before the scan state is updated, so a
// late low-index match can never overwrite an earlier high-index one
// incorrectly. The batched stopping rule may over-scan by up to batchSize-1
// addresses past the strict unbatched stopping point; the reported highest
// used index is unaffected by the slack.
func (s *GapLimitScanner) ScanBatched(
	ctx context.Context, branch domain.Branch,
) (*BranchResult, error) {
	state := domain.NewScanState()
	res := &BranchResult{
		Branch:             branch,
		HighestUsedIndex:   -1,
		NewlyUsedAddresses: make([]hdwallet.AddressInfo, 0),
		Matches:            make([]domain.TxMatch, 0),
	}

	type outcome struct {
		info *hdwallet.AddressInfo
		txs  []explorer.Transaction
	}

	lastBatchHadMatch := false
	for batchStart := 0; ; batchStart += s.batchSize {
		if batchStart > 0 && !lastBatchHadMatch && state.GapReached(s.gapLimit) {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, domain.ErrScanCanceled
		}

		outcomes := make([]outcome, s.batchSize)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < s.batchSize; i++ {
			index := uint32(batchStart + i)
			info, err := s.deriver.DeriveAddress(branch.Scope, branch.Chain, index)
			if err != nil {
				return nil, fmt.Errorf(
					"unable to derive address %s/%d: %w", branch, index, err,
				)
			}

			i := i
			g.Go(func() error {
				txs, err := s.explorerSvc.GetTransactionsForAddress(gctx, info.Address)
				if err != nil {
					return err
				}
				outcomes[i] = outcome{info: info, txs: txs}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return res, domain.ErrScanCanceled
			}
			return nil, &domain.PartialScanError{
				UnresolvedBranches: []domain.Branch{branch},
				Err:                err,
			}
		}

		lastBatchHadMatch = false
		for i, o := range outcomes {
			state.Advance()
			if len(o.txs) > 0 {
				state.MarkUsed(batchStart + i)
				lastBatchHadMatch = true
				s.recordUsed(res, *o.info, o.txs)
			}
		}
	}

	res.HighestUsedIndex = state.HighestUsedIndex
	log.Debugf(
		"batched gap-limit scan of branch %s reached status %s with highest used index %d",
		branch, branchGapReached, res.HighestUsedIndex,
	)
	return res, nil
}

func (s *GapLimitScanner) recordUsed(
	res *BranchResult, info hdwallet.AddressInfo, txs []explorer.Transaction,
) {
	res.NewlyUsedAddresses = append(res.NewlyUsedAddresses, info)
	for _, tx := range txs {
		res.Matches = append(res.Matches, domain.TxMatch{
			Txid:        tx.Txid,
			BlockHeight: tx.BlockHeight(),
			Addresses:   []string{info.Address},
		})
	}
}

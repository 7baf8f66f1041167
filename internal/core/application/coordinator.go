package application

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// ScanCoordinatorOpts defines the parameters needed for creating a
// coordinator with the NewScanCoordinator method.
type ScanCoordinatorOpts struct {
	ExplorerSvc explorer.Service
	Deriver     AddressDeriver
	Repo        domain.ScanStateRepository
	// BlockScanThreshold is the number of addresses in play above which the
	// coordinator switches from per-address querying to block scanning. It
	// is an operational tunable, not a protocol invariant.
	BlockScanThreshold int
	// MaxConcurrentBlockFetches caps simultaneous in-flight block fetches
	// of the block-scan engine.
	MaxConcurrentBlockFetches int
	// BruteForceWindow is the fixed per-branch address window of the legacy
	// brute-force strategy, also used to build the watched set when
	// downgrading a failed branch to a block scan.
	BruteForceWindow int
	// GapLimitEnabled selects gap-limit discovery for restores. When false
	// the legacy brute-force strategy is used instead.
	GapLimitEnabled bool
}

func (o ScanCoordinatorOpts) validate() error {
	if o.ExplorerSvc == nil {
		return ErrNullExplorer
	}
	if o.Deriver == nil {
		return ErrNullDeriver
	}
	if o.Repo == nil {
		return ErrNullRepository
	}
	if o.BlockScanThreshold <= 0 {
		return ErrInvalidThreshold
	}
	if o.BruteForceWindow <= 0 {
		return ErrInvalidBruteForceWindow
	}
	return nil
}

// ScanCoordinator selects the recovery mode and scanning strategy for a
// RecoveryRequest and produces one unified ScanResult. Re-invoking it with
// an unchanged request against unchanged chain state yields an identical
// result.
type ScanCoordinator struct {
	explorerSvc     explorer.Service
	deriver         AddressDeriver
	repo            domain.ScanStateRepository
	threshold       int
	maxBlockFetches int
	bruteWindow     int
	gapLimitEnabled bool
}

// NewScanCoordinator returns a coordinator ready to serve Scan invocations.
func NewScanCoordinator(opts ScanCoordinatorOpts) (*ScanCoordinator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	maxBlockFetches := opts.MaxConcurrentBlockFetches
	if maxBlockFetches <= 0 {
		maxBlockFetches = 1
	}

	return &ScanCoordinator{
		explorerSvc:     opts.ExplorerSvc,
		deriver:         opts.Deriver,
		repo:            opts.Repo,
		threshold:       opts.BlockScanThreshold,
		maxBlockFetches: maxBlockFetches,
		bruteWindow:     opts.BruteForceWindow,
		gapLimitEnabled: opts.GapLimitEnabled,
	}, nil
}

// SelectStrategy returns the strategy for the given mode and number of
// addresses in play. The selection is total: every mode/size combination
// maps to exactly one tagged strategy.
func (c *ScanCoordinator) SelectStrategy(
	mode domain.RecoveryMode, addressCount int,
) domain.StrategyType {
	if addressCount > c.threshold {
		return domain.StrategyBlockScan
	}
	if mode == domain.RecoveryModeRestore && !c.gapLimitEnabled {
		return domain.StrategyBruteForce
	}
	return domain.StrategyAddressQuery
}

// Scan carries out the given recovery and returns the merged result. The
// caller may cancel the context or impose a deadline on the whole scan
// independently of per-request timeouts; on cancellation the partial result
// committed so far is returned along with domain.ErrScanCanceled.
func (c *ScanCoordinator) Scan(
	ctx context.Context, req domain.RecoveryRequest,
) (*domain.ScanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"scan_id": uuid.New().String(),
		"mode":    req.Mode.String(),
	})

	var res *domain.ScanResult
	var err error
	switch req.Mode {
	case domain.RecoveryModeRestore:
		res, err = c.restore(ctx, logger, req)
	case domain.RecoveryModeRescan:
		res, err = c.rescan(ctx, logger, req)
	default:
		return nil, domain.ErrUnknownRecoveryMode
	}
	if res != nil {
		res.Normalize()
	}
	if err != nil {
		return res, err
	}

	c.persistHighestIndexes(ctx, logger, res)
	return res, nil
}

// restore discovers the used addresses of every (scope, chain) branch.
// Branches are scanned concurrently, sharing the explorer's admission
// limiter. A branch failing unrecoverably is downgraded to a block scan
// over a derived address window instead of failing the whole operation.
func (c *ScanCoordinator) restore(
	ctx context.Context, logger *log.Entry, req domain.RecoveryRequest,
) (*domain.ScanResult, error) {
	branches := make([]domain.Branch, 0, len(req.Scopes)*len(hdwallet.Chains))
	for _, scope := range req.Scopes {
		for _, chain := range hdwallet.Chains {
			branches = append(branches, domain.Branch{Scope: scope, Chain: chain})
		}
	}

	strategy := c.SelectStrategy(domain.RecoveryModeRestore, len(branches))
	logger.Debugf("restore over %d branch(es) with strategy %s", len(branches), strategy)

	switch strategy {
	case domain.StrategyAddressQuery:
		return c.restoreWithGapLimit(ctx, logger, req, branches)
	case domain.StrategyBruteForce:
		return c.bruteForceScan(ctx, logger, req, branches)
	case domain.StrategyBlockScan:
		// a restore has no known addresses to watch, the brute-force window
		// provides the watched set.
		return c.downgradeToBlockScan(ctx, logger, req, branches)
	default:
		return nil, ErrUnknownStrategy
	}
}

func (c *ScanCoordinator) restoreWithGapLimit(
	ctx context.Context, logger *log.Entry, req domain.RecoveryRequest,
	branches []domain.Branch,
) (*domain.ScanResult, error) {
	scanner, err := NewGapLimitScanner(
		c.explorerSvc, c.deriver, req.GapLimit, req.BatchSize,
	)
	if err != nil {
		return nil, err
	}

	type branchOutcome struct {
		branch domain.Branch
		res    *BranchResult
		err    error
	}

	outcomes := make([]branchOutcome, len(branches))
	wg := &sync.WaitGroup{}
	wg.Add(len(branches))
	for i, branch := range branches {
		go func(i int, branch domain.Branch) {
			defer wg.Done()
			branchRes, err := scanner.ScanBatched(ctx, branch)
			outcomes[i] = branchOutcome{branch: branch, res: branchRes, err: err}
		}(i, branch)
	}
	wg.Wait()

	res := domain.NewScanResult()
	failed := make([]domain.Branch, 0)
	for _, o := range outcomes {
		if o.err != nil {
			if errors.Is(o.err, domain.ErrScanCanceled) {
				return res, domain.ErrScanCanceled
			}
			logger.WithError(o.err).Warnf(
				"branch %s failed, downgrading to block scan", o.branch,
			)
			failed = append(failed, o.branch)
			continue
		}
		mergeBranchResult(res, o.res)
	}

	if len(failed) > 0 {
		downgraded, err := c.downgradeToBlockScan(ctx, logger, req, failed)
		if err != nil {
			return res, err
		}
		res.Merge(downgraded)
	}
	return res, nil
}

// bruteForceScan is the historical behavior: derive and query every address
// of every branch up to a fixed window, with no gap-limit termination.
func (c *ScanCoordinator) bruteForceScan(
	ctx context.Context, logger *log.Entry, req domain.RecoveryRequest,
	branches []domain.Branch,
) (*domain.ScanResult, error) {
	res := domain.NewScanResult()
	for _, branch := range branches {
		for index := 0; index < c.bruteWindow; index++ {
			if err := ctx.Err(); err != nil {
				return res, domain.ErrScanCanceled
			}

			info, err := c.deriver.DeriveAddress(
				branch.Scope, branch.Chain, uint32(index),
			)
			if err != nil {
				return nil, err
			}
			txs, err := c.explorerSvc.GetTransactionsForAddress(ctx, info.Address)
			if err != nil {
				if ctx.Err() != nil {
					return res, domain.ErrScanCanceled
				}
				return res, &domain.PartialScanError{
					UnresolvedBranches: []domain.Branch{branch},
					Err:                err,
				}
			}
			if len(txs) > 0 {
				if cur, ok := res.HighestUsedIndexes[branch]; !ok || index > cur {
					res.HighestUsedIndexes[branch] = index
				}
				res.NewlyUsedAddresses = append(res.NewlyUsedAddresses, *info)
				for _, tx := range txs {
					res.AddMatch(domain.TxMatch{
						Txid:        tx.Txid,
						BlockHeight: tx.BlockHeight(),
						Addresses:   []string{info.Address},
					})
				}
			}
		}
	}

	logger.Debugf(
		"brute-force scan issued %d queries", len(branches)*c.bruteWindow,
	)
	return res, nil
}

// rescan verifies chain state for already-known addresses, choosing between
// per-address querying and block scanning based on the size of the set.
func (c *ScanCoordinator) rescan(
	ctx context.Context, logger *log.Entry, req domain.RecoveryRequest,
) (*domain.ScanResult, error) {
	strategy := c.SelectStrategy(domain.RecoveryModeRescan, len(req.KnownAddresses))
	logger.Debugf(
		"rescan of %d known address(es) with strategy %s",
		len(req.KnownAddresses), strategy,
	)

	switch strategy {
	case domain.StrategyAddressQuery:
		rescanner, err := NewKnownAddressRescanner(
			c.explorerSvc, c.deriver, req.GapLimit,
		)
		if err != nil {
			return nil, err
		}
		res, err := rescanner.Rescan(ctx, req.KnownAddresses, req.BirthdayHeight)
		if err != nil && !errors.Is(err, domain.ErrScanCanceled) {
			logger.WithError(err).Warn(
				"per-address rescan failed, downgrading to block scan",
			)
			return c.blockScan(ctx, req, req.KnownAddresses)
		}
		return res, err
	case domain.StrategyBlockScan:
		return c.blockScan(ctx, req, req.KnownAddresses)
	case domain.StrategyBruteForce:
		// never selected for rescans, known addresses make brute forcing
		// pointless.
		return nil, ErrUnknownStrategy
	default:
		return nil, ErrUnknownStrategy
	}
}

// downgradeToBlockScan scans raw blocks for the given branches, using a
// derived window of addresses per branch as the watched set.
func (c *ScanCoordinator) downgradeToBlockScan(
	ctx context.Context, logger *log.Entry, req domain.RecoveryRequest,
	branches []domain.Branch,
) (*domain.ScanResult, error) {
	watched := make([]hdwallet.AddressInfo, 0, len(branches)*c.bruteWindow)
	for _, branch := range branches {
		for index := 0; index < c.bruteWindow; index++ {
			info, err := c.deriver.DeriveAddress(
				branch.Scope, branch.Chain, uint32(index),
			)
			if err != nil {
				return nil, err
			}
			watched = append(watched, *info)
		}
	}
	logger.Debugf(
		"block scan over %d derived address(es) for %d branch(es)",
		len(watched), len(branches),
	)
	return c.blockScan(ctx, req, watched)
}

// blockScan runs the block-scan engine from the wallet birthday to the
// current tip with the given watched set.
func (c *ScanCoordinator) blockScan(
	ctx context.Context, req domain.RecoveryRequest,
	watched []hdwallet.AddressInfo,
) (*domain.ScanResult, error) {
	engine, err := NewBlockScanEngine(
		c.explorerSvc, c.repo, watched, c.maxBlockFetches,
	)
	if err != nil {
		return nil, err
	}

	tip, err := c.explorerSvc.GetTipHeight(ctx)
	if err != nil {
		return nil, err
	}

	res, err := engine.ScanRange(ctx, req.BirthdayHeight, tip)
	if res != nil {
		c.attachBranchInfo(res, watched)
	}
	return res, err
}

// attachBranchInfo maps block-scan matches back to derivation metadata so
// that highest used indexes and newly-used addresses are reported the same
// way as with per-address strategies.
func (c *ScanCoordinator) attachBranchInfo(
	res *domain.ScanResult, watched []hdwallet.AddressInfo,
) {
	byAddress := make(map[string]hdwallet.AddressInfo, len(watched))
	for _, info := range watched {
		byAddress[info.Address] = info
	}

	seen := map[string]struct{}{}
	for _, m := range res.Matches {
		for _, addr := range m.Addresses {
			info, ok := byAddress[addr]
			if !ok {
				continue
			}
			branch := domain.Branch{Scope: info.Scope, Chain: info.Chain}
			if cur, ok := res.HighestUsedIndexes[branch]; !ok || int(info.Index) > cur {
				res.HighestUsedIndexes[branch] = int(info.Index)
			}
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				res.NewlyUsedAddresses = append(res.NewlyUsedAddresses, info)
			}
		}
	}
}

func (c *ScanCoordinator) persistHighestIndexes(
	ctx context.Context, logger *log.Entry, res *domain.ScanResult,
) {
	for branch, index := range res.HighestUsedIndexes {
		if index < 0 {
			continue
		}
		if err := c.repo.UpdateHighestUsedIndex(ctx, branch, index); err != nil {
			logger.WithError(err).Warnf(
				"unable to persist highest used index for branch %s", branch,
			)
		}
	}
}

func mergeBranchResult(res *domain.ScanResult, branchRes *BranchResult) {
	if branchRes == nil {
		return
	}
	if branchRes.HighestUsedIndex >= 0 {
		res.HighestUsedIndexes[branchRes.Branch] = branchRes.HighestUsedIndex
	}
	res.NewlyUsedAddresses = append(res.NewlyUsedAddresses, branchRes.NewlyUsedAddresses...)
	for _, m := range branchRes.Matches {
		res.AddMatch(m)
	}
}

package application

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// KnownAddressRescanner verifies chain state for a wallet that already knows
// its used addresses. Every known address is queried exactly once, plus a
// lookahead margin of up to gapLimit addresses beyond the last known index
// of each branch to catch activity since the last sync. The query count is
// O(known + lookahead), independent of the global gap limit and of the
// number of unused scopes.
type KnownAddressRescanner struct {
	explorerSvc explorer.Service
	deriver     AddressDeriver
	lookahead   int
}

// NewKnownAddressRescanner returns a rescanner with the given lookahead
// margin.
func NewKnownAddressRescanner(
	explorerSvc explorer.Service, deriver AddressDeriver, lookahead int,
) (*KnownAddressRescanner, error) {
	if explorerSvc == nil {
		return nil, ErrNullExplorer
	}
	if deriver == nil {
		return nil, ErrNullDeriver
	}
	if lookahead <= 0 {
		return nil, domain.ErrInvalidGapLimit
	}
	return &KnownAddressRescanner{
		explorerSvc: explorerSvc,
		deriver:     deriver,
		lookahead:   lookahead,
	}, nil
}

// Rescan queries each known address exactly once, filters the returned
// transactions to those at or above startHeight (unconfirmed ones are always
// kept) and accumulates matches. Rescanning twice over unchanged chain state
// yields an identical match set.
func (r *KnownAddressRescanner) Rescan(
	ctx context.Context, known []hdwallet.AddressInfo, startHeight int,
) (*domain.ScanResult, error) {
	res := domain.NewScanResult()

	lastKnownIndexes := map[domain.Branch]int{}
	for _, info := range known {
		branch := domain.Branch{Scope: info.Scope, Chain: info.Chain}
		if cur, ok := lastKnownIndexes[branch]; !ok || int(info.Index) > cur {
			lastKnownIndexes[branch] = int(info.Index)
		}
	}
	for branch, last := range lastKnownIndexes {
		res.HighestUsedIndexes[branch] = last
	}

	lookahead, err := r.deriveLookahead(lastKnownIndexes)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		info    hdwallet.AddressInfo
		isAhead bool
		txs     []explorer.Transaction
	}

	queries := make([]hdwallet.AddressInfo, 0, len(known)+len(lookahead))
	queries = append(queries, known...)
	queries = append(queries, lookahead...)
	outcomes := make([]outcome, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, info := range queries {
		i, info := i, info
		g.Go(func() error {
			txs, err := r.explorerSvc.GetTransactionsForAddress(gctx, info.Address)
			if err != nil {
				return err
			}
			outcomes[i] = outcome{
				info:    info,
				isAhead: i >= len(known),
				txs:     txs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return res, domain.ErrScanCanceled
		}
		return nil, err
	}

	for _, o := range outcomes {
		relevant := filterByHeight(o.txs, startHeight)
		if len(o.txs) > 0 && o.isAhead {
			// activity on a lookahead address extends the branch.
			branch := domain.Branch{Scope: o.info.Scope, Chain: o.info.Chain}
			if int(o.info.Index) > res.HighestUsedIndexes[branch] {
				res.HighestUsedIndexes[branch] = int(o.info.Index)
			}
			res.NewlyUsedAddresses = append(res.NewlyUsedAddresses, o.info)
		}
		for _, tx := range relevant {
			res.AddMatch(domain.TxMatch{
				Txid:        tx.Txid,
				BlockHeight: tx.BlockHeight(),
				Addresses:   []string{o.info.Address},
			})
		}
	}

	log.Debugf(
		"rescan issued %d queries (%d known, %d lookahead)",
		len(queries), len(known), len(lookahead),
	)
	return res, nil
}

func (r *KnownAddressRescanner) deriveLookahead(
	lastKnownIndexes map[domain.Branch]int,
) ([]hdwallet.AddressInfo, error) {
	branches := make([]domain.Branch, 0, len(lastKnownIndexes))
	for branch := range lastKnownIndexes {
		branches = append(branches, branch)
	}
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].String() < branches[j].String()
	})

	lookahead := make([]hdwallet.AddressInfo, 0, len(branches)*r.lookahead)
	for _, branch := range branches {
		last := lastKnownIndexes[branch]
		for i := 1; i <= r.lookahead; i++ {
			info, err := r.deriver.DeriveAddress(
				branch.Scope, branch.Chain, uint32(last+i),
			)
			if err != nil {
				return nil, err
			}
			lookahead = append(lookahead, *info)
		}
	}
	return lookahead, nil
}

func filterByHeight(txs []explorer.Transaction, startHeight int) []explorer.Transaction {
	filtered := make([]explorer.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Confirmed() || tx.BlockHeight() >= startHeight {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

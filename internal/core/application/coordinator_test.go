package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tdex-network/chainscan/internal/core/application"
	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

func newTestCoordinator(
	t *testing.T, explorerSvc explorer.Service, repo domain.ScanStateRepository,
	gapLimitEnabled bool,
) *application.ScanCoordinator {
	coordinator, err := application.NewScanCoordinator(application.ScanCoordinatorOpts{
		ExplorerSvc:               explorerSvc,
		Deriver:                   fakeDeriver{},
		Repo:                      repo,
		BlockScanThreshold:        200,
		MaxConcurrentBlockFetches: 2,
		BruteForceWindow:          5,
		GapLimitEnabled:           gapLimitEnabled,
	})
	require.NoError(t, err)
	return coordinator
}

func TestSelectStrategy(t *testing.T) {
	coordinator, err := application.NewScanCoordinator(application.ScanCoordinatorOpts{
		ExplorerSvc:        newFakeExplorer(),
		Deriver:            fakeDeriver{},
		Repo:               inmemory.NewScanStateRepositoryImpl(),
		BlockScanThreshold: 500,
		BruteForceWindow:   100,
		GapLimitEnabled:    true,
	})
	require.NoError(t, err)

	tests := []struct {
		name         string
		mode         domain.RecoveryMode
		addressCount int
		expected     domain.StrategyType
	}{
		{
			name: "restore below threshold", mode: domain.RecoveryModeRestore,
			addressCount: 6, expected: domain.StrategyAddressQuery,
		},
		{
			name: "restore above threshold", mode: domain.RecoveryModeRestore,
			addressCount: 501, expected: domain.StrategyBlockScan,
		},
		{
			// 500 known addresses with a threshold of 500 stay on bounded
			// per-address querying, the addresses are known rather than
			// unboundedly searched.
			name: "rescan at threshold", mode: domain.RecoveryModeRescan,
			addressCount: 500, expected: domain.StrategyAddressQuery,
		},
		{
			name: "rescan above threshold", mode: domain.RecoveryModeRescan,
			addressCount: 501, expected: domain.StrategyBlockScan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, coordinator.SelectStrategy(tt.mode, tt.addressCount))
		})
	}
}

func TestSelectStrategyBruteForce(t *testing.T) {
	coordinator := newTestCoordinator(
		t, newFakeExplorer(), inmemory.NewScanStateRepositoryImpl(), false,
	)
	require.Equal(
		t,
		domain.StrategyBruteForce,
		coordinator.SelectStrategy(domain.RecoveryModeRestore, 6),
	)
	// known addresses make brute forcing pointless in rescan mode.
	require.Equal(
		t,
		domain.StrategyAddressQuery,
		coordinator.SelectStrategy(domain.RecoveryModeRescan, 6),
	)
}

func TestCoordinatorRestore(t *testing.T) {
	explorerSvc := newFakeExplorer()
	external := fakeAddress(hdwallet.KeyScopeBIP84, hdwallet.ExternalChain, 0)
	internal := fakeAddress(hdwallet.KeyScopeBIP84, hdwallet.InternalChain, 1)
	explorerSvc.txsByAddress[external] = append(
		explorerSvc.txsByAddress[external], confirmedTx("tx-ext", 100),
	)
	explorerSvc.txsByAddress[internal] = append(
		explorerSvc.txsByAddress[internal], confirmedTx("tx-int", 101),
	)

	repo := inmemory.NewScanStateRepositoryImpl()
	coordinator := newTestCoordinator(t, explorerSvc, repo, true)

	res, err := coordinator.Scan(context.Background(), domain.RecoveryRequest{
		Mode:      domain.RecoveryModeRestore,
		Scopes:    []hdwallet.KeyScope{hdwallet.KeyScopeBIP84},
		GapLimit:  5,
		BatchSize: 2,
	})
	require.NoError(t, err)

	externalBranch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.ExternalChain,
	}
	internalBranch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.InternalChain,
	}
	require.Equal(t, 0, res.HighestUsedIndexes[externalBranch])
	require.Equal(t, 1, res.HighestUsedIndexes[internalBranch])
	require.Len(t, res.Matches, 2)
	require.Len(t, res.NewlyUsedAddresses, 2)

	// discovered indexes are persisted for later incremental scans.
	persisted, err := repo.GetHighestUsedIndex(context.Background(), internalBranch)
	require.NoError(t, err)
	require.Equal(t, 1, persisted)
}

func TestCoordinatorRestoreBruteForce(t *testing.T) {
	explorerSvc := newFakeExplorer()
	used := fakeAddress(hdwallet.KeyScopeBIP44, hdwallet.ExternalChain, 3)
	explorerSvc.txsByAddress[used] = append(
		explorerSvc.txsByAddress[used], confirmedTx("tx-legacy", 50),
	)

	coordinator := newTestCoordinator(
		t, explorerSvc, inmemory.NewScanStateRepositoryImpl(), false,
	)

	res, err := coordinator.Scan(context.Background(), domain.RecoveryRequest{
		Mode:      domain.RecoveryModeRestore,
		Scopes:    []hdwallet.KeyScope{hdwallet.KeyScopeBIP44},
		GapLimit:  5,
		BatchSize: 2,
	})
	require.NoError(t, err)

	// the legacy strategy queries the whole window of both chains, with no
	// gap-limit termination.
	require.Equal(t, 10, explorerSvc.addressQueryCount())
	branch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP44, Chain: hdwallet.ExternalChain,
	}
	require.Equal(t, 3, res.HighestUsedIndexes[branch])
	require.Len(t, res.Matches, 1)
}

func TestCoordinatorRestoreDowngradesFailedBranch(t *testing.T) {
	txid, txHex := makeRawTx(t, 0)
	internalAddr := fakeAddress(hdwallet.KeyScopeBIP84, hdwallet.InternalChain, 2)

	explorerSvc := newFakeExplorer()
	// the whole internal branch fails per-address querying and must be
	// recovered through a block scan over the derived window.
	for index := uint32(0); index < 5; index++ {
		addr := fakeAddress(hdwallet.KeyScopeBIP84, hdwallet.InternalChain, index)
		explorerSvc.errByAddress[addr] = errors.New("explorer unreachable")
	}
	external := fakeAddress(hdwallet.KeyScopeBIP84, hdwallet.ExternalChain, 0)
	explorerSvc.txsByAddress[external] = append(
		explorerSvc.txsByAddress[external], confirmedTx("tx-ext", 100),
	)
	explorerSvc.withBlock(0, nil)
	explorerSvc.withBlock(1, []explorer.Transaction{{
		Txid:    txid,
		Outputs: []explorer.TxOutput{{Address: internalAddr, Value: 1000}},
	}})
	explorerSvc.hexByTxid[txid] = txHex

	coordinator := newTestCoordinator(
		t, explorerSvc, inmemory.NewScanStateRepositoryImpl(), true,
	)

	res, err := coordinator.Scan(context.Background(), domain.RecoveryRequest{
		Mode:      domain.RecoveryModeRestore,
		Scopes:    []hdwallet.KeyScope{hdwallet.KeyScopeBIP84},
		GapLimit:  5,
		BatchSize: 2,
	})
	require.NoError(t, err)

	externalBranch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.ExternalChain,
	}
	internalBranch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.InternalChain,
	}
	require.Equal(t, 0, res.HighestUsedIndexes[externalBranch])
	require.Equal(t, 2, res.HighestUsedIndexes[internalBranch])
	require.Len(t, res.Matches, 2)
}

func TestCoordinatorRescanDowngradesToBlockScan(t *testing.T) {
	explorerSvc := newFakeExplorer()
	known := knownAddressesForTest(2)
	for _, info := range known {
		explorerSvc.errByAddress[info.Address] = errors.New("explorer unreachable")
	}
	// lookahead addresses fail too, forcing the downgrade.
	for index := uint32(2); index < 10; index++ {
		addr := fakeAddress(testBranch.Scope, testBranch.Chain, index)
		explorerSvc.errByAddress[addr] = errors.New("explorer unreachable")
	}
	explorerSvc.withBlock(0, nil)
	explorerSvc.withBlock(1, nil)

	coordinator := newTestCoordinator(
		t, explorerSvc, inmemory.NewScanStateRepositoryImpl(), true,
	)

	res, err := coordinator.Scan(context.Background(), domain.RecoveryRequest{
		Mode:           domain.RecoveryModeRescan,
		KnownAddresses: known,
		GapLimit:       5,
		BatchSize:      2,
	})
	require.NoError(t, err)
	require.Empty(t, res.Matches)
	require.GreaterOrEqual(t, explorerSvc.blockFetchCount(), 2)
}

func TestCoordinatorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coordinator := newTestCoordinator(
		t, newFakeExplorer(), inmemory.NewScanStateRepositoryImpl(), true,
	)

	_, err := coordinator.Scan(ctx, domain.RecoveryRequest{
		Mode:      domain.RecoveryModeRestore,
		Scopes:    hdwallet.DefaultKeyScopes,
		GapLimit:  5,
		BatchSize: 2,
	})
	require.ErrorIs(t, err, domain.ErrScanCanceled)
}

func TestCoordinatorPersistFailureDoesNotFailScan(t *testing.T) {
	explorerSvc := newFakeExplorer()
	used := fakeAddress(hdwallet.KeyScopeBIP84, hdwallet.ExternalChain, 0)
	explorerSvc.txsByAddress[used] = append(
		explorerSvc.txsByAddress[used], confirmedTx("tx-ext", 100),
	)

	repo := &mockScanStateRepository{}
	repo.On("UpdateHighestUsedIndex", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("store closed"))

	coordinator := newTestCoordinator(t, explorerSvc, repo, true)

	res, err := coordinator.Scan(context.Background(), domain.RecoveryRequest{
		Mode:      domain.RecoveryModeRestore,
		Scopes:    []hdwallet.KeyScope{hdwallet.KeyScopeBIP84},
		GapLimit:  5,
		BatchSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	repo.AssertCalled(
		t, "UpdateHighestUsedIndex", mock.Anything, mock.Anything, mock.Anything,
	)
}

func TestCoordinatorInvalidRequest(t *testing.T) {
	coordinator := newTestCoordinator(
		t, newFakeExplorer(), inmemory.NewScanStateRepositoryImpl(), true,
	)

	_, err := coordinator.Scan(context.Background(), domain.RecoveryRequest{
		Mode: domain.RecoveryModeRestore, GapLimit: 5, BatchSize: 2,
	})
	require.ErrorIs(t, err, domain.ErrNullScopes)
}

func TestNewScanCoordinatorInvalidOpts(t *testing.T) {
	_, err := application.NewScanCoordinator(application.ScanCoordinatorOpts{
		Deriver: fakeDeriver{}, Repo: inmemory.NewScanStateRepositoryImpl(),
		BlockScanThreshold: 200, BruteForceWindow: 100,
	})
	require.ErrorIs(t, err, application.ErrNullExplorer)

	_, err = application.NewScanCoordinator(application.ScanCoordinatorOpts{
		ExplorerSvc: newFakeExplorer(), Deriver: fakeDeriver{},
		Repo: inmemory.NewScanStateRepositoryImpl(), BruteForceWindow: 100,
	})
	require.ErrorIs(t, err, application.ErrInvalidThreshold)
}

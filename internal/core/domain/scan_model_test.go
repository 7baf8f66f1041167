package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

func TestScanState(t *testing.T) {
	state := domain.NewScanState()
	require.Equal(t, -1, state.HighestUsedIndex)
	require.Equal(t, 0, state.CurrentIndex)
	require.False(t, state.GapReached(1))

	// highest used index only moves forward.
	state.Advance()
	state.MarkUsed(0)
	state.Advance()
	state.Advance()
	state.MarkUsed(2)
	state.MarkUsed(1)
	require.Equal(t, 2, state.HighestUsedIndex)
	require.Equal(t, 3, state.CurrentIndex)
	require.True(t, state.HighestUsedIndex <= state.CurrentIndex-1)
}

func TestScanStateGapReached(t *testing.T) {
	gapLimit := 3

	state := domain.NewScanState()
	state.Advance()
	state.MarkUsed(0)
	for i := 0; i < gapLimit; i++ {
		require.False(t, state.GapReached(gapLimit))
		state.Advance()
	}
	require.True(t, state.GapReached(gapLimit))
}

func TestScanResultAddMatch(t *testing.T) {
	res := domain.NewScanResult()
	res.AddMatch(domain.TxMatch{
		Txid: "aa", BlockHeight: 10, Addresses: []string{"addr1"},
	})
	res.AddMatch(domain.TxMatch{
		Txid: "bb", BlockHeight: 11, Addresses: []string{"addr1"},
	})
	// same (txid, height) pair merges addresses instead of duplicating.
	res.AddMatch(domain.TxMatch{
		Txid: "aa", BlockHeight: 10, Addresses: []string{"addr2", "addr1"},
	})

	require.Len(t, res.Matches, 2)
	assert.ElementsMatch(t, []string{"addr1", "addr2"}, res.Matches[0].Addresses)
}

func TestScanResultAddMatchAttachesTxHex(t *testing.T) {
	res := domain.NewScanResult()
	res.AddMatch(domain.TxMatch{Txid: "aa", BlockHeight: 10})
	res.AddMatch(domain.TxMatch{Txid: "aa", BlockHeight: 10, TxHex: "0200"})

	require.Len(t, res.Matches, 1)
	require.Equal(t, "0200", res.Matches[0].TxHex)
}

func TestScanResultMerge(t *testing.T) {
	branch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.ExternalChain,
	}

	res := domain.NewScanResult()
	res.HighestUsedIndexes[branch] = 3
	res.AddMatch(domain.TxMatch{Txid: "aa", BlockHeight: 10})

	other := domain.NewScanResult()
	other.HighestUsedIndexes[branch] = 5
	other.AddMatch(domain.TxMatch{Txid: "aa", BlockHeight: 10})
	other.AddMatch(domain.TxMatch{Txid: "bb", BlockHeight: 12})

	res.Merge(other)
	require.Equal(t, 5, res.HighestUsedIndexes[branch])
	require.Len(t, res.Matches, 2)

	// merging a lower index must not regress the branch.
	lower := domain.NewScanResult()
	lower.HighestUsedIndexes[branch] = 1
	res.Merge(lower)
	require.Equal(t, 5, res.HighestUsedIndexes[branch])
}

func TestScanResultNormalize(t *testing.T) {
	res := domain.NewScanResult()
	res.AddMatch(domain.TxMatch{Txid: "bb", BlockHeight: 12, Addresses: []string{"z", "a"}})
	res.AddMatch(domain.TxMatch{Txid: "cc", BlockHeight: 10})
	res.AddMatch(domain.TxMatch{Txid: "aa", BlockHeight: 10})
	res.NewlyUsedAddresses = []hdwallet.AddressInfo{
		{Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.ExternalChain, Index: 1},
		{Scope: hdwallet.KeyScopeBIP44, Chain: hdwallet.InternalChain, Index: 0},
		{Scope: hdwallet.KeyScopeBIP44, Chain: hdwallet.ExternalChain, Index: 2},
	}

	res.Normalize()

	require.Equal(t, []string{"aa", "cc", "bb"}, []string{
		res.Matches[0].Txid, res.Matches[1].Txid, res.Matches[2].Txid,
	})
	require.Equal(t, []string{"a", "z"}, res.Matches[2].Addresses)
	require.Equal(t, hdwallet.KeyScopeBIP44, res.NewlyUsedAddresses[0].Scope)
	require.Equal(t, hdwallet.ExternalChain, res.NewlyUsedAddresses[0].Chain)
	require.Equal(t, hdwallet.InternalChain, res.NewlyUsedAddresses[1].Chain)
	require.Equal(t, hdwallet.KeyScopeBIP84, res.NewlyUsedAddresses[2].Scope)

	// normalizing twice is a no-op, identical scans must yield identical
	// results.
	before := *res
	res.Normalize()
	require.Equal(t, before.Matches, res.Matches)
	require.Equal(t, before.NewlyUsedAddresses, res.NewlyUsedAddresses)
}

func TestBranchString(t *testing.T) {
	branch := domain.Branch{
		Scope: hdwallet.KeyScopeBIP84, Chain: hdwallet.InternalChain,
	}
	require.Equal(t, "m/84'/internal", branch.String())
}

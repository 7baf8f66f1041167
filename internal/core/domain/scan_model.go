package domain

import (
	"fmt"
	"sort"

	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// Branch identifies one (scope, chain) derivation pair of the wallet.
type Branch struct {
	Scope hdwallet.KeyScope
	Chain hdwallet.Chain
}

func (b Branch) String() string {
	return fmt.Sprintf("%s/%s", b.Scope, b.Chain)
}

// ScanState tracks the progress of a gap-limit pass over one branch.
// HighestUsedIndex starts at -1 and is monotonically non-decreasing within
// one pass; the invariant HighestUsedIndex <= CurrentIndex-1 always holds.
type ScanState struct {
	HighestUsedIndex int
	CurrentIndex     int
}

// NewScanState returns the initial state of a gap-limit pass.
func NewScanState() ScanState {
	return ScanState{HighestUsedIndex: -1, CurrentIndex: 0}
}

// MarkUsed records that the address at the given index has activity. The
// cursor must have been advanced past the index beforehand. Indexes lower
// than the highest already observed are ignored so that the value stays
// monotonic even when batch results are aggregated out of order.
func (s *ScanState) MarkUsed(index int) {
	if index > s.HighestUsedIndex {
		s.HighestUsedIndex = index
	}
}

// Advance moves the scan cursor one address forward.
func (s *ScanState) Advance() {
	s.CurrentIndex++
}

// GapReached returns whether the stopping condition of the gap-limit
// algorithm fired: gapLimit consecutive unused addresses past the highest
// used one.
func (s ScanState) GapReached(gapLimit int) bool {
	return s.CurrentIndex-s.HighestUsedIndex > gapLimit
}

// BlockMeta identifies a block by height and hash.
type BlockMeta struct {
	Height int    `json:"height"`
	Hash   string `json:"hash"`
}

// TxMatch is a transaction found to reference at least one watched address.
// It is never mutated after creation, except for the raw hex being attached
// once fetched.
type TxMatch struct {
	Txid        string   `json:"txid"`
	BlockHeight int      `json:"block_height"`
	Addresses   []string `json:"addresses"`
	TxHex       string   `json:"tx_hex,omitempty"`
}

// ScanResult is the unified outcome of one coordinator invocation, consumed
// by the wallet layer and then discarded.
type ScanResult struct {
	HighestUsedIndexes map[Branch]int         `json:"-"`
	NewlyUsedAddresses []hdwallet.AddressInfo `json:"newly_used_addresses"`
	Matches            []TxMatch              `json:"matches"`
}

// NewScanResult returns an empty result.
func NewScanResult() *ScanResult {
	return &ScanResult{
		HighestUsedIndexes: map[Branch]int{},
		NewlyUsedAddresses: make([]hdwallet.AddressInfo, 0),
		Matches:            make([]TxMatch, 0),
	}
}

// AddMatch records a matched tx, merging the matched addresses if the same
// (txid, height) pair was already recorded. Re-adding an already reflected
// match therefore never duplicates it.
func (r *ScanResult) AddMatch(match TxMatch) {
	for i, m := range r.Matches {
		if m.Txid == match.Txid && m.BlockHeight == match.BlockHeight {
			r.Matches[i].Addresses = mergeAddresses(m.Addresses, match.Addresses)
			if len(match.TxHex) > 0 {
				r.Matches[i].TxHex = match.TxHex
			}
			return
		}
	}
	r.Matches = append(r.Matches, match)
}

// Merge folds another result into the receiver.
func (r *ScanResult) Merge(other *ScanResult) {
	if other == nil {
		return
	}
	for branch, index := range other.HighestUsedIndexes {
		if cur, ok := r.HighestUsedIndexes[branch]; !ok || index > cur {
			r.HighestUsedIndexes[branch] = index
		}
	}
	r.NewlyUsedAddresses = append(r.NewlyUsedAddresses, other.NewlyUsedAddresses...)
	for _, m := range other.Matches {
		r.AddMatch(m)
	}
}

// Normalize sorts matches by (height, txid) and addresses by derivation
// order so that two identical scans produce byte-identical results.
func (r *ScanResult) Normalize() {
	sort.Slice(r.Matches, func(i, j int) bool {
		if r.Matches[i].BlockHeight != r.Matches[j].BlockHeight {
			return r.Matches[i].BlockHeight < r.Matches[j].BlockHeight
		}
		return r.Matches[i].Txid < r.Matches[j].Txid
	})
	for i := range r.Matches {
		sort.Strings(r.Matches[i].Addresses)
	}
	sort.Slice(r.NewlyUsedAddresses, func(i, j int) bool {
		a, b := r.NewlyUsedAddresses[i], r.NewlyUsedAddresses[j]
		if a.Scope != b.Scope {
			return a.Scope.Purpose < b.Scope.Purpose
		}
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		return a.Index < b.Index
	})
}

func mergeAddresses(current, incoming []string) []string {
	seen := map[string]struct{}{}
	for _, a := range current {
		seen[a] = struct{}{}
	}
	for _, a := range incoming {
		if _, ok := seen[a]; !ok {
			current = append(current, a)
			seen[a] = struct{}{}
		}
	}
	return current
}

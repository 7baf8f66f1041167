package domain

import (
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// RecoveryMode selects how the wallet state is rebuilt: Restore starts from
// seed material alone, Rescan re-verifies a wallet whose address-usage
// history is already persisted.
type RecoveryMode int

const (
	RecoveryModeRestore RecoveryMode = iota
	RecoveryModeRescan
)

func (m RecoveryMode) String() string {
	switch m {
	case RecoveryModeRestore:
		return "restore"
	case RecoveryModeRescan:
		return "rescan"
	default:
		return "unknown"
	}
}

// StrategyType tags the scanning strategy picked by the coordinator for a
// recovery. The set is exhaustive, selection is always a total switch over
// these values.
type StrategyType int

const (
	// StrategyAddressQuery queries the explorer once per address, either
	// through the gap-limit scanner (restore) or the known-address
	// rescanner (rescan).
	StrategyAddressQuery StrategyType = iota
	// StrategyBlockScan scans raw block contents against a watched-address
	// set, used when that set is too large for per-address querying.
	StrategyBlockScan
	// StrategyBruteForce derives and queries every address up to a fixed
	// window. This is the historical behavior, kept selectable but never
	// chosen by default.
	StrategyBruteForce
)

func (s StrategyType) String() string {
	switch s {
	case StrategyAddressQuery:
		return "address_query"
	case StrategyBlockScan:
		return "block_scan"
	case StrategyBruteForce:
		return "brute_force"
	default:
		return "unknown"
	}
}

// DefaultGapLimit is the BIP44 convention: a branch is considered fully
// discovered after 20 consecutive unused addresses.
const DefaultGapLimit = 20

// RecoveryRequest describes one recovery to be carried out by the scan
// coordinator.
type RecoveryRequest struct {
	Mode RecoveryMode
	// Scopes is the seed-derived enumeration of branches to discover, used
	// in Restore mode.
	Scopes []hdwallet.KeyScope
	// KnownAddresses is the set of already-known used addresses, used in
	// Rescan mode.
	KnownAddresses []hdwallet.AddressInfo
	GapLimit       int
	BatchSize      int
	// BirthdayHeight is the lower bound on relevant block heights.
	BirthdayHeight int
}

// Validate refuses to proceed with invalid values rather than silently
// inferring defaults.
func (r RecoveryRequest) Validate() error {
	switch r.Mode {
	case RecoveryModeRestore:
		if len(r.Scopes) <= 0 {
			return ErrNullScopes
		}
	case RecoveryModeRescan:
		if len(r.KnownAddresses) <= 0 {
			return ErrNullKnownAddresses
		}
	default:
		return ErrUnknownRecoveryMode
	}
	if r.GapLimit <= 0 {
		return ErrInvalidGapLimit
	}
	if r.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if r.BirthdayHeight < 0 {
		return ErrInvalidBirthday
	}
	return nil
}

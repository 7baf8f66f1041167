package application

import "github.com/tdex-network/chainscan/pkg/hdwallet"

// AddressDeriver derives the wallet address at (scope, chain, index). The
// derivation must be pure, deterministic and safe for concurrent use; the
// only failure mode is an invalid (scope, chain) combination, which is a
// configuration error and is never silently skipped.
type AddressDeriver interface {
	DeriveAddress(
		scope hdwallet.KeyScope, chain hdwallet.Chain, index uint32,
	) (*hdwallet.AddressInfo, error)
}

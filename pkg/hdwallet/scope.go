package hdwallet

import "fmt"

// KeyScope identifies a key-derivation branch of the wallet, corresponding
// to one address type (BIP44 legacy, BIP49 nested segwit, BIP84 native
// segwit).
type KeyScope struct {
	Purpose uint32
}

var (
	KeyScopeBIP44 = KeyScope{Purpose: 44}
	KeyScopeBIP49 = KeyScope{Purpose: 49}
	KeyScopeBIP84 = KeyScope{Purpose: 84}

	// DefaultKeyScopes are the scopes enumerated during a restore from seed.
	DefaultKeyScopes = []KeyScope{KeyScopeBIP44, KeyScopeBIP49, KeyScopeBIP84}
)

func (s KeyScope) String() string {
	return fmt.Sprintf("m/%d'", s.Purpose)
}

// Chain is the external (receive) or internal (change) sub-branch within a
// key scope.
type Chain uint32

const (
	ExternalChain Chain = 0
	InternalChain Chain = 1
)

// Chains enumerates both sub-branches of a scope.
var Chains = []Chain{ExternalChain, InternalChain}

func (c Chain) String() string {
	if c == InternalChain {
		return "internal"
	}
	return "external"
}

// AddressInfo holds a derived address along with its derivation metadata.
// It is immutable once derived.
type AddressInfo struct {
	Scope          KeyScope
	Chain          Chain
	Index          uint32
	Address        string
	Script         []byte
	DerivationPath string
}

package hdwallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/tyler-smith/go-bip39"
)

var (
	// ErrNullMnemonicOrSeed ...
	ErrNullMnemonicOrSeed = errors.New("mnemonic and/or seed must not be null")
	// ErrInvalidMnemonic ...
	ErrInvalidMnemonic = errors.New("mnemonic is not valid")
	// ErrNullNetwork ...
	ErrNullNetwork = errors.New("network must not be null")
	// ErrUnsupportedKeyScope is thrown when deriving an address for a scope
	// other than BIP44, BIP49 or BIP84.
	ErrUnsupportedKeyScope = errors.New("unsupported key scope")
	// ErrInvalidChain is thrown when deriving an address for a chain other
	// than the external or internal one.
	ErrInvalidChain = errors.New("chain must be either external (0) or internal (1)")
	// ErrOutOfRangeIndex ...
	ErrOutOfRangeIndex = errors.New("address index must not reach the hardened range")
)

// Wallet derives addresses of an HD wallet at (scope, chain, index). All
// methods are safe for concurrent use, derivation never mutates the wallet.
type Wallet struct {
	masterKey    *hdkeychain.ExtendedKey
	net          *chaincfg.Params
	accountIndex uint32
}

// NewWalletFromMnemonicOpts is the struct given to NewWalletFromMnemonic.
type NewWalletFromMnemonicOpts struct {
	Mnemonic []string
	Network  *chaincfg.Params
}

func (o NewWalletFromMnemonicOpts) validate() error {
	if len(o.Mnemonic) <= 0 {
		return ErrNullMnemonicOrSeed
	}
	if !bip39.IsMnemonicValid(strings.Join(o.Mnemonic, " ")) {
		return ErrInvalidMnemonic
	}
	if o.Network == nil {
		return ErrNullNetwork
	}
	return nil
}

// NewWalletFromMnemonic returns a Wallet for the given BIP39 mnemonic.
func NewWalletFromMnemonic(opts NewWalletFromMnemonicOpts) (*Wallet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(strings.Join(opts.Mnemonic, " "), "")
	return NewWalletFromSeed(NewWalletFromSeedOpts{
		Seed:    seed,
		Network: opts.Network,
	})
}

// NewWalletFromSeedOpts is the struct given to NewWalletFromSeed.
type NewWalletFromSeedOpts struct {
	Seed    []byte
	Network *chaincfg.Params
}

func (o NewWalletFromSeedOpts) validate() error {
	if len(o.Seed) <= 0 {
		return ErrNullMnemonicOrSeed
	}
	if o.Network == nil {
		return ErrNullNetwork
	}
	return nil
}

// NewWalletFromSeed returns a Wallet for the given seed material.
func NewWalletFromSeed(opts NewWalletFromSeedOpts) (*Wallet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	masterKey, err := hdkeychain.NewMaster(opts.Seed, opts.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	return &Wallet{
		masterKey: masterKey,
		net:       opts.Network,
	}, nil
}

// DeriveAddress derives the address at m/purpose'/coin'/0'/chain/index for
// the given scope. It is pure and deterministic, the only failure modes are
// an invalid (scope, chain) combination or an out-of-range index.
func (w *Wallet) DeriveAddress(
	scope KeyScope, chain Chain, index uint32,
) (*AddressInfo, error) {
	switch scope {
	case KeyScopeBIP44, KeyScopeBIP49, KeyScopeBIP84:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyScope, scope)
	}
	if chain != ExternalChain && chain != InternalChain {
		return nil, ErrInvalidChain
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, ErrOutOfRangeIndex
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + scope.Purpose,
		hdkeychain.HardenedKeyStart + w.net.HDCoinType,
		hdkeychain.HardenedKeyStart + w.accountIndex,
		uint32(chain),
		index,
	}

	key := w.masterKey
	var err error
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("unable to derive child key: %w", err)
		}
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())

	var addr btcutil.Address
	switch scope {
	case KeyScopeBIP44:
		addr, err = btcutil.NewAddressPubKeyHash(pubKeyHash, w.net)
	case KeyScopeBIP49:
		var witAddr *btcutil.AddressWitnessPubKeyHash
		witAddr, err = btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, w.net)
		if err == nil {
			var witnessScript []byte
			witnessScript, err = txscript.PayToAddrScript(witAddr)
			if err == nil {
				addr, err = btcutil.NewAddressScriptHash(witnessScript, w.net)
			}
		}
	case KeyScopeBIP84:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, w.net)
	}
	if err != nil {
		return nil, err
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &AddressInfo{
		Scope:   scope,
		Chain:   chain,
		Index:   index,
		Address: addr.EncodeAddress(),
		Script:  script,
		DerivationPath: fmt.Sprintf(
			"m/%d'/%d'/%d'/%d/%d",
			scope.Purpose, w.net.HDCoinType, w.accountIndex, chain, index,
		),
	}, nil
}

// Package wallet manages the bundler's own signing identities: the
// transaction-signing key used to submit handleOps bundles (SPEC_FULL.md
// §4.6 step 7) and the distinct relay-authentication key Flashbots
// submission signs with. Both are derived from a single BIP-39 mnemonic
// and persisted to disk as a pair of go-ethereum web3-secret-storage
// encrypted keystore blobs, the same format accounts/keystore uses for a
// node's own account keys.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

const (
	beneficiaryLabel = "beneficiary"
	flashbotsLabel   = "flashbots"

	// mnemonicEntropyBits yields a 12-word mnemonic, the same default
	// go-ethereum's own account-generation tooling uses.
	mnemonicEntropyBits = 128
)

// Wallet holds the bundler's two signing keys, both derived from the same
// mnemonic: Beneficiary signs the bundle transactions the node submits
// directly, Flashbots authenticates bundle submissions to a relay. Keeping
// them distinct means a relay never has to be trusted with the key that
// actually spends the bundler's deposit-backed balance.
type Wallet struct {
	Mnemonic    string
	Beneficiary *ecdsa.PrivateKey
	Flashbots   *ecdsa.PrivateKey
}

// Generate creates a fresh mnemonic and derives both keys from it.
func Generate() (*Wallet, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return nil, fmt.Errorf("wallet: generating entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("wallet: building mnemonic: %w", err)
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic re-derives both keys from an existing mnemonic, so a wallet
// can be recreated from a backup phrase without its keystore file.
func FromMnemonic(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("wallet: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	beneficiary, err := deriveKey(seed, beneficiaryLabel)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving beneficiary key: %w", err)
	}
	flashbots, err := deriveKey(seed, flashbotsLabel)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving flashbots key: %w", err)
	}

	return &Wallet{Mnemonic: mnemonic, Beneficiary: beneficiary, Flashbots: flashbots}, nil
}

// deriveKey turns seed into a labeled child key. The pack carries no
// BIP-32/44 HD wallet library, so derivation here is a single
// domain-separated hash rather than a full hardened derivation path: each
// label reduces the 64-byte seed to a distinct 32-byte scalar via
// keccak256(seed || label). Good enough to keep the two keys independent
// and reproducible from the mnemonic; not a standard derivation path a
// hardware wallet or another implementation could reproduce.
func deriveKey(seed []byte, label string) (*ecdsa.PrivateKey, error) {
	digest := crypto.Keccak256(seed, []byte(label))
	return crypto.ToECDSA(digest)
}

// Address returns the beneficiary key's address, satisfying
// bundler.Signer.
func (w *Wallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.Beneficiary.PublicKey)
}

// FlashbotsAddress returns the relay-authentication key's address, useful
// for operators allow-listing a bundler's signing identity with a relay.
func (w *Wallet) FlashbotsAddress() common.Address {
	return crypto.PubkeyToAddress(w.Flashbots.PublicKey)
}

// SignTx signs tx with the beneficiary key, satisfying bundler.Signer.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.Beneficiary)
}

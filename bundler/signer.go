package bundler

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces the bundler's own signature over a built handleOps
// transaction. The wallet package's encrypted-mnemonic keys implement this
// the same way keyedSigner does here, so Bundler never depends on how a
// key was loaded.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// keyedSigner is the in-process Signer used by tests and by any caller
// that already holds a raw private key, mirroring go-ethereum's
// accounts/abi/bind.NewKeyedTransactorWithChainID signing path without
// pulling in the full bind.TransactOpts surface.
type keyedSigner struct {
	key *ecdsa.PrivateKey
	addr common.Address
}

// NewKeyedSigner wraps key as a Signer.
func NewKeyedSigner(key *ecdsa.PrivateKey) Signer {
	return &keyedSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *keyedSigner) Address() common.Address { return s.addr }

func (s *keyedSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

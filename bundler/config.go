// Package bundler implements the bundling loop of SPEC_FULL.md §4.6: a
// periodic tick that selects candidate UserOperations off the mempool,
// re-validates and prunes them into a conflict-free bundle, builds and
// signs a handleOps transaction, submits it (directly or via Flashbots),
// and observes inclusion to apply reputation/mempool side effects.
//
// Grounded on miner/worker.go's generateWork/fillTransactions shape: a
// bounded-gas selection loop over a priority-ordered set, generalized from
// block-building to ERC-4337 bundle-building.
package bundler

import (
	"math/big"
	"time"
)

// SubmitStrategy selects how a built bundle transaction reaches the chain.
type SubmitStrategy int

const (
	// SubmitEthClient sends the signed transaction straight to the
	// connected execution client's mempool.
	SubmitEthClient SubmitStrategy = iota
	// SubmitFlashbots submits the transaction as a single-tx bundle to
	// every configured relay, signed with a distinct Flashbots identity
	// key separate from the bundler beneficiary key.
	SubmitFlashbots
)

func (s SubmitStrategy) String() string {
	switch s {
	case SubmitFlashbots:
		return "flashbots"
	default:
		return "eth_client"
	}
}

// Config carries the bundler loop's operator-tunable thresholds (§4.6, §6).
type Config struct {
	BundleInterval time.Duration
	BundleGasLimit *big.Int

	// MinBalance is the beneficiary balance floor; below it step 6
	// redirects the bundle's beneficiary to the signing wallet itself.
	MinBalance *big.Int

	// ObserveBlocks bounds how many blocks the loop waits for a
	// submitted bundle to land before giving up and restoring its UOs.
	ObserveBlocks uint64

	// GasHeadroom is added to the estimated gas of the handleOps call
	// (step 5's "+10000 head-room").
	GasHeadroom uint64

	// FeeBumpPercent bumps the bundle transaction's fee fields above the
	// maximum seen across the bundle's UserOperations (step 5's "small
	// bump"), so the bundler's own tx is never undercut by the UOs it
	// carries.
	FeeBumpPercent int64

	SubmitStrategy  SubmitStrategy
	FlashbotsRelays []string
}

// DefaultConfig returns the thresholds named as defaults in SPEC_FULL.md:
// a 10s tick, a 10,000,000 gas bundle budget (the Open Question resolved
// in DESIGN.md), and a 10-block inclusion-observation window.
func DefaultConfig() Config {
	return Config{
		BundleInterval:  10 * time.Second,
		BundleGasLimit:  big.NewInt(10_000_000),
		MinBalance:      big.NewInt(1e17),
		ObserveBlocks:   10,
		GasHeadroom:     10_000,
		FeeBumpPercent:  5,
		SubmitStrategy:  SubmitEthClient,
		FlashbotsRelays: nil,
	}
}

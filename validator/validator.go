package validator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/metrics"
	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/uopool"
)

// Config carries the operator-tunable thresholds stages S1–S4 check
// against (spec §4.4, §6).
type Config struct {
	EntryPoints             map[common.Address]bool
	MaxVerificationGas      *big.Int
	MinPriorityFeePerGas    *big.Int
	ValidAfterUntilSkewSecs int64
	SameSenderMempoolCount  int
	ThrottledMempoolCount   int
	Unsafe                  bool // operator-selectable: skip S3 entirely
}

// DefaultConfig returns the thresholds named as defaults in SPEC_FULL.md.
func DefaultConfig(entryPoints ...common.Address) Config {
	eps := make(map[common.Address]bool, len(entryPoints))
	for _, ep := range entryPoints {
		eps[ep] = true
	}
	return Config{
		EntryPoints:             eps,
		MaxVerificationGas:      big.NewInt(5_000_000),
		MinPriorityFeePerGas:    big.NewInt(0),
		ValidAfterUntilSkewSecs: 30,
		SameSenderMempoolCount:  4,
		ThrottledMempoolCount:   4,
	}
}

// NonceChecker abstracts the EntryPoint's per-(sender, key) nonce manager,
// used by S1 to reject stale UserOperations.
type NonceChecker interface {
	GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error)
}

// Result is the accumulated output of a full (or unsafe, S3-skipped) run:
// the decoded simulation result plus, unless Unsafe, the code hashes S3
// observed — handed to uopool.Pool.SetCodeHashes by the caller on
// successful admission.
type Result struct {
	Simulation *entrypoint.ValidationResult
	CodeHashes []uopool.CodeHash
}

// Validator runs the four-stage pipeline over a single UserOperation.
type Validator struct {
	config     Config
	entryPoint *entrypoint.Client
	eth        ethprovider.EthProvider
	nonces     NonceChecker
	reputation *reputation.Manager
	mempool    *uopool.Pool
}

// New wires a Validator against the given EntryPoint/provider/nonce
// source/reputation engine/mempool (S4 reads current per-entity mempool
// occupancy off mempool to enforce its caps).
func New(config Config, ep *entrypoint.Client, eth ethprovider.EthProvider, nonces NonceChecker, rep *reputation.Manager, mempool *uopool.Pool) *Validator {
	return &Validator{config: config, entryPoint: ep, eth: eth, nonces: nonces, reputation: rep, mempool: mempool}
}

// ValidateForAdmission runs S1 through S4 (or S1, S2, S4 in unsafe mode),
// the full pipeline a UserOperation goes through on first submission.
func (v *Validator) ValidateForAdmission(ctx context.Context, op *entity.UserOperation, entryPoint common.Address) (*Result, error) {
	if err := v.sanityCheck(ctx, op, entryPoint); err != nil {
		metrics.ValidationSanityRejectedMeter.Mark(1)
		return nil, err
	}

	sim, err := v.simulate(ctx, op, entryPoint)
	if err != nil {
		metrics.ValidationSimulationRejectedMeter.Mark(1)
		return nil, err
	}

	var codeHashes []uopool.CodeHash
	if !v.config.Unsafe {
		codeHashes, err = v.traceValidation(ctx, op, entryPoint, sim)
		if err != nil {
			metrics.ValidationOpcodeRejectedMeter.Mark(1)
			return nil, err
		}
	}

	if err := v.reputationGate(op, sim); err != nil {
		metrics.ValidationReputationRejectedMeter.Mark(1)
		return nil, err
	}

	metrics.ValidationAcceptedMeter.Mark(1)
	return &Result{Simulation: sim, CodeHashes: codeHashes}, nil
}

// ValidateForBundling re-runs the cheaper subset (S2 and, unless unsafe,
// S3) used by the bundler loop's second pass before inclusion (§4.6 step
// 3b): sanity and the reputation gate were already satisfied at admission
// and do not need repeating for an unchanged UO.
func (v *Validator) ValidateForBundling(ctx context.Context, op *entity.UserOperation, entryPoint common.Address) (*Result, error) {
	sim, err := v.simulate(ctx, op, entryPoint)
	if err != nil {
		return nil, err
	}
	var codeHashes []uopool.CodeHash
	if !v.config.Unsafe {
		codeHashes, err = v.traceValidation(ctx, op, entryPoint, sim)
		if err != nil {
			return nil, err
		}
	}
	return &Result{Simulation: sim, CodeHashes: codeHashes}, nil
}

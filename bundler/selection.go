package bundler

import (
	"context"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/uopool"
)

// selection is the §4.6 step 2 accumulator: the bundle built so far plus
// every piece of per-tick bookkeeping steps 3a-3e consult.
type selection struct {
	bundle       []*entity.UserOperation
	sendersUsed  mapset.Set[common.Address]
	paymasterBal map[common.Address]*big.Int
	totalGas     *big.Int
}

func newSelection() *selection {
	return &selection{
		sendersUsed:  mapset.NewSet[common.Address](),
		paymasterBal: make(map[common.Address]*big.Int),
		totalGas:     new(big.Int),
	}
}

// opGasCost is the per-UserOp contribution to the bundle's gas budget
// (step 3d): callGasLimit plus a 3x verificationGasLimit multiplier
// (covering validateUserOp, validatePaymasterUserOp and postOp) plus a
// flat 5000 gas allowance for the EntryPoint's own per-op bookkeeping.
func opGasCost(op *entity.UserOperation) *big.Int {
	cost := new(big.Int).Set(op.CallGasLimit)
	verification := new(big.Int).Mul(op.VerificationGasLimit, big.NewInt(3))
	cost.Add(cost, verification)
	cost.Add(cost, big.NewInt(5000))
	return cost
}

// estimateMaxCost is the worst-case wei a paymaster could be charged for
// op, used to size the per-tick paymaster balance delta (step 3c).
func estimateMaxCost(op *entity.UserOperation) *big.Int {
	gas := new(big.Int).Add(op.CallGasLimit, op.VerificationGasLimit)
	gas.Add(gas, op.PreVerificationGas)
	return new(big.Int).Mul(gas, op.MaxFeePerGas)
}

// codeHashesDiffer reports whether any address common to both sets
// resolved to a different code hash, i.e. a contract touched during this
// UserOp's validation was redeployed since it was admitted (step 3b).
func codeHashesDiffer(stored, fresh []uopool.CodeHash) bool {
	byAddr := make(map[common.Address]common.Hash, len(stored))
	for _, ch := range stored {
		byAddr[ch.Address] = ch.Hash
	}
	for _, ch := range fresh {
		if prev, ok := byAddr[ch.Address]; ok && prev != ch.Hash {
			return true
		}
	}
	return false
}

// hashCodeHashes fills in the Hash field of every entry in hashes whose
// Hash is still the zero value, reading the address's current code over
// eth and reducing it with keccak256. traceValidation only names the
// addresses a UserOp's validation touched; the caller that actually wants
// to compare code across time (the bundler, here) is what fills in the
// digest.
func (b *Bundler) hashCodeHashes(ctx context.Context, hashes []uopool.CodeHash) ([]uopool.CodeHash, error) {
	out := make([]uopool.CodeHash, len(hashes))
	for i, ch := range hashes {
		if ch.Hash != (common.Hash{}) {
			out[i] = ch
			continue
		}
		code, err := b.eth.CodeAt(ctx, ch.Address, nil)
		if err != nil {
			return nil, err
		}
		out[i] = uopool.CodeHash{Address: ch.Address, Hash: crypto.Keccak256Hash(code)}
	}
	return out, nil
}

// selectBundle runs §4.6 steps 2-3: walk candidates in priority order,
// pruning same-sender conflicts, re-validating, checking code-hash drift
// and paymaster solvency, and stopping once the gas budget is spent.
func (b *Bundler) selectBundle(ctx context.Context, candidates []*entity.UserOperation) *selection {
	sel := newSelection()

	for _, op := range candidates {
		if sel.sendersUsed.Contains(op.Sender) {
			continue // 3a
		}

		hash := b.entryPoint.GetUserOpHash(op)

		result, err := b.validator.ValidateForBundling(ctx, op, b.entryPoint.Address())
		if err != nil {
			b.dropAndPenalize(ctx, op, hash, "revalidation failed", err)
			continue
		}

		if result.CodeHashes != nil {
			stored, storedErr := b.mempool.GetCodeHashes(hash)
			fresh, freshErr := b.hashCodeHashes(ctx, result.CodeHashes)
			if storedErr == nil && freshErr == nil && codeHashesDiffer(stored, fresh) {
				b.dropAndPenalize(ctx, op, hash, "code hash drift", nil)
				continue
			}
			if freshErr == nil {
				_ = b.mempool.SetCodeHashes(hash, fresh)
			}
		}

		if paymaster, ok := op.Paymaster(); ok {
			bal, ok := sel.paymasterBal[paymaster]
			if !ok {
				bal, err = b.entryPoint.GetDeposit(ctx, paymaster)
				if err != nil {
					log.Warn("bundler: reading paymaster deposit failed, skipping op", "paymaster", paymaster, "err", err)
					continue
				}
				sel.paymasterBal[paymaster] = bal
			}
			cost := estimateMaxCost(op)
			if bal.Cmp(cost) < 0 {
				continue // 3c: insufficient balance
			}
			sel.paymasterBal[paymaster] = new(big.Int).Sub(bal, cost)
		}

		gasForOp := opGasCost(op)
		if new(big.Int).Add(sel.totalGas, gasForOp).Cmp(b.config.BundleGasLimit) > 0 {
			break // 3d: bundle is full
		}

		sel.bundle = append(sel.bundle, op) // 3e
		sel.sendersUsed.Add(op.Sender)
		sel.totalGas.Add(sel.totalGas, gasForOp)
	}

	return sel
}

// dropAndPenalize implements the reputation side effect named in step 3b:
// seen++ on every entity of a dropped UserOp, included left untouched.
func (b *Bundler) dropAndPenalize(ctx context.Context, op *entity.UserOperation, hash common.Hash, reason string, cause error) {
	log.Warn("bundler: dropping UserOperation from candidate set", "hash", hash, "reason", reason, "err", cause)
	b.mempool.Remove(hash)
	for _, addr := range op.Entities() {
		if err := b.reputation.IncrementSeen(addr); err != nil {
			log.Error("bundler: failed to penalize dropped UserOperation's entity", "addr", addr, "err", err)
		}
	}
}

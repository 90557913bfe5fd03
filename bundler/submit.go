package bundler

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/metachris/flashbotsrpc"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
)

// buildTx implements §4.6 steps 5-6: pack handleOps(bundle, beneficiary),
// estimate gas with head-room, compute bumped fees over the bundle, and
// redirect the beneficiary to the bundler's own address if the configured
// one is running low.
func (b *Bundler) buildTx(ctx context.Context, bundle []*entity.UserOperation) (*types.Transaction, error) {
	beneficiary := b.beneficiary
	bal, err := b.eth.BalanceAt(ctx, beneficiary, nil)
	if err != nil {
		return nil, fmt.Errorf("bundler: reading beneficiary balance: %w", err)
	}
	if bal.Cmp(b.config.MinBalance) < 0 {
		log.Warn("bundler: beneficiary balance below floor, redirecting to signing wallet", "beneficiary", beneficiary, "balance", bal)
		beneficiary = b.signer.Address()
	}

	data, err := entrypoint.PackHandleOps(bundle, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("bundler: packing handleOps: %w", err)
	}

	entryPointAddr := b.entryPoint.Address()
	from := b.signer.Address()
	gas, err := b.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &entryPointAddr, Data: data})
	if err != nil {
		return nil, fmt.Errorf("bundler: estimating handleOps gas: %w", err)
	}
	gas += b.config.GasHeadroom

	maxFee, maxPriority := bumpedFees(bundle, b.config.FeeBumpPercent)

	nonce, err := b.eth.NonceAt(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("bundler: reading bundler wallet nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: maxPriority,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &entryPointAddr,
		Data:      data,
	})
	return b.signer.SignTx(tx, b.chainID)
}

// bumpedFees returns (maxFeePerGas, maxPriorityFeePerGas) as the maximum
// seen across bundle, each bumped by bumpPercent so the bundler's own
// transaction is never priced below the UserOperations it carries.
func bumpedFees(bundle []*entity.UserOperation, bumpPercent int64) (*big.Int, *big.Int) {
	maxFee, maxPriority := big.NewInt(0), big.NewInt(0)
	for _, op := range bundle {
		if op.MaxFeePerGas.Cmp(maxFee) > 0 {
			maxFee = op.MaxFeePerGas
		}
		if op.MaxPriorityFeePerGas.Cmp(maxPriority) > 0 {
			maxPriority = op.MaxPriorityFeePerGas
		}
	}
	bump := func(v *big.Int) *big.Int {
		return new(big.Int).Div(new(big.Int).Mul(v, big.NewInt(100+bumpPercent)), big.NewInt(100))
	}
	return bump(maxFee), bump(maxPriority)
}

// submit implements §4.6 step 7: hand tx to the configured strategy.
func (b *Bundler) submit(ctx context.Context, tx *types.Transaction) error {
	switch b.config.SubmitStrategy {
	case SubmitFlashbots:
		return b.submitFlashbots(ctx, tx)
	default:
		if err := b.eth.SendRawTransaction(ctx, tx); err != nil {
			return &SubmissionError{Strategy: b.config.SubmitStrategy.String(), Cause: err}
		}
		return nil
	}
}

// submitFlashbots sends tx as a single-transaction bundle to every
// configured relay, signed for relay authentication with a distinct
// Flashbots identity key (never the beneficiary key). Acceptance by any
// one relay counts as success; total rejection is left to the caller to
// retry on the next tick.
func (b *Bundler) submitFlashbots(ctx context.Context, tx *types.Transaction) error {
	rawTx, err := tx.MarshalBinary()
	if err != nil {
		return &SubmissionError{Strategy: "flashbots", Cause: err}
	}
	targetBlock, err := b.eth.BlockNumber(ctx)
	if err != nil {
		return &SubmissionError{Strategy: "flashbots", Cause: err}
	}
	req := flashbotsrpc.FlashbotsSendBundleRequest{
		Txs:         []string{hexutil.Encode(rawTx)},
		BlockNumber: hexutil.EncodeUint64(targetBlock + 1),
	}

	var lastErr error
	for _, relay := range b.config.FlashbotsRelays {
		client := flashbotsrpc.New(relay)
		if _, err := client.FlashbotsSendBundle(b.flashbotsKey, req); err != nil {
			log.Warn("bundler: flashbots relay rejected bundle", "relay", relay, "err", err)
			lastErr = err
			continue
		}
		return nil
	}
	return &SubmissionError{Strategy: "flashbots", Cause: fmt.Errorf("every relay rejected the bundle: %w", lastErr)}
}

package validator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
)

// sanityCheck is stage S1: every check here runs without talking to the
// EntryPoint's validation logic itself, only cheap RPC reads (code,
// nonce).
func (v *Validator) sanityCheck(ctx context.Context, op *entity.UserOperation, entryPoint common.Address) error {
	if !v.config.EntryPoints[entryPoint] {
		return &SanityError{Field: "entryPoint", Reason: "not in configured set"}
	}

	if calldataCost := entity.CalldataCost(op.CallData); op.PreVerificationGas.Uint64() < calldataCost {
		return &SanityError{Field: "preVerificationGas", Reason: "below calldata cost floor"}
	}

	if op.VerificationGasLimit.Cmp(v.config.MaxVerificationGas) > 0 {
		return &SanityError{Field: "verificationGasLimit", Reason: "exceeds configured maximum"}
	}

	if op.MaxPriorityFeePerGas.Cmp(op.MaxFeePerGas) > 0 {
		return &SanityError{Field: "maxPriorityFeePerGas", Reason: "exceeds maxFeePerGas"}
	}
	if op.MaxPriorityFeePerGas.Cmp(v.config.MinPriorityFeePerGas) < 0 {
		return &SanityError{Field: "maxPriorityFeePerGas", Reason: "below configured minimum"}
	}

	if len(op.InitCode) > 0 {
		if err := v.sanityCheckFactory(ctx, op); err != nil {
			return err
		}
	}

	if len(op.PaymasterAndData) > 0 {
		if err := v.sanityCheckPaymaster(ctx, op); err != nil {
			return err
		}
	}

	return v.sanityCheckNonce(ctx, op)
}

func (v *Validator) sanityCheckFactory(ctx context.Context, op *entity.UserOperation) error {
	if _, ok := op.Factory(); !ok {
		return &SanityError{Field: "initCode", Reason: "too short to contain a factory address"}
	}

	expected, err := v.entryPoint.GetSenderAddress(ctx, op.InitCode)
	if err != nil {
		return &ProviderError{Transport: "eth_call", Cause: err}
	}
	if expected != op.Sender {
		return &SanityError{Field: "sender", Reason: "does not match getSenderAddress(initCode)"}
	}

	code, err := v.eth.CodeAt(ctx, op.Sender, nil)
	if err != nil {
		return &ProviderError{Transport: "eth_getCode", Cause: err}
	}
	if len(code) != 0 {
		return &SanityError{Field: "sender", Reason: "already has code but initCode was supplied"}
	}

	return nil
}

func (v *Validator) sanityCheckPaymaster(ctx context.Context, op *entity.UserOperation) error {
	paymaster, ok := op.Paymaster()
	if !ok {
		return &SanityError{Field: "paymasterAndData", Reason: "too short to contain a paymaster address"}
	}

	code, err := v.eth.CodeAt(ctx, paymaster, nil)
	if err != nil {
		return &ProviderError{Transport: "eth_getCode", Cause: err}
	}
	if len(code) == 0 {
		return &SanityError{Field: "paymasterAndData", Reason: "paymaster is not a deployed contract"}
	}

	return nil
}

func (v *Validator) sanityCheckNonce(ctx context.Context, op *entity.UserOperation) error {
	if v.nonces == nil {
		return nil
	}
	// The EntryPoint's nonce key space packs a 192-bit key into the high
	// bits of the 256-bit nonce; key 0 is the sequential default every
	// wallet uses unless it opts into parallel nonces.
	key := new(big.Int).Rsh(op.Nonce, 64)
	current, err := v.nonces.GetNonce(ctx, op.Sender, key)
	if err != nil {
		return &ProviderError{Transport: "eth_call", Cause: err}
	}
	if op.Nonce.Cmp(current) < 0 {
		return &SanityError{Field: "nonce", Reason: "stale: below the EntryPoint's current nonce for this key"}
	}
	return nil
}

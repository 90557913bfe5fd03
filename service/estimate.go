package service

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
)

// GasEstimate answers eth_estimateUserOperationGas: the three gas fields a
// wallet needs to fill in before signing and submitting a UserOperation for
// real.
type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// EstimateUserOperationGas runs the same S1/S2(/S3) simulation admission
// would, rather than guessing: PreOpGas from the EntryPoint's own
// simulateValidation response is the real verification cost, and an
// EstimateGas against sender/callData covers the call phase. No mempool
// admission happens here, so a caller may estimate gas for a UserOperation
// it never intends to submit.
func (s *Service) EstimateUserOperationGas(ctx context.Context, entryPoint common.Address, op *entity.UserOperation) (*GasEstimate, error) {
	h, err := s.handle(entryPoint)
	if err != nil {
		return nil, err
	}

	sim, err := h.Validator.ValidateForAdmission(ctx, op, entryPoint)
	if err != nil {
		return nil, fmt.Errorf("service: estimating gas: %w", err)
	}

	callGas, err := h.Eth.EstimateGas(ctx, ethereum.CallMsg{
		From: entryPoint,
		To:   &op.Sender,
		Data: op.CallData,
	})
	if err != nil {
		// A reverting call phase is still a valid estimate target: the
		// wallet gets to decide whether to submit anyway. Fall back to
		// the operation's own declared limit rather than failing the
		// whole estimate.
		callGas = op.CallGasLimit.Uint64()
	}

	handleOpsData, err := entrypoint.PackHandleOps([]*entity.UserOperation{op}, common.Address{})
	if err != nil {
		return nil, fmt.Errorf("service: packing handleOps for pre-verification estimate: %w", err)
	}
	preVerificationGas := new(big.Int).SetUint64(entity.CalldataCost(handleOpsData))

	return &GasEstimate{
		PreVerificationGas:   preVerificationGas,
		VerificationGasLimit: sim.Simulation.ReturnInfo.PreOpGas,
		CallGasLimit:         new(big.Int).SetUint64(callGas),
	}, nil
}

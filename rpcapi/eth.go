package rpcapi

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/service"
)

// EthAPI implements the public eth_* methods of spec §6, registered under
// the "eth" namespace: eth_sendUserOperation, eth_estimateUserOperationGas,
// eth_getUserOperationByHash, eth_getUserOperationReceipt,
// eth_supportedEntryPoints, eth_chainId.
type EthAPI struct {
	service *service.Service
	chainID *big.Int
}

// NewEthAPI wires an EthAPI over svc, answering eth_chainId with chainID.
func NewEthAPI(svc *service.Service, chainID *big.Int) *EthAPI {
	return &EthAPI{service: svc, chainID: chainID}
}

// SendUserOperation admits op for entryPoint and returns its userOpHash.
func (a *EthAPI) SendUserOperation(ctx context.Context, op *entity.UserOperation, entryPoint common.Address) (common.Hash, error) {
	hash, err := a.service.SendUserOperation(ctx, entryPoint, op)
	if err != nil {
		return common.Hash{}, mapError(err)
	}
	return hash, nil
}

// gasEstimateResult is EthAPI.EstimateUserOperationGas's wire shape:
// hex-quantity big.Ints, matching every other ERC-4337 bundler's
// eth_estimateUserOperationGas response.
type gasEstimateResult struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// EstimateUserOperationGas answers eth_estimateUserOperationGas by running
// admission validation's simulation stage without admitting op.
func (a *EthAPI) EstimateUserOperationGas(ctx context.Context, op *entity.UserOperation, entryPoint common.Address) (*gasEstimateResult, error) {
	est, err := a.service.EstimateUserOperationGas(ctx, entryPoint, op)
	if err != nil {
		return nil, mapError(err)
	}
	return &gasEstimateResult{
		PreVerificationGas:   (*hexutil.Big)(est.PreVerificationGas),
		VerificationGasLimit: (*hexutil.Big)(est.VerificationGasLimit),
		CallGasLimit:         (*hexutil.Big)(est.CallGasLimit),
	}, nil
}

// userOperationByHashResult is eth_getUserOperationByHash's wire shape.
type userOperationByHashResult struct {
	UserOperation *entity.UserOperation `json:"userOperation"`
	EntryPoint    common.Address        `json:"entryPoint"`
}

// GetUserOperationByHash looks hash up across every registered EntryPoint's
// mempool, returning nil if it isn't (or is no longer) pending — the
// go-ethereum RPC convention for "not found" rather than an error.
func (a *EthAPI) GetUserOperationByHash(hash common.Hash) (*userOperationByHashResult, error) {
	op, entryPoint, ok := a.service.GetUserOperationByHash(hash)
	if !ok {
		return nil, nil
	}
	return &userOperationByHashResult{UserOperation: op, EntryPoint: entryPoint}, nil
}

// userOperationReceiptResult is eth_getUserOperationReceipt's wire shape.
type userOperationReceiptResult struct {
	UserOpHash  common.Hash  `json:"userOpHash"`
	TxHash      common.Hash  `json:"transactionHash"`
	BlockNumber *hexutil.Big `json:"blockNumber"`
	Success     bool         `json:"success"`
}

// GetUserOperationReceipt answers eth_getUserOperationReceipt, returning
// nil if hash's bundle transaction hasn't landed yet.
func (a *EthAPI) GetUserOperationReceipt(hash common.Hash) (*userOperationReceiptResult, error) {
	info, ok := a.service.GetUserOperationReceipt(hash)
	if !ok {
		return nil, nil
	}
	return &userOperationReceiptResult{
		UserOpHash:  hash,
		TxHash:      info.TxHash,
		BlockNumber: (*hexutil.Big)(new(big.Int).SetUint64(info.BlockNumber)),
		Success:     info.Success,
	}, nil
}

// SupportedEntryPoints answers eth_supportedEntryPoints.
func (a *EthAPI) SupportedEntryPoints() ([]common.Address, error) {
	return a.service.SupportedEntryPoints(), nil
}

// ChainId answers eth_chainId.
func (a *EthAPI) ChainId() (*hexutil.Big, error) {
	return (*hexutil.Big)(a.chainID), nil
}

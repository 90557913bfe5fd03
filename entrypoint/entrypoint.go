// Package entrypoint wraps a fixed ERC-4337 EntryPoint contract address:
// computing UserOp hashes, decoding the deliberately-reverting
// simulateValidation call, packing handleOps calldata, and mapping revert
// data to a typed failure (SPEC_FULL.md §4.2).
//
// Grounded on other_examples' aiops-bundler TraceSimulateValidation flow
// (building a no-send bind.TransactOpts call to `simulateValidation` and
// reading its revert payload) and on the entity package's own abi.Arguments
// usage for ABI encoding without a generated contract binding.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/reputation"
)

// StakeInfo matches the EntryPoint's StakeInfo struct returned for each
// entity in a ValidationResult.
type StakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

// ToReputation converts the EntryPoint's on-chain StakeInfo shape into the
// form reputation.StakeInfo.IsStaked checks against.
func (s StakeInfo) ToReputation() reputation.StakeInfo {
	var delay uint64
	if s.UnstakeDelaySec != nil {
		delay = s.UnstakeDelaySec.Uint64()
	}
	return reputation.StakeInfo{Stake: s.Stake, UnstakeDelay: delay}
}

// ReturnInfo matches the EntryPoint's ReturnInfo struct: the per-UserOp
// gas accounting and time-range validity produced by validateUserOp.
type ReturnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       uint64
	ValidUntil       uint64
	PaymasterContext []byte
}

// AggregatorStakeInfo additionally carries the aggregator's address when a
// UserOperation uses one.
type AggregatorStakeInfo struct {
	Aggregator common.Address
	StakeInfo  StakeInfo
}

// ValidationResult is the decoded return value of a simulateValidation
// call, which the EntryPoint always communicates by reverting with this
// payload (never by returning normally) so that state changes from the
// simulated validateUserOp calls are always rolled back by the node.
type ValidationResult struct {
	ReturnInfo      ReturnInfo
	SenderInfo      StakeInfo
	FactoryInfo     StakeInfo
	PaymasterInfo   StakeInfo
	AggregatorInfo  *AggregatorStakeInfo // nil unless the UserOp uses an aggregator
}

// FailedOp is the EntryPoint's plain validation-rejected revert: a 0-based
// index into the handleOps batch plus a human-readable reason string.
type FailedOp struct {
	OpIndex *big.Int
	Reason  string
}

func (f *FailedOp) Error() string {
	return fmt.Sprintf("entrypoint: op %s failed: %s", f.OpIndex, f.Reason)
}

var (
	stakeInfoTupleType    = mustTupleType("stakeInfo", []abi.ArgumentMarshaling{
		{Name: "stake", Type: "uint256"},
		{Name: "unstakeDelaySec", Type: "uint256"},
	})
	returnInfoTupleType = mustTupleType("returnInfo", []abi.ArgumentMarshaling{
		{Name: "preOpGas", Type: "uint256"},
		{Name: "prefund", Type: "uint256"},
		{Name: "sigFailed", Type: "bool"},
		{Name: "validAfter", Type: "uint48"},
		{Name: "validUntil", Type: "uint48"},
		{Name: "paymasterContext", Type: "bytes"},
	})
	aggregatorStakeInfoTupleType = mustTupleType("aggregatorStakeInfo", []abi.ArgumentMarshaling{
		{Name: "aggregator", Type: "address"},
		{Name: "stakeInfo", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "stake", Type: "uint256"},
			{Name: "unstakeDelaySec", Type: "uint256"},
		}},
	})

	validationResultArgs = abi.Arguments{
		{Name: "returnInfo", Type: returnInfoTupleType},
		{Name: "senderInfo", Type: stakeInfoTupleType},
		{Name: "factoryInfo", Type: stakeInfoTupleType},
		{Name: "paymasterInfo", Type: stakeInfoTupleType},
	}
	validationResultWithAggregationArgs = abi.Arguments{
		{Name: "returnInfo", Type: returnInfoTupleType},
		{Name: "senderInfo", Type: stakeInfoTupleType},
		{Name: "factoryInfo", Type: stakeInfoTupleType},
		{Name: "paymasterInfo", Type: stakeInfoTupleType},
		{Name: "aggregatorInfo", Type: aggregatorStakeInfoTupleType},
	}
	failedOpArgs = abi.Arguments{
		{Name: "opIndex", Type: mustType("uint256")},
		{Name: "reason", Type: mustType("string")},
	}

	validationResultSelector              = crypto.Keccak256([]byte("ValidationResult((uint256,uint256,bool,uint48,uint48,bytes),(uint256,uint256),(uint256,uint256),(uint256,uint256))"))[:4]
	validationResultWithAggregationSelector = crypto.Keccak256([]byte("ValidationResultWithAggregation((uint256,uint256,bool,uint48,uint48,bytes),(uint256,uint256),(uint256,uint256),(uint256,uint256),(address,(uint256,uint256)))"))[:4]
	failedOpSelector                      = crypto.Keccak256([]byte("FailedOp(uint256,string)"))[:4]

	simulateValidationSelector = crypto.Keccak256([]byte("simulateValidation((address,uint256,bytes,bytes,uint256,uint256,uint256,uint256,uint256,bytes,bytes))"))[:4]
	getSenderAddressSelector   = crypto.Keccak256([]byte("getSenderAddress(bytes)"))[:4]
	handleOpsSelector          = crypto.Keccak256([]byte("handleOps((address,uint256,bytes,bytes,uint256,uint256,uint256,uint256,uint256,bytes,bytes)[],address)"))[:4]
	balanceOfSelector          = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	getNonceSelector           = crypto.Keccak256([]byte("getNonce(address,uint192)"))[:4]

	uint256Args = abi.Arguments{{Type: mustType("uint256")}}
	getNonceArgs = abi.Arguments{{Type: mustType("address")}, {Type: mustType("uint192")}}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustTupleType(name string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Sprintf("entrypoint: building %s tuple type: %v", name, err))
	}
	return typ
}

var userOpTupleArg = abi.Arguments{{Type: mustTupleType("userOp", []abi.ArgumentMarshaling{
	{Name: "sender", Type: "address"},
	{Name: "nonce", Type: "uint256"},
	{Name: "initCode", Type: "bytes"},
	{Name: "callData", Type: "bytes"},
	{Name: "callGasLimit", Type: "uint256"},
	{Name: "verificationGasLimit", Type: "uint256"},
	{Name: "preVerificationGas", Type: "uint256"},
	{Name: "maxFeePerGas", Type: "uint256"},
	{Name: "maxPriorityFeePerGas", Type: "uint256"},
	{Name: "paymasterAndData", Type: "bytes"},
	{Name: "signature", Type: "bytes"},
})}}

func packUserOp(op *entity.UserOperation) ([]byte, error) {
	return userOpTupleArg.Pack(struct {
		Sender               common.Address
		Nonce                *big.Int
		InitCode             []byte
		CallData             []byte
		CallGasLimit         *big.Int
		VerificationGasLimit *big.Int
		PreVerificationGas   *big.Int
		MaxFeePerGas         *big.Int
		MaxPriorityFeePerGas *big.Int
		PaymasterAndData     []byte
		Signature            []byte
	}{
		op.Sender, op.Nonce, op.InitCode, op.CallData, op.CallGasLimit,
		op.VerificationGasLimit, op.PreVerificationGas, op.MaxFeePerGas,
		op.MaxPriorityFeePerGas, op.PaymasterAndData, op.Signature,
	})
}

// Client wraps a deployed EntryPoint address over an EthProvider.
type Client struct {
	address common.Address
	chainID *big.Int
	eth     ethprovider.EthProvider
}

// New returns a Client for the EntryPoint deployed at address on chainID.
func New(address common.Address, chainID *big.Int, eth ethprovider.EthProvider) *Client {
	return &Client{address: address, chainID: chainID, eth: eth}
}

// Address returns the wrapped EntryPoint's on-chain address.
func (c *Client) Address() common.Address { return c.address }

// GetUserOpHash computes op's identity hash against this EntryPoint and
// chain, delegating to entity.UserOperation.Hash.
func (c *Client) GetUserOpHash(op *entity.UserOperation) common.Hash {
	return op.Hash(c.address, c.chainID)
}

// GetSenderAddress calls the EntryPoint's counterfactual address helper,
// which (like simulateValidation) always communicates its result via a
// revert so that any CREATE2 it performs along the way never persists.
func (c *Client) GetSenderAddress(ctx context.Context, initCode []byte) (common.Address, error) {
	data := append(append([]byte{}, getSenderAddressSelector...), mustPackBytes(initCode)...)
	_, err := c.eth.Call(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err == nil {
		return common.Address{}, errors.New("entrypoint: getSenderAddress did not revert")
	}
	revertData := ExtractRevertData(err)
	if len(revertData) < 4+32 {
		return common.Address{}, fmt.Errorf("entrypoint: getSenderAddress: %w", err)
	}
	return common.BytesToAddress(revertData[4+12 : 4+32]), nil
}

// GetDeposit reads an entity's current EntryPoint deposit via the plain
// (non-reverting) balanceOf(address) view function — the same deposit
// balance simulateValidation reports back as StakeInfo.Stake, queried
// directly here so the bundler loop can re-check it against a bundle's
// accumulated cost without re-running validation (spec §4.6 step 3c).
func (c *Client) GetDeposit(ctx context.Context, addr common.Address) (*big.Int, error) {
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(addr.Bytes(), 32)...)
	result, err := c.eth.Call(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: balanceOf(%s): %w", addr, err)
	}
	vals, err := uint256Args.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: decoding balanceOf result: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// GetNonce reads the EntryPoint's current nonce for (sender, key),
// satisfying validator.NonceChecker so stage S1 can reject a UserOperation
// whose nonce has already been consumed.
func (c *Client) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	packed, err := getNonceArgs.Pack(sender, key)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: packing getNonce args: %w", err)
	}
	data := append(append([]byte{}, getNonceSelector...), packed...)
	result, err := c.eth.Call(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: getNonce(%s, %s): %w", sender, key, err)
	}
	vals, err := uint256Args.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: decoding getNonce result: %w", err)
	}
	return vals[0].(*big.Int), nil
}

func mustPackBytes(b []byte) []byte {
	packed, err := abi.Arguments{{Type: mustType("bytes")}}.Pack(b)
	if err != nil {
		panic(err)
	}
	return packed
}

// SimulateValidation builds the calldata for a deliberately-reverting
// simulateValidation(op) call. Callers pass the returned CallMsg through
// EthProvider.TraceCall (S3) or Call (S2) and feed the revert data back
// into DecodeValidationResult.
func (c *Client) SimulateValidation(op *entity.UserOperation) (ethereum.CallMsg, error) {
	packedOp, err := packUserOp(op)
	if err != nil {
		return ethereum.CallMsg{}, err
	}
	data := append(append([]byte{}, simulateValidationSelector...), packedOp...)
	return ethereum.CallMsg{To: &c.address, Data: data}, nil
}

// DecodeValidationResult decodes the revert data from a simulateValidation
// call (S2, §4.4) into a ValidationResult, or a *FailedOp if the call
// reverted with the EntryPoint's plain validation-rejection error instead.
func DecodeValidationResult(revertData []byte) (*ValidationResult, error) {
	if len(revertData) < 4 {
		return nil, fmt.Errorf("entrypoint: revert data too short: %d bytes", len(revertData))
	}
	selector, body := revertData[:4], revertData[4:]

	switch {
	case bytesEqual(selector, validationResultSelector):
		vals, err := validationResultArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("entrypoint: decoding ValidationResult: %w", err)
		}
		return &ValidationResult{
			ReturnInfo:    decodeReturnInfo(vals[0]),
			SenderInfo:    decodeStakeInfo(vals[1]),
			FactoryInfo:   decodeStakeInfo(vals[2]),
			PaymasterInfo: decodeStakeInfo(vals[3]),
		}, nil

	case bytesEqual(selector, validationResultWithAggregationSelector):
		vals, err := validationResultWithAggregationArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("entrypoint: decoding ValidationResultWithAggregation: %w", err)
		}
		agg := vals[4].(struct {
			Aggregator common.Address
			StakeInfo  struct {
				Stake           *big.Int
				UnstakeDelaySec *big.Int
			}
		})
		return &ValidationResult{
			ReturnInfo:    decodeReturnInfo(vals[0]),
			SenderInfo:    decodeStakeInfo(vals[1]),
			FactoryInfo:   decodeStakeInfo(vals[2]),
			PaymasterInfo: decodeStakeInfo(vals[3]),
			AggregatorInfo: &AggregatorStakeInfo{
				Aggregator: agg.Aggregator,
				StakeInfo:  StakeInfo{Stake: agg.StakeInfo.Stake, UnstakeDelaySec: agg.StakeInfo.UnstakeDelaySec},
			},
		}, nil

	case bytesEqual(selector, failedOpSelector):
		vals, err := failedOpArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("entrypoint: decoding FailedOp: %w", err)
		}
		return nil, &FailedOp{OpIndex: vals[0].(*big.Int), Reason: vals[1].(string)}

	default:
		return nil, fmt.Errorf("entrypoint: unrecognized revert selector %x", selector)
	}
}

func decodeReturnInfo(v interface{}) ReturnInfo {
	s := v.(struct {
		PreOpGas         *big.Int
		Prefund          *big.Int
		SigFailed        bool
		ValidAfter       *big.Int
		ValidUntil       *big.Int
		PaymasterContext []byte
	})
	return ReturnInfo{
		PreOpGas:         s.PreOpGas,
		Prefund:          s.Prefund,
		SigFailed:        s.SigFailed,
		ValidAfter:       s.ValidAfter.Uint64(),
		ValidUntil:       s.ValidUntil.Uint64(),
		PaymasterContext: s.PaymasterContext,
	}
}

func decodeStakeInfo(v interface{}) StakeInfo {
	s := v.(struct {
		Stake           *big.Int
		UnstakeDelaySec *big.Int
	})
	return StakeInfo{Stake: s.Stake, UnstakeDelaySec: s.UnstakeDelaySec}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// revertError is the interface go-ethereum's ethclient returns revert data
// through (rpc.DataError), extracted here without importing the internal
// rpc error type directly so tests can stub it.
type revertError interface {
	ErrorData() interface{}
}

// ExtractRevertData pulls the raw revert payload out of an eth_call error
// that carries one (go-ethereum's rpc.DataError shape), or nil if err
// doesn't carry revert data at all.
func ExtractRevertData(err error) []byte {
	var de revertError
	if errors.As(err, &de) {
		switch v := de.ErrorData().(type) {
		case string:
			return common.FromHex(v)
		case []byte:
			return v
		}
	}
	return nil
}

// PackHandleOps builds the calldata for EntryPoint.handleOps(ops,
// beneficiary), the transaction the bundler loop ultimately signs and
// submits.
func PackHandleOps(ops []*entity.UserOperation, beneficiary common.Address) ([]byte, error) {
	type rawUserOp struct {
		Sender               common.Address
		Nonce                *big.Int
		InitCode             []byte
		CallData             []byte
		CallGasLimit         *big.Int
		VerificationGasLimit *big.Int
		PreVerificationGas   *big.Int
		MaxFeePerGas         *big.Int
		MaxPriorityFeePerGas *big.Int
		PaymasterAndData     []byte
		Signature            []byte
	}
	raw := make([]rawUserOp, len(ops))
	for i, op := range ops {
		raw[i] = rawUserOp{
			op.Sender, op.Nonce, op.InitCode, op.CallData, op.CallGasLimit,
			op.VerificationGasLimit, op.PreVerificationGas, op.MaxFeePerGas,
			op.MaxPriorityFeePerGas, op.PaymasterAndData, op.Signature,
		}
	}
	userOpArrayType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "callGasLimit", Type: "uint256"},
		{Name: "verificationGasLimit", Type: "uint256"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "maxFeePerGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint256"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: userOpArrayType}, {Type: mustType("address")}}
	packed, err := args.Pack(raw, beneficiary)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, handleOpsSelector...), packed...), nil
}

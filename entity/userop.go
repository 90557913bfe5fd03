// Package entity defines the ERC-4337 UserOperation wire type, its identity
// hash, and the entity roles (sender/factory/paymaster/aggregator) derived
// from it.
package entity

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role names a UserOperation entity. Used in error taxonomy; reputation is
// keyed by address alone, whatever role the address plays.
type Role string

const (
	RoleSender     Role = "sender"
	RoleFactory    Role = "factory"
	RolePaymaster  Role = "paymaster"
	RoleAggregator Role = "aggregator"
)

// UserOperation is the ERC-4337 pseudo-transaction, unpacked form (v0.6 ABI
// shape: initCode/paymasterAndData are not yet split into their v0.7 packed
// fields). See spec §3.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

// jsonUserOperation mirrors UserOperation but with hex-encoded big.Int and
// byte fields, matching the wire form clients actually send over JSON-RPC.
type jsonUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func (op *UserOperation) MarshalJSON() ([]byte, error) {
	j := jsonUserOperation{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(op.Nonce),
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         (*hexutil.Big)(op.CallGasLimit),
		VerificationGasLimit: (*hexutil.Big)(op.VerificationGasLimit),
		PreVerificationGas:   (*hexutil.Big)(op.PreVerificationGas),
		MaxFeePerGas:         (*hexutil.Big)(op.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(op.MaxPriorityFeePerGas),
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
	return json.Marshal(j)
}

func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var j jsonUserOperation
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*op = UserOperation{
		Sender:               j.Sender,
		Nonce:                (*big.Int)(j.Nonce),
		InitCode:             []byte(j.InitCode),
		CallData:             []byte(j.CallData),
		CallGasLimit:         (*big.Int)(j.CallGasLimit),
		VerificationGasLimit: (*big.Int)(j.VerificationGasLimit),
		PreVerificationGas:   (*big.Int)(j.PreVerificationGas),
		MaxFeePerGas:         (*big.Int)(j.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(j.MaxPriorityFeePerGas),
		PaymasterAndData:     []byte(j.PaymasterAndData),
		Signature:            []byte(j.Signature),
	}
	return nil
}

var userOpArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// pack encodes the fields that participate in the UserOperation hash,
// per EIP-4337: variable-length fields are reduced to their keccak256
// digest before ABI-encoding, mirroring the EntryPoint's own `hash()`.
func (op *UserOperation) pack() []byte {
	packed, err := userOpArgs.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PreVerificationGas,
		op.MaxFeePerGas,
		op.MaxPriorityFeePerGas,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		// All arguments are fixed-shape ABI primitives; Pack only fails on
		// programmer error (wrong arg count/type), which is a bug, not a
		// runtime condition callers should handle.
		panic(err)
	}
	return packed
}

var hashArgs = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

// Hash computes userOpHash = keccak256(pack(userOp) || entryPoint || chainId).
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	inner := crypto.Keccak256Hash(op.pack())
	outer, err := hashArgs.Pack(inner, entryPoint, chainID)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(outer)
}

// Factory returns the first 20 bytes of InitCode, or the zero address if
// InitCode is empty or too short.
func (op *UserOperation) Factory() (common.Address, bool) {
	if len(op.InitCode) < common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(op.InitCode[:common.AddressLength]), true
}

// Paymaster returns the first 20 bytes of PaymasterAndData, or the zero
// address if PaymasterAndData is empty or too short.
func (op *UserOperation) Paymaster() (common.Address, bool) {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength]), true
}

// Entities returns every non-zero entity address touched by this
// UserOperation, keyed by role. Aggregator is never present here: it is
// only known after simulation (see validator.SimulationResult).
func (op *UserOperation) Entities() map[Role]common.Address {
	out := map[Role]common.Address{RoleSender: op.Sender}
	if addr, ok := op.Factory(); ok {
		out[RoleFactory] = addr
	}
	if addr, ok := op.Paymaster(); ok {
		out[RolePaymaster] = addr
	}
	return out
}

// CalldataCost charges 4 gas per zero byte and 16 gas per non-zero byte,
// the classic intrinsic calldata pricing every preVerificationGas must
// cover at minimum (spec §4.4 stage S1).
func CalldataCost(data []byte) uint64 {
	var cost uint64
	for _, b := range data {
		if b == 0 {
			cost += 4
		} else {
			cost += 16
		}
	}
	return cost
}

// EffectivePriorityFee is min(maxFeePerGas - baseFee, maxPriorityFeePerGas),
// the ordering key for mempool.GetSorted (spec §4.5).
func (op *UserOperation) EffectivePriorityFee(baseFee *big.Int) *big.Int {
	headroom := new(big.Int).Sub(op.MaxFeePerGas, baseFee)
	if headroom.Cmp(op.MaxPriorityFeePerGas) < 0 {
		return headroom
	}
	return new(big.Int).Set(op.MaxPriorityFeePerGas)
}

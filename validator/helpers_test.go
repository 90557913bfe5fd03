package validator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/kv"
	"github.com/zsluedem/aa-bundler/reputation"
)

func newManagerForValidator(t *testing.T) *reputation.Manager {
	t.Helper()
	return reputation.New(kv.NewMemory(), reputation.DefaultConstants())
}

// These mirror entrypoint's own (unexported) tuple shapes so tests can
// build scripted simulateValidation revert payloads without reaching
// across the package boundary: a black-box test should assemble the wire
// format itself, the same way the EntryPoint contract would.

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustTupleABIType(components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	testStakeInfoTuple = mustTupleABIType([]abi.ArgumentMarshaling{
		{Name: "stake", Type: "uint256"},
		{Name: "unstakeDelaySec", Type: "uint256"},
	})
	testReturnInfoTuple = mustTupleABIType([]abi.ArgumentMarshaling{
		{Name: "preOpGas", Type: "uint256"},
		{Name: "prefund", Type: "uint256"},
		{Name: "sigFailed", Type: "bool"},
		{Name: "validAfter", Type: "uint48"},
		{Name: "validUntil", Type: "uint48"},
		{Name: "paymasterContext", Type: "bytes"},
	})
	testValidationResultArgs = abi.Arguments{
		{Name: "returnInfo", Type: testReturnInfoTuple},
		{Name: "senderInfo", Type: testStakeInfoTuple},
		{Name: "factoryInfo", Type: testStakeInfoTuple},
		{Name: "paymasterInfo", Type: testStakeInfoTuple},
	}
	testValidationResultSelector = crypto.Keccak256([]byte("ValidationResult((uint256,uint256,bool,uint48,uint48,bytes),(uint256,uint256),(uint256,uint256),(uint256,uint256))"))[:4]

	testFailedOpArgs = abi.Arguments{
		{Name: "opIndex", Type: mustABIType("uint256")},
		{Name: "reason", Type: mustABIType("string")},
	}
	testFailedOpSelector = crypto.Keccak256([]byte("FailedOp(uint256,string)"))[:4]
)

type testReturnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       *big.Int
	ValidUntil       *big.Int
	PaymasterContext []byte
}

type testStakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

func defaultReturnInfo() testReturnInfo {
	return testReturnInfo{
		PreOpGas:         big.NewInt(50000),
		Prefund:          big.NewInt(1e15),
		SigFailed:        false,
		ValidAfter:       big.NewInt(0),
		ValidUntil:       big.NewInt(9999999999),
		PaymasterContext: []byte{},
	}
}

func zeroStake() testStakeInfo { return testStakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)} }

func stakedStake() testStakeInfo {
	return testStakeInfo{Stake: big.NewInt(10_000_000_000_000_000_000), UnstakeDelaySec: big.NewInt(100000)}
}

func packValidationResult(ri testReturnInfo, sender, factory, paymaster testStakeInfo) []byte {
	body, err := testValidationResultArgs.Pack(ri, sender, factory, paymaster)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, testValidationResultSelector...), body...)
}

func packFailedOp(idx int64, reason string) []byte {
	body, err := testFailedOpArgs.Pack(big.NewInt(idx), reason)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, testFailedOpSelector...), body...)
}

func sampleOp(sender common.Address, nonce int64) *entity.UserOperation {
	return &entity.UserOperation{
		Sender:               sender,
		Nonce:                big.NewInt(nonce),
		InitCode:             []byte{},
		CallData:             []byte{0xaa, 0xbb},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(2e9),
		MaxPriorityFeePerGas: big.NewInt(1e9),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
}

package service

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// returnInfo/stakeInfo and the packing helpers below mirror the EntryPoint's
// simulateValidation revert-data ABI shape, the same way bundler's and
// validator's test harnesses script a successful S2 simulation.

var (
	stakeInfoTuple = mustTupleType([]abi.ArgumentMarshaling{
		{Name: "stake", Type: "uint256"},
		{Name: "unstakeDelaySec", Type: "uint256"},
	})
	returnInfoTuple = mustTupleType([]abi.ArgumentMarshaling{
		{Name: "preOpGas", Type: "uint256"},
		{Name: "prefund", Type: "uint256"},
		{Name: "sigFailed", Type: "bool"},
		{Name: "validAfter", Type: "uint48"},
		{Name: "validUntil", Type: "uint48"},
		{Name: "paymasterContext", Type: "bytes"},
	})
	validationResultArgs = abi.Arguments{
		{Name: "returnInfo", Type: returnInfoTuple},
		{Name: "senderInfo", Type: stakeInfoTuple},
		{Name: "factoryInfo", Type: stakeInfoTuple},
		{Name: "paymasterInfo", Type: stakeInfoTuple},
	}
	validationResultSelector = crypto.Keccak256([]byte("ValidationResult((uint256,uint256,bool,uint48,uint48,bytes),(uint256,uint256),(uint256,uint256),(uint256,uint256))"))[:4]
)

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

type returnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       *big.Int
	ValidUntil       *big.Int
	PaymasterContext []byte
}

type stakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

func packValidationResult() []byte {
	ri := returnInfo{PreOpGas: big.NewInt(50000), Prefund: big.NewInt(1e15), ValidAfter: big.NewInt(0), ValidUntil: big.NewInt(9999999999), PaymasterContext: []byte{}}
	zero := stakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}
	body, err := validationResultArgs.Pack(ri, zero, zero, zero)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, validationResultSelector...), body...)
}

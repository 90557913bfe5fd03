package rpcapi

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/bundler"
	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/kv"
	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/service"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
)

var testEntryPoint = common.HexToAddress("0xe1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1")

// harness wires a full Service (one EntryPoint, a real Bundler) and the
// three rpcapi structs over it, the same way cmd/bundler's `rpc`/`bundler`
// subcommands would.
type harness struct {
	eth *ethprovider.Memory
	ep  *entrypoint.Client
	pool *uopool.Pool
	rep  *reputation.Manager
	svc  *service.Service

	eths  *EthAPI
	web3  Web3API
	debug *DebugAPI
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chainID := big.NewInt(1)
	eth := ethprovider.NewMemory(chainID)
	ep := entrypoint.New(testEntryPoint, chainID, eth)
	pool := uopool.New(kv.NewMemory(), 1<<20)
	rep := reputation.New(kv.NewMemory(), reputation.DefaultConstants())

	cfg := validator.DefaultConfig(testEntryPoint)
	cfg.Unsafe = true
	v := validator.New(cfg, ep, eth, nil, rep, pool)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	beneficiary := common.HexToAddress("0xbeef00000000000000000000000000000000be")
	b := bundler.New(bundler.DefaultConfig(), ep, eth, pool, v, rep, chainID, bundler.NewKeyedSigner(key), beneficiary, nil)

	svc := service.New(rep, service.NewReceiptStore(), nil)
	svc.RegisterEntryPoint(&service.EntryPointHandle{
		EntryPoint: ep,
		Eth:        eth,
		Mempool:    pool,
		Validator:  v,
		Bundler:    b,
	})

	return &harness{
		eth: eth, ep: ep, pool: pool, rep: rep, svc: svc,
		eths:  NewEthAPI(svc, chainID),
		web3:  Web3API{},
		debug: NewDebugAPI(svc),
	}
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

func (h *harness) scriptSuccessfulSimulation(t *testing.T, op *entity.UserOperation) {
	t.Helper()
	msg, err := h.ep.SimulateValidation(op)
	require.NoError(t, err)
	h.eth.SetCallRevert(testEntryPoint, msg.Data[:4], packValidationResult())
}

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

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

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

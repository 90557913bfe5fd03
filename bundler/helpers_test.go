package bundler

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/kv"
	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
)

var testEntryPoint = common.HexToAddress("0xe1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1")

// harness bundles every dependency a Bundler test needs, wired the same
// way a real deployment's service package would wire them.
type harness struct {
	eth     *ethprovider.Memory
	ep      *entrypoint.Client
	pool    *uopool.Pool
	rep     *reputation.Manager
	v       *validator.Validator
	chainID *big.Int
	signer  Signer
	key     *ecdsa.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chainID := big.NewInt(1)
	eth := ethprovider.NewMemory(chainID)
	ep := entrypoint.New(testEntryPoint, chainID, eth)
	pool := uopool.New(kv.NewMemory(), 1<<20)
	rep := reputation.New(kv.NewMemory(), reputation.DefaultConstants())

	cfg := validator.DefaultConfig(testEntryPoint)
	cfg.Unsafe = true // tests script S2 only; S3's debug_traceCall is exercised in validator/
	v := validator.New(cfg, ep, eth, nil, rep, pool)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &harness{eth: eth, ep: ep, pool: pool, rep: rep, v: v, chainID: chainID, signer: NewKeyedSigner(key), key: key}
}

func (h *harness) newBundler(t *testing.T, configure func(*Config)) *Bundler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BundleGasLimit = big.NewInt(1_000_000)
	if configure != nil {
		configure(&cfg)
	}
	beneficiary := common.HexToAddress("0xbeef00000000000000000000000000000000be")
	return New(cfg, h.ep, h.eth, h.pool, h.v, h.rep, h.chainID, h.signer, beneficiary, nil)
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

// scriptSuccessfulSimulation makes h.eth answer op's simulateValidation
// call with an always-passing ValidationResult, so ValidateForBundling's
// S2 stage accepts op.
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

func packUint256(v *big.Int) []byte {
	packed, err := abi.Arguments{{Type: mustType("uint256")}}.Pack(v)
	if err != nil {
		panic(err)
	}
	return packed
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

package validator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
)

var testEntryPoint = common.HexToAddress("0xe0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0")

func newTestValidator(t *testing.T, eth ethprovider.EthProvider, cfgFn func(*Config)) *Validator {
	t.Helper()
	cfg := DefaultConfig(testEntryPoint)
	if cfgFn != nil {
		cfgFn(&cfg)
	}
	ep := entrypoint.New(testEntryPoint, big.NewInt(1), eth)
	return New(cfg, ep, eth, nil, newManagerForValidator(t), nil)
}

func TestSanityCheckRejectsUnconfiguredEntryPoint(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	v := newTestValidator(t, eth, nil)
	op := sampleOp(common.HexToAddress("0x1"), 0)

	err := v.sanityCheck(context.Background(), op, common.HexToAddress("0xbad"))
	var sanityErr *SanityError
	require.ErrorAs(t, err, &sanityErr)
	require.Equal(t, "entryPoint", sanityErr.Field)
}

func TestSanityCheckRejectsLowPreVerificationGas(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	v := newTestValidator(t, eth, nil)
	op := sampleOp(common.HexToAddress("0x1"), 0)
	op.CallData = make([]byte, 10000) // pushes the calldata floor well above 21000
	for i := range op.CallData {
		op.CallData[i] = 0xff
	}

	err := v.sanityCheck(context.Background(), op, testEntryPoint)
	var sanityErr *SanityError
	require.ErrorAs(t, err, &sanityErr)
	require.Equal(t, "preVerificationGas", sanityErr.Field)
}

func TestSanityCheckRejectsPriorityFeeAboveMaxFee(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	v := newTestValidator(t, eth, nil)
	op := sampleOp(common.HexToAddress("0x1"), 0)
	op.MaxPriorityFeePerGas = big.NewInt(3e9)

	err := v.sanityCheck(context.Background(), op, testEntryPoint)
	var sanityErr *SanityError
	require.ErrorAs(t, err, &sanityErr)
	require.Equal(t, "maxPriorityFeePerGas", sanityErr.Field)
}

func TestSanityCheckRejectsDeployedSenderWithInitCode(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	factory := common.HexToAddress("0x2222222222222222222222222222222222222222")
	sender := common.HexToAddress("0x1")

	v := newTestValidator(t, eth, nil)
	op := sampleOp(sender, 0)
	op.InitCode = append(factory.Bytes(), 0xaa)
	eth.SetCode(sender, []byte{0x60}) // sender already deployed

	getSenderSelector := crypto.Keccak256([]byte("getSenderAddress(bytes)"))[:4]
	eth.SetCallRevert(testEntryPoint, getSenderSelector, senderAddressRevert(sender))

	serr := v.sanityCheck(context.Background(), op, testEntryPoint)
	var sanityErr *SanityError
	require.ErrorAs(t, serr, &sanityErr)
	require.Equal(t, "sender", sanityErr.Field)
	require.Contains(t, sanityErr.Reason, "already has code")
}

func TestSanityCheckPaymasterMustBeDeployed(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	v := newTestValidator(t, eth, nil)
	op := sampleOp(common.HexToAddress("0x1"), 0)
	paymaster := common.HexToAddress("0x3333333333333333333333333333333333333333")
	op.PaymasterAndData = append(paymaster.Bytes(), 0xaa)
	// no code set at paymaster: it isn't deployed

	err := v.sanityCheck(context.Background(), op, testEntryPoint)
	var sanityErr *SanityError
	require.ErrorAs(t, err, &sanityErr)
	require.Equal(t, "paymasterAndData", sanityErr.Field)
}

// senderAddressRevert builds the getSenderAddress revert payload: 4-byte
// selector (checked only for length by GetSenderAddress) followed by a
// left-padded 32-byte address, matching entrypoint.GetSenderAddress's
// decode of revertData[4+12 : 4+32].
func senderAddressRevert(sender common.Address) []byte {
	out := make([]byte, 4+32)
	copy(out[4+12:4+32], sender.Bytes())
	return out
}

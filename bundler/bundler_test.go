package bundler

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
)

func asOps(ops ...*entity.UserOperation) []*entity.UserOperation { return ops }

func TestSelectBundleSkipsDuplicateSender(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)

	sender := common.HexToAddress("0x1")
	first := sampleOp(sender, 0)
	second := sampleOp(sender, 1)
	h.scriptSuccessfulSimulation(t, first)

	result := b.selectBundle(context.Background(), asOps(first, second))
	require.Len(t, result.bundle, 1)
	require.Equal(t, first.Nonce, result.bundle[0].Nonce)
}

func TestSelectBundleStopsAtGasLimit(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, func(c *Config) { c.BundleGasLimit = big.NewInt(500_000) })

	opA := sampleOp(common.HexToAddress("0x1"), 0)
	opB := sampleOp(common.HexToAddress("0x2"), 0)
	h.scriptSuccessfulSimulation(t, opA)
	h.scriptSuccessfulSimulation(t, opB)

	result := b.selectBundle(context.Background(), asOps(opA, opB))
	require.Len(t, result.bundle, 1, "second op's gas would exceed the configured budget")
}

func TestSelectBundleDropsOnRevalidationFailure(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)

	sender := common.HexToAddress("0x1")
	op := sampleOp(sender, 0)
	hash := h.ep.GetUserOpHash(op)
	require.NoError(t, h.pool.Add(op, hash))
	// Deliberately not scripting simulateValidation: ValidateForBundling's
	// S2 call will fail with "no scripted call result".

	result := b.selectBundle(context.Background(), asOps(op))
	require.Empty(t, result.bundle)

	_, stillThere := h.pool.Get(hash)
	require.False(t, stillThere)

	entry, err := h.rep.Get(sender)
	require.NoError(t, err)
	require.EqualValues(t, 1, entry.OpsSeen)
	require.Zero(t, entry.OpsIncluded)
}

func TestSelectBundleSkipsPaymasterWithInsufficientDeposit(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)

	paymaster := common.HexToAddress("0x3333333333333333333333333333333333333333")
	op := sampleOp(common.HexToAddress("0x1"), 0)
	op.PaymasterAndData = paymaster.Bytes()
	h.scriptSuccessfulSimulation(t, op)

	balanceOfSelector := crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	h.eth.SetCallResult(testEntryPoint, balanceOfSelector, packUint256(big.NewInt(0)))

	result := b.selectBundle(context.Background(), asOps(op))
	require.Empty(t, result.bundle, "paymaster has no deposit to cover the op's worst-case cost")
}

func TestBuildTxUsesConfiguredBeneficiaryWhenSolvent(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)
	h.eth.SetBalance(b.beneficiary, big.NewInt(1e18))
	h.eth.SetNonce(b.signer.Address(), 0)

	op := sampleOp(common.HexToAddress("0x1"), 0)
	tx, err := b.buildTx(context.Background(), asOps(op))
	require.NoError(t, err)
	require.Equal(t, b.entryPoint.Address(), *tx.To())

	expected, err := entrypoint.PackHandleOps(asOps(op), b.beneficiary)
	require.NoError(t, err)
	require.Equal(t, expected, tx.Data())
}

func TestBuildTxRedirectsBeneficiaryWhenBelowMinBalance(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, func(c *Config) { c.MinBalance = big.NewInt(1e18) })
	h.eth.SetBalance(b.beneficiary, big.NewInt(1)) // below MinBalance
	h.eth.SetNonce(b.signer.Address(), 0)

	op := sampleOp(common.HexToAddress("0x1"), 0)
	tx, err := b.buildTx(context.Background(), asOps(op))
	require.NoError(t, err)

	redirected, err := entrypoint.PackHandleOps(asOps(op), b.signer.Address())
	require.NoError(t, err)
	require.Equal(t, redirected, tx.Data())
}

func TestApplyInclusionCreditsIncludedEntitiesAndRemovesFromMempool(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)

	sender := common.HexToAddress("0x1")
	op := sampleOp(sender, 0)
	hash := h.ep.GetUserOpHash(op)
	require.NoError(t, h.pool.Add(op, hash))

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	b.applyInclusion(receipt, asOps(op))

	entry, err := h.rep.Get(sender)
	require.NoError(t, err)
	require.EqualValues(t, 1, entry.OpsIncluded)

	_, stillThere := h.pool.Get(hash)
	require.False(t, stillThere)
}

func TestSetManualBundlingTogglesModeAndAllowsDirectTick(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)

	require.Equal(t, "auto", b.BundlingMode())
	b.SetManualBundling(true)
	require.Equal(t, "manual", b.BundlingMode())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Tick(ctx)) // manual mode never blocks a direct Tick call

	b.SetManualBundling(false)
	require.Equal(t, "auto", b.BundlingMode())
}

func TestApplyInclusionPenalizesRevertedUserOp(t *testing.T) {
	h := newHarness(t)
	b := h.newBundler(t, nil)

	sender := common.HexToAddress("0x1")
	op := sampleOp(sender, 0)
	hash := h.ep.GetUserOpHash(op)
	require.NoError(t, h.pool.Add(op, hash))

	revertLog := &types.Log{
		Address: testEntryPoint,
		Topics:  []common.Hash{userOperationRevertReasonTopic, hash, common.BytesToHash(sender.Bytes())},
	}
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{revertLog}}
	b.applyInclusion(receipt, asOps(op))

	entry, err := h.rep.Get(sender)
	require.NoError(t, err)
	require.Zero(t, entry.OpsIncluded)
	require.EqualValues(t, 1, entry.OpsSeen)

	_, stillThere := h.pool.Get(hash)
	require.False(t, stillThere)
}

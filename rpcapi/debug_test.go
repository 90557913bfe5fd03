package rpcapi

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBundlerDumpMempoolReflectsAdmittedOps(t *testing.T) {
	h := newHarness(t)
	sender := common.HexToAddress("0xaaaa000000000000000000000000000000aaaa")
	op := sampleOp(sender, 0)
	h.scriptSuccessfulSimulation(t, op)

	_, err := h.eths.SendUserOperation(context.Background(), op, testEntryPoint)
	require.NoError(t, err)

	ops, err := h.debug.Bundler_dumpMempool(testEntryPoint)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, sender, ops[0].Sender)
}

func TestBundlerClearStateEmptiesMempoolAndReputation(t *testing.T) {
	h := newHarness(t)
	sender := common.HexToAddress("0xaaaa000000000000000000000000000000aaaa")
	op := sampleOp(sender, 0)
	h.scriptSuccessfulSimulation(t, op)
	_, err := h.eths.SendUserOperation(context.Background(), op, testEntryPoint)
	require.NoError(t, err)

	require.NoError(t, h.debug.Bundler_clearState())

	ops, err := h.debug.Bundler_dumpMempool(testEntryPoint)
	require.NoError(t, err)
	require.Empty(t, ops)

	entries, err := h.debug.Bundler_dumpReputation()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBundlerSetAndDumpReputation(t *testing.T) {
	h := newHarness(t)
	addr := common.HexToAddress("0xcccc000000000000000000000000000000cccc")

	require.NoError(t, h.debug.Bundler_setReputation([]reputationEntryParam{
		{Address: addr, OpsSeen: 100, OpsIncluded: 10},
	}))

	entries, err := h.debug.Bundler_dumpReputation()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, addr, entries[0].Address)
	require.EqualValues(t, 100, entries[0].OpsSeen)
	require.EqualValues(t, 10, entries[0].OpsIncluded)
}

func TestBundlerSetBundlingModeSwitchesMode(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.debug.Bundler_setBundlingMode(testEntryPoint, "manual"))
	handle, err := h.svc.Handle(testEntryPoint)
	require.NoError(t, err)
	require.Equal(t, "manual", handle.Bundler.BundlingMode())

	require.NoError(t, h.debug.Bundler_setBundlingMode(testEntryPoint, "auto"))
	require.Equal(t, "auto", handle.Bundler.BundlingMode())
}

func TestBundlerSetBundlingModeRejectsUnknownMode(t *testing.T) {
	h := newHarness(t)
	err := h.debug.Bundler_setBundlingMode(testEntryPoint, "sometimes")
	require.Error(t, err)
}

func TestBundlerSendBundleNowRunsOneTickRegardlessOfMode(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.debug.Bundler_setBundlingMode(testEntryPoint, "manual"))

	result, err := h.debug.Bundler_sendBundleNow(context.Background(), testEntryPoint)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

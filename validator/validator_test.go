package validator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/kv"
	"github.com/zsluedem/aa-bundler/reputation"
)

func TestValidateForAdmissionFullPipelineSuccess(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	rep := reputation.New(kv.NewMemory(), reputation.DefaultConstants())
	cfg := DefaultConfig(testEntryPoint)
	op := sampleOp(common.HexToAddress("0x1"), 0)

	vForSim := newTestValidatorWithRep(t, eth, cfg, rep)
	msg, err := vForSim.entryPoint.SimulateValidation(op)
	require.NoError(t, err)
	eth.SetCallRevert(testEntryPoint, msg.Data[:4], packValidationResult(defaultReturnInfo(), zeroStake(), zeroStake(), zeroStake()))
	eth.SetTraceResult(ethprovider.BundlerCollectorResult{NumberLevels: []ethprovider.Level{blankLevel()}})

	result, err := vForSim.ValidateForAdmission(context.Background(), op, testEntryPoint)
	require.NoError(t, err)
	require.NotNil(t, result.Simulation)
}

func TestValidateForAdmissionUnsafeSkipsTrace(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	rep := reputation.New(kv.NewMemory(), reputation.DefaultConstants())
	cfg := DefaultConfig(testEntryPoint)
	cfg.Unsafe = true
	op := sampleOp(common.HexToAddress("0x1"), 0)

	v := newTestValidatorWithRep(t, eth, cfg, rep)
	msg, err := v.entryPoint.SimulateValidation(op)
	require.NoError(t, err)
	eth.SetCallRevert(testEntryPoint, msg.Data[:4], packValidationResult(defaultReturnInfo(), zeroStake(), zeroStake(), zeroStake()))
	// No trace result scripted at all: if traceValidation ran despite
	// Unsafe, TraceCall would fail with "no scripted trace result".

	result, err := v.ValidateForAdmission(context.Background(), op, testEntryPoint)
	require.NoError(t, err)
	require.Nil(t, result.CodeHashes)
}

func TestValidateForAdmissionStopsAtReputationGate(t *testing.T) {
	eth := ethprovider.NewMemory(big.NewInt(1))
	rep := reputation.New(kv.NewMemory(), reputation.DefaultConstants())
	cfg := DefaultConfig(testEntryPoint)
	sender := common.HexToAddress("0x1")
	require.NoError(t, rep.AddBlacklist(sender))
	op := sampleOp(sender, 0)

	v := newTestValidatorWithRep(t, eth, cfg, rep)
	msg, err := v.entryPoint.SimulateValidation(op)
	require.NoError(t, err)
	eth.SetCallRevert(testEntryPoint, msg.Data[:4], packValidationResult(defaultReturnInfo(), zeroStake(), zeroStake(), zeroStake()))
	eth.SetTraceResult(ethprovider.BundlerCollectorResult{NumberLevels: []ethprovider.Level{blankLevel()}})

	_, err = v.ValidateForAdmission(context.Background(), op, testEntryPoint)
	var repErr *ReputationError
	require.ErrorAs(t, err, &repErr)
}

func newTestValidatorWithRep(t *testing.T, eth ethprovider.EthProvider, cfg Config, rep *reputation.Manager) *Validator {
	t.Helper()
	ep := entrypoint.New(testEntryPoint, big.NewInt(1), eth)
	return New(cfg, ep, eth, nil, rep, nil)
}

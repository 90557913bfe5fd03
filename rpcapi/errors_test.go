package rpcapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
)

func TestMapErrorAssignsERC4337Codes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"sanity", &validator.SanityError{Field: "nonce", Reason: "stale"}, codeSanity},
		{"simulation", &validator.SimulationError{Reason: "signature failed"}, codeSimulation},
		{"opcode", &validator.OpcodeError{Entity: "sender", Opcode: "GASPRICE"}, codeOpcode},
		{"storage", &validator.StorageError{Entity: "paymaster", Contract: "0x1", Slot: "0x2"}, codeStorage},
		{"unstaked", &validator.UnstakedError{Entity: "factory", Reason: "too much gas"}, codeUnstaked},
		{"external call", &validator.ExternalCallError{Entity: "sender", Target: "0x3"}, codeExternalCall},
		{"reputation", &validator.ReputationError{Entity: "sender", Status: "banned"}, codeReputation},
		{"stake", &reputation.StakeError{Role: "paymaster"}, codeReputation},
		{"replacement", &uopool.ReplacementUnderpriced{}, codeReplacementUnderpriced},
		{"provider", &validator.ProviderError{Transport: "http", Cause: errors.New("timeout")}, codeProvider},
		{"internal", &validator.InternalError{Cause: errors.New("invariant violated")}, codeProvider},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mapped := mapError(c.err)
			var coded interface{ ErrorCode() int }
			require.ErrorAs(t, mapped, &coded)
			require.Equal(t, c.code, coded.ErrorCode())
		})
	}
}

func TestMapErrorLeavesUnrecognizedErrorsUnchanged(t *testing.T) {
	err := errors.New("some unrelated failure")
	require.Same(t, err, mapError(err))
}

func TestMapErrorNilIsNil(t *testing.T) {
	require.NoError(t, mapError(nil))
}

// Package rpcapi exposes the bundler's JSON-RPC surface (spec §6): the
// public eth_*/web3_* methods and the operator-facing debug_bundler_*
// methods, each a thin adapter over service.Service translating Go errors
// into ERC-4337's JSON-RPC error code taxonomy (spec §7).
//
// Grounded on other_examples' coreth plugin/vm.go (rpc.NewServer,
// RegisterName per namespace, WebsocketHandler) for the server-side
// go-ethereum rpc.Server wiring shape; no file in the teacher itself
// exercises rpc.Server directly (see DESIGN.md).
package rpcapi

import (
	"errors"

	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
)

// rpcError implements go-ethereum rpc's (undocumented but stable) Error
// interface: any error satisfying `ErrorCode() int` is reported to the
// client with that code instead of the default -32000.
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

// ERC-4337 JSON-RPC error codes (spec §7): sanity/simulation stages occupy
// -32500..-32507, reputation/replacement -32601/-32602, provider failures
// -32603.
const (
	codeSanity               = -32500
	codeSimulation           = -32501
	codeOpcode               = -32502
	codeStorage              = -32503
	codeUnstaked             = -32504
	codeExternalCall         = -32505
	codeReputation           = -32601
	codeReplacementUnderpriced = -32602
	codeProvider             = -32603
)

// mapError translates a service/validator/uopool error into one carrying
// the ERC-4337 JSON-RPC code, or returns err unchanged if it doesn't match
// any known taxonomy member (go-ethereum's rpc.Server then reports it
// under the generic -32000).
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var sanity *validator.SanityError
	if errors.As(err, &sanity) {
		return &rpcError{codeSanity, err.Error()}
	}
	var sim *validator.SimulationError
	if errors.As(err, &sim) {
		return &rpcError{codeSimulation, err.Error()}
	}
	var opcode *validator.OpcodeError
	if errors.As(err, &opcode) {
		return &rpcError{codeOpcode, err.Error()}
	}
	var storage *validator.StorageError
	if errors.As(err, &storage) {
		return &rpcError{codeStorage, err.Error()}
	}
	var unstaked *validator.UnstakedError
	if errors.As(err, &unstaked) {
		return &rpcError{codeUnstaked, err.Error()}
	}
	var external *validator.ExternalCallError
	if errors.As(err, &external) {
		return &rpcError{codeExternalCall, err.Error()}
	}
	var rep *validator.ReputationError
	if errors.As(err, &rep) {
		return &rpcError{codeReputation, err.Error()}
	}
	var stake *reputation.StakeError
	if errors.As(err, &stake) {
		return &rpcError{codeReputation, err.Error()}
	}
	var replaced *uopool.ReplacementUnderpriced
	if errors.As(err, &replaced) {
		return &rpcError{codeReplacementUnderpriced, err.Error()}
	}
	var provider *validator.ProviderError
	if errors.As(err, &provider) {
		return &rpcError{codeProvider, err.Error()}
	}
	var internal *validator.InternalError
	if errors.As(err, &internal) {
		return &rpcError{codeProvider, err.Error()}
	}
	return err
}

// Package validator implements the four-stage ERC-4337 validation pipeline
// of SPEC_FULL.md §4.4: sanity (S1), simulation (S2), opcode/storage
// tracing (S3), and the entity reputation gate (S4).
//
// Grounded on other_examples' aiops-bundler tracevalidation.go for the
// shape of S2/S3 (call simulateValidation, then debug_traceCall with the
// bundler's own tracer, then walk the decoded result for rule violations)
// and on go-ethereum's own layered, typed-error style (see e.g.
// core/error.go's ErrNonceTooLow-style sentinel errors) for the taxonomy.
package validator

import "fmt"

// SanityError reports a stage S1 failure.
type SanityError struct {
	Field  string
	Reason string
}

func (e *SanityError) Error() string {
	return fmt.Sprintf("validator: sanity check failed on %s: %s", e.Field, e.Reason)
}

// SimulationError reports a stage S2 failure.
type SimulationError struct {
	Reason string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("validator: simulation failed: %s", e.Reason)
}

// OpcodeError reports a stage S3 forbidden-opcode violation.
type OpcodeError struct {
	Entity string
	Opcode string
}

func (e *OpcodeError) Error() string {
	return fmt.Sprintf("validator: %s used forbidden opcode %s", e.Entity, e.Opcode)
}

// StorageError reports a stage S3 unauthorized storage access.
type StorageError struct {
	Entity   string
	Contract string
	Slot     string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("validator: %s made unauthorized storage access to %s slot %s", e.Entity, e.Contract, e.Slot)
}

// UnstakedError reports a stage S3 rule that only unstaked entities
// violate (e.g. touching another contract's storage without being
// staked).
type UnstakedError struct {
	Entity string
	Reason string
}

func (e *UnstakedError) Error() string {
	return fmt.Sprintf("validator: unstaked %s: %s", e.Entity, e.Reason)
}

// ExternalCallError reports a stage S3 external call whose target is
// neither the EntryPoint nor a deployed contract.
type ExternalCallError struct {
	Entity string
	Target string
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("validator: %s made an external call to non-EntryPoint undeployed address %s", e.Entity, e.Target)
}

// ReputationError reports a stage S4 gate failure.
type ReputationError struct {
	Entity string
	Status string
}

func (e *ReputationError) Error() string {
	return fmt.Sprintf("validator: entity %s is %s", e.Entity, e.Status)
}

// ProviderError wraps a retryable RPC failure from an EthProvider call
// made during validation.
type ProviderError struct {
	Transport string
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("validator: %s provider error: %v", e.Transport, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// InternalError reports an invariant violation encountered mid-pipeline;
// fatal to the request.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("validator: internal error: %v", e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

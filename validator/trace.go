package validator

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/uopool"
)

// forbiddenOpcodes is the per-phase opcode denylist of spec §4.4 S3.
// GAS is deliberately absent: distinguishing a bare GAS from one
// immediately followed by a CALL-family opcode needs the sequential
// opcode log, which Level.Opcodes (an aggregated per-opcode count) does
// not preserve; see ethprovider.BundlerCollectorTracerJS's step().
var forbiddenOpcodes = mapset.NewSet(
	"GASPRICE", "GASLIMIT", "DIFFICULTY", "TIMESTAMP", "BASEFEE",
	"BLOCKHASH", "NUMBER", "SELFBALANCE", "BALANCE", "ORIGIN",
	"COINBASE", "SELFDESTRUCT", "CREATE",
)

// phaseEntity names one NUMBER-delimited trace level together with the
// entity role/address it belongs to.
type phaseEntity struct {
	role    entity.Role
	address common.Address
	staked  bool
}

// traceValidation is stage S3: re-run the simulation under the bundler's
// structured tracer, partition the call trace by NUMBER-opcode phase
// markers, and check the forbidden-opcode/CREATE2/storage/external-call
// rules per phase.
func (v *Validator) traceValidation(ctx context.Context, op *entity.UserOperation, entryPointAddr common.Address, sim *entrypoint.ValidationResult) ([]uopool.CodeHash, error) {
	msg, err := v.entryPoint.SimulateValidation(op)
	if err != nil {
		return nil, &InternalError{Cause: err}
	}

	var result ethprovider.BundlerCollectorResult
	spec := ethprovider.TraceSpec{Name: ethprovider.BundlerCollectorTracerJS}
	if err := v.eth.TraceCall(ctx, msg, nil, spec, &result); err != nil {
		return nil, &ProviderError{Transport: "debug_traceCall", Cause: err}
	}

	phases, err := v.assignPhases(op, sim, result.NumberLevels)
	if err != nil {
		return nil, err
	}

	associatedSlots := associatedSlotsOf(op.Sender, result.Keccak)

	for _, phase := range phases {
		if err := v.checkOpcodes(phase); err != nil {
			return nil, err
		}
		if err := v.checkCreate2(phase); err != nil {
			return nil, err
		}
		if err := v.checkStorageAccess(op, phase, associatedSlots); err != nil {
			return nil, err
		}
	}

	if err := v.checkAggregator(sim); err != nil {
		return nil, err
	}

	if err := v.checkExternalCalls(ctx, result.Calls, entryPointAddr); err != nil {
		return nil, err
	}

	return collectCodeHashes(phases), nil
}

// assignPhases maps the tracer's flat []Level onto the ordered sequence of
// entities the EntryPoint actually validates: factory (if initCode is
// present), then account (always), then paymaster (if paymasterAndData is
// present).
func (v *Validator) assignPhases(op *entity.UserOperation, sim *entrypoint.ValidationResult, levels []ethprovider.Level) ([]struct {
	entity phaseEntity
	level  ethprovider.Level
}, error) {
	var expected []phaseEntity
	if factory, ok := op.Factory(); ok {
		expected = append(expected, phaseEntity{role: entity.RoleFactory, address: factory, staked: sim.FactoryInfo.ToReputation().IsStaked(v.reputation.Constants())})
	}
	expected = append(expected, phaseEntity{role: entity.RoleSender, address: op.Sender, staked: sim.SenderInfo.ToReputation().IsStaked(v.reputation.Constants())})
	if paymaster, ok := op.Paymaster(); ok {
		expected = append(expected, phaseEntity{role: entity.RolePaymaster, address: paymaster, staked: sim.PaymasterInfo.ToReputation().IsStaked(v.reputation.Constants())})
	}

	if len(levels) != len(expected) {
		return nil, &InternalError{Cause: fmt.Errorf("trace produced %d phases, expected %d for this UserOperation's entity set", len(levels), len(expected))}
	}

	out := make([]struct {
		entity phaseEntity
		level  ethprovider.Level
	}, len(expected))
	for i := range expected {
		out[i].entity = expected[i]
		out[i].level = levels[i]
	}
	return out, nil
}

func (v *Validator) checkOpcodes(phase struct {
	entity phaseEntity
	level  ethprovider.Level
}) error {
	if phase.level.OOG {
		return &InternalError{Cause: fmt.Errorf("%s ran out of gas during simulation", phase.entity.role)}
	}
	for op := range phase.level.Opcodes {
		if forbiddenOpcodes.Contains(op) {
			return &OpcodeError{Entity: string(phase.entity.role), Opcode: op}
		}
	}
	return nil
}

func (v *Validator) checkCreate2(phase struct {
	entity phaseEntity
	level  ethprovider.Level
}) error {
	count := phase.level.Opcodes["CREATE2"]
	if phase.entity.role == entity.RoleFactory {
		if count > 1 {
			return &OpcodeError{Entity: string(phase.entity.role), Opcode: "CREATE2 (used more than once)"}
		}
		return nil
	}
	if count > 0 {
		return &OpcodeError{Entity: string(phase.entity.role), Opcode: "CREATE2"}
	}
	return nil
}

func (v *Validator) checkStorageAccess(op *entity.UserOperation, phase struct {
	entity phaseEntity
	level  ethprovider.Level
}, associatedSlots mapset.Set[string]) error {
	for contract, access := range phase.level.Access {
		slots := mapset.NewSet[string]()
		for s := range access.Reads {
			slots.Add(s)
		}
		for s := range access.Writes {
			slots.Add(s)
		}
		for slot := range slots.Iter() {
			if contract == phase.entity.address {
				continue // (a) an entity may always touch its own storage
			}
			if contract == op.Sender && phase.entity.staked {
				continue // (b) staked entities may touch the sender's storage
			}
			if associatedSlots.Contains(slot) && phase.entity.staked {
				continue // (c) staked entities may touch sender-associated slots
			}
			if !phase.entity.staked {
				return &UnstakedError{Entity: string(phase.entity.role), Reason: fmt.Sprintf("touched storage of %s without being staked", contract)}
			}
			return &StorageError{Entity: string(phase.entity.role), Contract: contract.Hex(), Slot: slot}
		}
	}
	return nil
}

func (v *Validator) checkAggregator(sim *entrypoint.ValidationResult) error {
	if sim.AggregatorInfo == nil {
		return nil
	}
	if !sim.AggregatorInfo.StakeInfo.ToReputation().IsStaked(v.reputation.Constants()) {
		return &UnstakedError{Entity: string(entity.RoleAggregator), Reason: "signature aggregator must be staked"}
	}
	return nil
}

func (v *Validator) checkExternalCalls(ctx context.Context, calls []ethprovider.CallFrame, entryPointAddr common.Address) error {
	for _, call := range calls {
		if call.To == entryPointAddr {
			continue
		}
		code, err := v.eth.CodeAt(ctx, call.To, nil)
		if err != nil {
			return &ProviderError{Transport: "eth_getCode", Cause: err}
		}
		if len(code) == 0 {
			return &ExternalCallError{Entity: call.From.Hex(), Target: call.To.Hex()}
		}
	}
	return nil
}

// associatedSlotsOf derives the set of storage slots "associated" with
// sender per spec §4.4 S3 rule (c), which allows two distinct forms: any
// preimage observed going into KECCAK256 that starts with sender's 20 bytes
// yields an associated slot (how mapping(address => ...) storage layouts key
// a sender's own data under slots the sender itself never directly
// computes), and the slot sender's own address value directly also counts,
// covering a contract that stores a flag or counter at a slot equal to the
// sender address itself rather than a keccak-derived mapping slot.
func associatedSlotsOf(sender common.Address, preimages [][]byte) mapset.Set[string] {
	out := mapset.NewSet[string]()
	out.Add(sender.Hash().Hex())
	for _, pre := range preimages {
		if len(pre) < common.AddressLength {
			continue
		}
		if common.BytesToAddress(pre[:common.AddressLength]) != sender {
			continue
		}
		slot := crypto.Keccak256Hash(pre)
		out.Add(slot.Hex())
	}
	return out
}

func collectCodeHashes(phases []struct {
	entity phaseEntity
	level  ethprovider.Level
}) []uopool.CodeHash {
	seen := mapset.NewSet[common.Address]()
	var out []uopool.CodeHash
	for _, phase := range phases {
		for addr, size := range phase.level.ContractSize {
			if size == 0 || seen.Contains(addr) {
				continue
			}
			seen.Add(addr)
			// The actual code hash is filled in by the caller from a
			// direct eth_getCode + keccak256, since the tracer only
			// reports that code exists (its size), not its hash.
			out = append(out, uopool.CodeHash{Address: addr})
		}
	}
	return out
}

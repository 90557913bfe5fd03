package ethprovider

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BundlerCollectorTracerJS is the structured-logging tracer sent as the
// `tracer` field of a debug_traceCall when validating a UserOperation (S3,
// SPEC_FULL.md §4.4). It groups call frames by validation phase using the
// NUMBER opcode as a phase marker: the EntryPoint emits one NUMBER before
// each of factory validation (when initCode is present), account validation
// and paymaster validation (when present), in that order, so a single flat call trace can be split back into per-entity sections
// without the node needing any bundler-specific support.
//
// Grounded on the shape go-ethereum's own JS tracers take (a `result`/`fault`
// object evaluated by goja against the EVM's step hooks) and on the output
// schema consumed by the aiops-bundler tracevalidation flow.
const BundlerCollectorTracerJS = `
{
  numberLevels: [],
  currentLevel: null,
  keccak: [],
  calls: [],
  logs: [],
  debug: [],

  fault: function (log, db) {
    this.debug.push("fault: " + log.getError());
  },

  result: function (ctx, db) {
    if (this.currentLevel !== null) {
      this.numberLevels.push(this.currentLevel);
    }
    return {
      numberLevels: this.numberLevels,
      keccak: this.keccak,
      calls: this.calls,
      logs: this.logs,
      debug: this.debug,
    };
  },

  enter: function (frame) {
    this.calls.push({
      type: frame.getType(),
      from: toHex(frame.getFrom()),
      to: toHex(frame.getTo()),
      method: toHex(frame.getInput()).slice(0, 10),
      gas: frame.getGas(),
      value: frame.getValue ? frame.getValue() : undefined,
    });
  },

  exit: function (frame) {
    var top = this.calls[this.calls.length - 1];
    if (top) {
      top.gasUsed = frame.getGasUsed();
      top.return = toHex(frame.getOutput());
      top.revert = frame.getError && frame.getError() !== "";
    }
  },

  step: function (log, db) {
    var op = log.op.toString();
    if (op === "NUMBER") {
      if (this.currentLevel !== null) {
        this.numberLevels.push(this.currentLevel);
      }
      this.currentLevel = {
        access: {},
        opcodes: {},
        contractSize: {},
        extCodeAccessInfo: {},
        oog: false,
      };
      return;
    }
    if (this.currentLevel === null) {
      return;
    }
    this.currentLevel.opcodes[op] = (this.currentLevel.opcodes[op] || 0) + 1;

    if (op === "SLOAD" || op === "SSTORE") {
      var slot = log.stack.peek(0).toString(16);
      var addr = toHex(log.contract.getAddress());
      if (!this.currentLevel.access[addr]) {
        this.currentLevel.access[addr] = { reads: {}, writes: {} };
      }
      if (op === "SLOAD") {
        this.currentLevel.access[addr].reads[slot] = true;
      } else {
        this.currentLevel.access[addr].writes[slot] = true;
      }
    }
    if (op === "KECCAK256") {
      var ofs = parseInt(log.stack.peek(0).toString());
      var len = parseInt(log.stack.peek(1).toString());
      this.keccak.push(toHex(log.memory.slice(ofs, ofs + len)));
    }
    if (op.indexOf("EXTCODE") === 0) {
      var target = toHex(log.stack.peek(0).toString(16));
      this.currentLevel.extCodeAccessInfo[target] = op;
    }
    if (log.getGasRemaining && log.getGasRemaining() < 1) {
      this.currentLevel.oog = true;
    }
  },
}
`

// AccessInfo records the slots an entity read or wrote during its section
// of the trace, decoded from the tracer's per-level access map.
type AccessInfo struct {
	Reads  map[string]struct{}
	Writes map[string]struct{}
}

// Level is one NUMBER-delimited section of the trace: everything a single
// entity (sender/factory/paymaster) did during its part of validation.
type Level struct {
	Access            map[common.Address]AccessInfo
	Opcodes           map[string]uint64
	ContractSize      map[common.Address]uint64
	ExtCodeAccessInfo map[common.Address]string
	OOG               bool
}

// CallFrame is one entry in the flattened call trace captured by enter/exit.
type CallFrame struct {
	Type    string
	From    common.Address
	To      common.Address
	Method  string
	Gas     uint64
	GasUsed uint64
	Value   *big.Int
	Return  []byte
	Revert  bool
}

// BundlerCollectorResult is the decoded JSON a debug_traceCall using
// BundlerCollectorTracerJS returns: one Level per validated entity plus the
// flattened call stack and any KECCAK256 preimages observed (used to
// recognize storage slots derived from an entity's own address, per
// SPEC_FULL.md's associated-storage rule).
type BundlerCollectorResult struct {
	NumberLevels []Level
	Keccak       [][]byte
	Calls        []CallFrame
	Logs         []string
	Debug        []string
}

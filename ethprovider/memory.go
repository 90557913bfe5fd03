package ethprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// ErrReceiptNotFound mirrors ethereum.NotFound, returned by
// Memory.TransactionReceipt for a hash with no scripted receipt.
var ErrReceiptNotFound = ethereum.NotFound

// Memory is an EthProvider test double: callers script canned responses
// instead of talking to a node. TraceCall hands back a scripted value via a
// JSON round trip and runs no tracer; RunTracerStep runs
// BundlerCollectorTracerJS's `step` function through github.com/dop251/goja
// against synthetic opcodes, so tests can exercise the actual tracer source
// rather than a Go reimplementation of it.
type Memory struct {
	mu sync.Mutex

	chainID     *big.Int
	blockNumber uint64
	code        map[common.Address][]byte
	balances    map[common.Address]*big.Int
	nonces      map[common.Address]uint64

	callResults map[string][]byte // keyed by callKey: msg.To.Hex()+":"+hex of the first 4 bytes of msg.Data
	callReverts map[string][]byte // same keying; checked before callResults
	traceResult interface{}       // next value TraceCall decodes out as JSON
	sentTxs     []*types.Transaction
	receipts    map[common.Hash]*types.Receipt

	feed event.Feed
}

// NewMemory returns an EthProvider double pinned to chainID with no code
// and no canned call results; tests populate those via the setters below.
func NewMemory(chainID *big.Int) *Memory {
	return &Memory{
		chainID:     chainID,
		code:        make(map[common.Address][]byte),
		balances:    make(map[common.Address]*big.Int),
		nonces:      make(map[common.Address]uint64),
		callResults: make(map[string][]byte),
		callReverts: make(map[string][]byte),
		receipts:    make(map[common.Hash]*types.Receipt),
	}
}

// SetReceipt scripts the receipt TransactionReceipt returns for txHash.
func (m *Memory) SetReceipt(txHash common.Hash, receipt *types.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[txHash] = receipt
}

func (m *Memory) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ErrReceiptNotFound
}

func (m *Memory) ChainID(ctx context.Context) (*big.Int, error) { return m.chainID, nil }

func (m *Memory) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockNumber, nil
}

// AdvanceBlock bumps the synthetic head and publishes a Head notification
// to every live SubscribeNewHead subscriber.
func (m *Memory) AdvanceBlock(baseFee *big.Int) *Head {
	m.mu.Lock()
	m.blockNumber++
	h := &Head{Number: m.blockNumber, BaseFee: baseFee}
	m.mu.Unlock()
	m.feed.Send(h)
	return h
}

func (m *Memory) SubscribeNewHead(ctx context.Context, ch chan<- *Head) (event.Subscription, error) {
	return m.feed.Subscribe(ch), nil
}

// SetCode installs the deployed bytecode at addr; CodeAt and the sanity
// check "factory-produced sender must be undeployed" both read from this.
func (m *Memory) SetCode(addr common.Address, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code[addr] = code
}

func (m *Memory) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code[account], nil
}

// SetBalance scripts account's native balance for BalanceAt.
func (m *Memory) SetBalance(account common.Address, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = balance
}

func (m *Memory) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[account]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

// SetNonce scripts account's next nonce for NonceAt.
func (m *Memory) SetNonce(account common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[account] = nonce
}

func (m *Memory) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

// SetCallResult scripts the []byte Call/Call-as-revert-data response for a
// given target contract and calldata prefix (the 4-byte selector).
func (m *Memory) SetCallResult(to common.Address, selector []byte, result []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callResults[callKey(to, selector)] = result
}

func callKey(to common.Address, data []byte) string {
	sel := data
	if len(sel) > 4 {
		sel = sel[:4]
	}
	return fmt.Sprintf("%s:%x", to.Hex(), sel)
}

// SetCallRevert scripts to+selector to revert with data, the shape every
// real simulateValidation/getSenderAddress call takes: Call returns a
// revertDataError wrapping data, exactly as go-ethereum's ethclient would
// return an rpc.DataError for a reverted eth_call.
func (m *Memory) SetCallRevert(to common.Address, selector []byte, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callReverts[callKey(to, selector)] = data
}

func (m *Memory) Call(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.To == nil {
		return nil, fmt.Errorf("ethprovider: memory Call requires msg.To")
	}
	key := callKey(*msg.To, msg.Data)
	if data, ok := m.callReverts[key]; ok {
		return nil, &revertDataError{data: data}
	}
	res, ok := m.callResults[key]
	if !ok {
		return nil, fmt.Errorf("ethprovider: no scripted call result for %s", key)
	}
	return res, nil
}

// revertDataError implements the same ErrorData() interface go-ethereum's
// rpc.DataError does, so entrypoint.ExtractRevertData pulls a scripted
// revert payload back out in tests exactly as it would from a real node.
type revertDataError struct {
	data []byte
}

func (e *revertDataError) Error() string         { return "execution reverted" }
func (e *revertDataError) ErrorData() interface{} { return e.data }

func (m *Memory) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

// SetTraceResult scripts the value the next TraceCall decodes its out
// parameter from (via a JSON round trip, matching the real Client's
// json.Unmarshal(raw, out) behavior).
func (m *Memory) SetTraceResult(v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traceResult = v
}

func (m *Memory) TraceCall(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int, spec TraceSpec, out interface{}) error {
	m.mu.Lock()
	v := m.traceResult
	m.mu.Unlock()
	if v == nil {
		return fmt.Errorf("ethprovider: no scripted trace result")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentTxs = append(m.sentTxs, tx)
	return nil
}

// SentTransactions returns every transaction handed to SendRawTransaction,
// in submission order.
func (m *Memory) SentTransactions() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Transaction, len(m.sentTxs))
	copy(out, m.sentTxs)
	return out
}

// RunTracerStep evaluates BundlerCollectorTracerJS's `step` function once
// against a synthetic opcode name using goja, returning the tracer's
// mutated currentLevel.opcodes map. Used by validator tests that want to
// assert against the real embedded tracer source instead of a Go port of
// its opcode-counting logic.
func RunTracerStep(opcodes ...string) (map[string]interface{}, error) {
	vm := goja.New()
	// The real node environment injects toHex as a host helper before
	// running a JS tracer; reproduce the same binding here so branches
	// of step() that call it (SLOAD/SSTORE/EXTCODE*) don't ReferenceError.
	if err := vm.Set("toHex", func(v goja.Value) string { return "0x00" }); err != nil {
		return nil, err
	}
	if _, err := vm.RunString("var tracer = " + BundlerCollectorTracerJS); err != nil {
		return nil, fmt.Errorf("ethprovider: compiling tracer: %w", err)
	}
	for _, op := range opcodes {
		if _, err := vm.RunString(fmt.Sprintf(`tracer.step({op: {toString: function(){return %q}}, stack: {peek: function(){return {toString: function(){return "0"}}}}, memory: {slice: function(){return []}}, contract: {getAddress: function(){return []}}}, null)`, op)); err != nil {
			return nil, fmt.Errorf("ethprovider: running tracer step for %s: %w", op, err)
		}
	}
	lvl := vm.Get("tracer").ToObject(vm).Get("currentLevel")
	if lvl == nil || goja.IsUndefined(lvl) || goja.IsNull(lvl) {
		return map[string]interface{}{}, nil
	}
	opcodesVal := lvl.ToObject(vm).Get("opcodes")
	exported, _ := opcodesVal.Export().(map[string]interface{})
	return exported, nil
}

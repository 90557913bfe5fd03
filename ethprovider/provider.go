// Package ethprovider abstracts the execution-client RPC the bundler's core
// depends on: chain id, the canonical head, eth_call/estimate_gas,
// debug_traceCall with a structured tracer, and raw transaction submission
// (see SPEC_FULL.md §4.2). It mirrors go-ethereum's own split between a
// thin ethclient.Client and an event.Feed-based subscription for new heads,
// the way miner/worker.go and core/txpool consume a backend.
package ethprovider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Head is a minimal new-block notification; block_stream only needs enough
// to let callers decide whether to re-run per-block bookkeeping (reputation
// aging, mempool code-hash revalidation).
type Head struct {
	Number    uint64
	Hash      common.Hash
	BaseFee   *big.Int
	Timestamp uint64
}

// TraceSpec selects and parameterizes a debug_traceCall tracer. Name is
// either "callTracer"/"prestateTracer" style built-ins or, for S3
// validation, the bundler's own embedded JS tracer (see tracer.go).
type TraceSpec struct {
	Name   string
	Config map[string]interface{}
}

// EthProvider is the capability surface the validator, EntryPoint client
// and bundler loop build on. Implementations: Client (ethclient-backed,
// talks to a real node) and Memory, the in-memory double in memory.go.
type EthProvider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)

	// SubscribeNewHead returns a restartable, lazy stream of new block
	// notifications. Callers that need to resume after a disconnect just
	// call it again; there is no cursor to track.
	SubscribeNewHead(ctx context.Context, ch chan<- *Head) (event.Subscription, error)

	Call(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// TraceCall runs msg against blockNumber with the given tracer and
	// decodes the tracer's JSON result into out.
	TraceCall(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int, spec TraceSpec, out interface{}) error

	SendRawTransaction(ctx context.Context, tx *types.Transaction) error

	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)

	// BalanceAt reads account's native balance, used by the bundler loop's
	// beneficiary-redirect check (spec §4.6 step 6).
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	// NonceAt reads account's next transaction nonce, used to sequence the
	// bundler's own submission transactions.
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)

	// TransactionReceipt looks up a mined transaction's receipt, used by
	// the bundler loop's inclusion-observation step. Returns
	// ethereum.NotFound while the transaction is still unmined.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

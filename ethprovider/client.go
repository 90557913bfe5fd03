package ethprovider

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the EthProvider backed by a real execution-client JSON-RPC
// endpoint, wrapping both ethclient.Client (for the typed calls) and the
// raw *rpc.Client (for debug_traceCall, which ethclient doesn't expose).
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// Dial connects to rawurl (http(s)://, ws(s)://, or a unix socket path).
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rc, eth: ethclient.NewClient(rc)}, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// SubscribeNewHead bridges go-ethereum's ethclient head subscription into
// our own Head type over an event.Feed, so SubscribeNewHead can be called
// any number of times (once per interested component) off one underlying
// node subscription per call, matching the teacher's SubscribeNewPreconfTxEvent
// shape (see core/txpool/legacypool/legacypool_preconf.go).
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *Head) (event.Subscription, error) {
	raw := make(chan *types.Header, 16)
	sub, err := c.eth.SubscribeNewHead(ctx, raw)
	if err != nil {
		return nil, err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case h := <-raw:
				head := &Head{
					Number:    h.Number.Uint64(),
					Hash:      h.Hash(),
					BaseFee:   h.BaseFee,
					Timestamp: h.Time,
				}
				select {
				case ch <- head:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Client) Call(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

// traceCallArgs mirrors the JSON shape go-ethereum's debug_traceCall RPC
// method expects for its first positional argument.
type traceCallArgs struct {
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

type traceCallConfig struct {
	Tracer       string                 `json:"tracer,omitempty"`
	TracerConfig map[string]interface{} `json:"tracerConfig,omitempty"`
}

func (c *Client) TraceCall(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int, spec TraceSpec, out interface{}) error {
	args := traceCallArgs{Data: msg.Data}
	if msg.From != (common.Address{}) {
		args.From = &msg.From
	}
	if msg.To != nil {
		args.To = msg.To
	}
	if msg.Gas != 0 {
		g := hexutil.Uint64(msg.Gas)
		args.Gas = &g
	}
	if msg.Value != nil {
		args.Value = (*hexutil.Big)(msg.Value)
	}

	blockTag := "latest"
	if blockNumber != nil {
		blockTag = hexutil.EncodeBig(blockNumber)
	}

	var raw json.RawMessage
	cfg := traceCallConfig{Tracer: spec.Name, TracerConfig: spec.Config}
	if err := c.rpc.CallContext(ctx, &raw, "debug_traceCall", &args, blockTag, &cfg); err != nil {
		log.Debug("debug_traceCall failed", "tracer", spec.Name, "err", err)
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, blockNumber)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return c.eth.NonceAt(ctx, account, blockNumber)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

func (c *Client) Close() {
	c.rpc.Close()
}

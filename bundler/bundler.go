package bundler

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/metrics"
	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
)

// State is one position in the bundler's tick state machine (§4.6):
// Idle -> Selecting -> Simulating -> Signing -> Submitting -> Observing ->
// Idle, with Stopped a terminal reachable from any state via Run's context
// cancellation.
type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateSimulating
	StateSigning
	StateSubmitting
	StateObserving
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateSimulating:
		return "simulating"
	case StateSigning:
		return "signing"
	case StateSubmitting:
		return "submitting"
	case StateObserving:
		return "observing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Bundler runs the periodic bundling loop over one mempool/EntryPoint
// pair. Grounded on miner/worker.go's Miner: a long-lived struct wired
// once against its dependencies, driven by a ticker-based loop method
// (here Run, there the worker's mainLoop), with per-tick state exposed
// for observability the way miner.Miner exposes its own pending/sealing
// state.
type Bundler struct {
	config     Config
	entryPoint *entrypoint.Client
	eth        ethprovider.EthProvider
	mempool    *uopool.Pool
	validator  *validator.Validator
	reputation *reputation.Manager
	chainID    *big.Int

	signer       Signer
	beneficiary  common.Address
	flashbotsKey *ecdsa.PrivateKey

	receipts ReceiptRecorder

	state   atomic.Int32
	baseFee atomic.Pointer[big.Int]
	manual  atomic.Bool // true once debug_bundler_setBundlingMode("manual") is called
}

// SetReceiptRecorder wires an optional sink for landed UserOperations'
// outcomes. Left unset, applyInclusion simply skips recording.
func (b *Bundler) SetReceiptRecorder(r ReceiptRecorder) { b.receipts = r }

// BundlingMode reports the loop's current trigger mode: "auto" ticks
// itself on Config.BundleInterval; "manual" only bundles when Tick is
// called directly (debug_bundler_sendBundleNow).
func (b *Bundler) BundlingMode() string {
	if b.manual.Load() {
		return "manual"
	}
	return "auto"
}

// SetManualBundling switches between auto and manual triggering
// (debug_bundler_setBundlingMode).
func (b *Bundler) SetManualBundling(manual bool) { b.manual.Store(manual) }

// New wires a Bundler. beneficiary is the fee-recipient address
// handleOps credits by default; signer is the bundler's own transaction-
// signing identity (distinct from flashbotsKey, the relay-authentication
// key used only when config.SubmitStrategy is SubmitFlashbots).
func New(config Config, ep *entrypoint.Client, eth ethprovider.EthProvider, mempool *uopool.Pool, v *validator.Validator, rep *reputation.Manager, chainID *big.Int, signer Signer, beneficiary common.Address, flashbotsKey *ecdsa.PrivateKey) *Bundler {
	b := &Bundler{
		config:       config,
		entryPoint:   ep,
		eth:          eth,
		mempool:      mempool,
		validator:    v,
		reputation:   rep,
		chainID:      chainID,
		signer:       signer,
		beneficiary:  beneficiary,
		flashbotsKey: flashbotsKey,
	}
	b.baseFee.Store(big.NewInt(0))
	return b
}

// State returns the loop's current position in the state machine.
func (b *Bundler) State() State { return State(b.state.Load()) }

// Run drives the bundling loop until ctx is cancelled, ticking every
// Config.BundleInterval. Errors from an individual tick are logged, not
// returned: a failed tick should not stop the loop, only skip a cycle.
func (b *Bundler) Run(ctx context.Context) error {
	go b.watchHeads(ctx)

	ticker := time.NewTicker(b.config.BundleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.state.Store(int32(StateStopped))
			return ctx.Err()
		case <-ticker.C:
			if b.manual.Load() {
				continue
			}
			if err := b.Tick(ctx); err != nil {
				log.Error("bundler: tick failed", "err", err)
			}
		}
	}
}

// watchHeads keeps baseFee current by subscribing once to new heads,
// rather than polling per tick; GetSorted's priority-fee ordering (step 1)
// reads it through Tick without ever touching the network itself. A failed
// or dropped subscription is retried after a short backoff so a transient
// disconnect from the execution client doesn't leave the loop stuck on a
// stale base fee forever.
func (b *Bundler) watchHeads(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		ch := make(chan *ethprovider.Head, 16)
		sub, err := b.eth.SubscribeNewHead(ctx, ch)
		if err != nil {
			log.Warn("bundler: subscribing to new heads failed, retrying", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.config.BundleInterval):
			}
			continue
		}

		b.consumeHeads(ctx, ch, sub)
	}
}

func (b *Bundler) consumeHeads(ctx context.Context, ch chan *ethprovider.Head, sub event.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				log.Warn("bundler: new head subscription dropped, resubscribing", "err", err)
			}
			return
		case head := <-ch:
			if head.BaseFee != nil {
				b.baseFee.Store(head.BaseFee)
			}
			if err := b.reputation.AgeOnBlock(head.Number); err != nil {
				log.Warn("bundler: applying reputation block aging failed", "block", head.Number, "err", err)
			}
		}
	}
}

// Tick runs one full pass of the state machine (§4.6's numbered
// algorithm): select, simulate/prune, sign, submit, observe. Every log
// line emitted during the tick carries the same tickID so a single pass
// can be grepped out of a busy bundler's logs.
func (b *Bundler) Tick(ctx context.Context) error {
	tickID := uuid.New().String()
	log.Debug("bundler: tick started", "tick", tickID)
	defer metrics.TimeTick(time.Now())

	b.state.Store(int32(StateSelecting))
	candidates := b.mempool.GetSorted(b.baseFee.Load()) // step 1

	b.state.Store(int32(StateSimulating))
	sel := b.selectBundle(ctx, candidates) // steps 2-3

	if len(sel.bundle) == 0 { // step 4
		b.state.Store(int32(StateIdle))
		metrics.BundleEmptyMeter.Mark(1)
		log.Debug("bundler: tick produced no bundle", "tick", tickID, "candidates", len(candidates))
		return nil
	}
	metrics.BundleBuiltMeter.Mark(1)
	metrics.BundleUserOpsGauge.Update(int64(len(sel.bundle)))

	b.state.Store(int32(StateSigning))
	tx, err := b.buildTx(ctx, sel.bundle) // steps 5-6-7(sign)
	if err != nil {
		b.state.Store(int32(StateIdle))
		return fmt.Errorf("tick %s: %w", tickID, err)
	}

	b.state.Store(int32(StateSubmitting))
	if err := b.submit(ctx, tx); err != nil { // step 7(submit)
		b.state.Store(int32(StateIdle))
		return fmt.Errorf("tick %s: %w", tickID, err)
	}
	log.Info("bundler: submitted bundle", "tick", tickID, "tx", tx.Hash(), "ops", len(sel.bundle))

	b.state.Store(int32(StateObserving))
	err = b.observe(ctx, tx, sel.bundle) // steps 8-9

	b.state.Store(int32(StateIdle))
	if err != nil {
		return fmt.Errorf("tick %s: %w", tickID, err)
	}
	return nil
}

// observe implements §4.6 steps 8-9: poll for tx's receipt over up to
// Config.ObserveBlocks blocks. On inclusion, increment every landed UO's
// entities and remove them from the mempool; a UserOperationRevertReason
// log singles out one UO within an otherwise-successful bundle for
// removal without an included-count bump, and its named entity is
// penalized instead. If the transaction never lands, its UOs are simply
// left in the mempool (they were never removed during selection) to be
// reconsidered on the next tick, and a NotLandedError is returned purely
// for visibility.
func (b *Bundler) observe(ctx context.Context, tx *types.Transaction, bundle []*entity.UserOperation) error {
	txHash := tx.Hash()
	lastBlock, _ := b.eth.BlockNumber(ctx)

	for waited := uint64(0); waited < b.config.ObserveBlocks; {
		receipt, err := b.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			b.applyInclusion(receipt, bundle)
			return nil
		}

		current, err := b.eth.BlockNumber(ctx)
		if err != nil {
			return nil
		}
		if current > lastBlock {
			waited += current - lastBlock
			lastBlock = current
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.config.BundleInterval):
		}
	}

	metrics.BundleNotLandedMeter.Mark(1)
	return &NotLandedError{TxHash: txHash.Hex(), BlocksWaited: b.config.ObserveBlocks}
}

// applyInclusion is observe's success path, split out so it can be tested
// without a polling loop.
func (b *Bundler) applyInclusion(receipt *types.Receipt, bundle []*entity.UserOperation) {
	metrics.BundleLandedMeter.Mark(1)
	reverted := revertedUserOps(receipt, b.entryPoint.Address())

	for _, op := range bundle {
		hash := b.entryPoint.GetUserOpHash(op)
		_, blamed := reverted[hash]
		if b.receipts != nil {
			b.receipts.RecordReceipt(hash, ReceiptInfo{
				TxHash:      receipt.TxHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Success:     !blamed,
			})
		}

		if blameEntity, ok := reverted[hash]; ok {
			log.Warn("bundler: UserOperation reverted within landed bundle", "hash", hash, "entity", blameEntity)
			b.mempool.Remove(hash)
			if err := b.reputation.IncrementSeen(blameEntity); err != nil {
				log.Error("bundler: failed to penalize reverted UserOperation's entity", "entity", blameEntity, "err", err)
			}
			continue
		}

		b.mempool.Remove(hash)
		for _, addr := range op.Entities() {
			if err := b.reputation.IncrementIncluded(addr); err != nil {
				log.Error("bundler: failed to credit included UserOperation's entity", "addr", addr, "err", err)
			}
		}
	}
}

// Package service is the facade wiring reputation, validator, mempool and
// (optionally) P2P gossip into the single admission pipeline every entry
// surface — JSON-RPC, P2P inbound, the CLI's standalone `uopool` mode —
// submits a UserOperation through. It owns nothing about transport: rpcapi
// and p2p each call into it.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"

	"github.com/zsluedem/aa-bundler/bundler"
	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/p2p"
	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
)

// EntryPointHandle bundles the per-EntryPoint stack a Service dispatches
// to: one mempool, one validator, one bundling loop.
type EntryPointHandle struct {
	EntryPoint *entrypoint.Client
	Eth        ethprovider.EthProvider
	Mempool    *uopool.Pool
	Validator  *validator.Validator
	Bundler    *bundler.Bundler
}

// Service is the admission facade over one or more configured
// EntryPoints, sharing a single reputation manager and receipt store
// across all of them.
type Service struct {
	reputation *reputation.Manager
	receipts   *ReceiptStore

	mu          sync.RWMutex
	entryPoints map[common.Address]*EntryPointHandle

	gossip p2p.Sink // nil if P2P is disabled

	sf singleflight.Group
}

// New builds a Service with no EntryPoints registered yet; call
// RegisterEntryPoint for each one the operator configured.
func New(rep *reputation.Manager, receipts *ReceiptStore, gossip p2p.Sink) *Service {
	return &Service{
		reputation:  rep,
		receipts:    receipts,
		entryPoints: make(map[common.Address]*EntryPointHandle),
		gossip:      gossip,
	}
}

// RegisterEntryPoint wires one EntryPoint's stack into the facade, and
// its bundler's landed-UserOperation receipts into the shared
// ReceiptStore.
func (s *Service) RegisterEntryPoint(h *EntryPointHandle) {
	if s.receipts != nil && h.Bundler != nil {
		h.Bundler.SetReceiptRecorder(s.receipts)
	}
	s.mu.Lock()
	s.entryPoints[h.EntryPoint.Address()] = h
	s.mu.Unlock()
}

// SupportedEntryPoints answers eth_supportedEntryPoints.
func (s *Service) SupportedEntryPoints() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.entryPoints))
	for addr := range s.entryPoints {
		out = append(out, addr)
	}
	return out
}

func (s *Service) handle(entryPoint common.Address) (*EntryPointHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.entryPoints[entryPoint]
	if !ok {
		return nil, fmt.Errorf("service: entry point %s is not supported", entryPoint)
	}
	return h, nil
}

// Handle exposes the per-EntryPoint stack (mempool, bundler) for callers
// outside this package that need more than the admission facade, namely
// rpcapi's debug_bundler_* methods.
func (s *Service) Handle(entryPoint common.Address) (*EntryPointHandle, error) {
	return s.handle(entryPoint)
}

// Reputation returns the reputation manager shared across every
// registered EntryPoint, for debug_bundler_setReputation/dumpReputation.
func (s *Service) Reputation() *reputation.Manager {
	return s.reputation
}

// SendUserOperation implements eth_sendUserOperation: run admission
// validation and, on success, add op to entryPoint's mempool and gossip
// it to peers. Two concurrent submissions of the same UserOperation
// collapse into a single admission run via singleflight, keyed by its
// hash, so a client retry or a P2P echo of an operation already being
// processed doesn't validate it twice.
func (s *Service) SendUserOperation(ctx context.Context, entryPoint common.Address, op *entity.UserOperation) (common.Hash, error) {
	h, err := s.handle(entryPoint)
	if err != nil {
		return common.Hash{}, err
	}

	hash := h.EntryPoint.GetUserOpHash(op)
	_, err, _ = s.sf.Do(hash.Hex(), func() (interface{}, error) {
		return nil, s.admit(ctx, h, entryPoint, op, hash)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (s *Service) admit(ctx context.Context, h *EntryPointHandle, entryPoint common.Address, op *entity.UserOperation, hash common.Hash) error {
	if _, ok := h.Mempool.Get(hash); ok {
		return nil // already admitted by an earlier, now-finished Do call
	}

	result, err := h.Validator.ValidateForAdmission(ctx, op, entryPoint)
	if err != nil {
		return fmt.Errorf("service: validating user operation: %w", err)
	}
	if err := h.Mempool.Add(op, hash); err != nil {
		return fmt.Errorf("service: admitting user operation: %w", err)
	}
	s.incrementSeen(op, result)

	if s.gossip != nil {
		if err := s.gossip.Publish(ctx, p2p.Message{EntryPoint: entryPoint, Op: op}); err != nil {
			log.Warn("service: gossiping admitted user operation failed", "hash", hash, "err", err)
		}
	}
	return nil
}

// incrementSeen bumps opsSeen for every entity touched by a newly admitted
// op (sender, factory, paymaster, and the aggregator once simulation
// reveals one), matching reputation.Manager.IncrementSeen's contract of
// being called once per entity role on every admitted UserOperation.
func (s *Service) incrementSeen(op *entity.UserOperation, result *validator.Result) {
	for _, addr := range op.Entities() {
		if err := s.reputation.IncrementSeen(addr); err != nil {
			log.Warn("service: incrementing opsSeen failed", "addr", addr, "err", err)
		}
	}
	if result != nil && result.Simulation != nil && result.Simulation.AggregatorInfo != nil {
		addr := result.Simulation.AggregatorInfo.Aggregator
		if err := s.reputation.IncrementSeen(addr); err != nil {
			log.Warn("service: incrementing opsSeen failed", "addr", addr, "err", err)
		}
	}
}

// GetUserOperationByHash answers eth_getUserOperationByHash, searching
// every registered EntryPoint's mempool.
func (s *Service) GetUserOperationByHash(hash common.Hash) (*entity.UserOperation, common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for addr, h := range s.entryPoints {
		if op, ok := h.Mempool.Get(hash); ok {
			return op, addr, true
		}
	}
	return nil, common.Address{}, false
}

// GetUserOperationReceipt answers eth_getUserOperationReceipt from the
// shared receipt store, populated as bundles land.
func (s *Service) GetUserOperationReceipt(hash common.Hash) (bundler.ReceiptInfo, bool) {
	if s.receipts == nil {
		return bundler.ReceiptInfo{}, false
	}
	return s.receipts.Get(hash)
}

// IngestGossip drains source until ctx is cancelled, running every
// inbound UserOperation through the same admission path a direct RPC
// submission takes.
func (s *Service) IngestGossip(ctx context.Context, source p2p.Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-source.Messages():
			if !ok {
				return
			}
			if _, err := s.SendUserOperation(ctx, msg.EntryPoint, msg.Op); err != nil {
				log.Debug("service: rejecting gossiped user operation", "err", err)
			}
		}
	}
}

package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/bundler"
)

// ReceiptStore answers eth_getUserOperationReceipt by remembering every
// UserOperation's outcome as the bundler loop reports it, rather than
// re-deriving inclusion from chain state on every RPC call. It implements
// bundler.ReceiptRecorder.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts map[common.Hash]bundler.ReceiptInfo
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[common.Hash]bundler.ReceiptInfo)}
}

func (s *ReceiptStore) RecordReceipt(opHash common.Hash, info bundler.ReceiptInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[opHash] = info
}

func (s *ReceiptStore) Get(opHash common.Hash) (bundler.ReceiptInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.receipts[opHash]
	return info, ok
}

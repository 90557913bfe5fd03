// Package uopool implements the mempool store of SPEC_FULL.md §4.5: three
// indices over admitted UserOperations (primary hash, by-sender,
// by-entity) plus a per-op code-hash cache, replacement-on-fee-bump,
// priority-fee ordering and cascading ban removal.
//
// Grounded on the teacher's preconf.FIFOTxSet (mutex-guarded map + slice,
// Add/Get/Remove/Forward) generalized from a single FIFO queue into the
// three-index structure the spec requires, with the secondary indices kept
// as in-memory golang-set sets (teacher's go.mod dependency, also used the
// same way by other_examples' aiops-bundler for touched-contract sets) over
// a kv.Store-backed primary table for durability.
package uopool

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/kv"
	"github.com/zsluedem/aa-bundler/metrics"
)

// CodeHash is one (address, keccak256(code)) observation from a
// UserOperation's validation trace.
type CodeHash struct {
	Address common.Address
	Hash    common.Hash
}

// ReplacementUnderpriced is returned by Add when a same-(sender,nonce) UO
// exists and the incoming one does not out-bid it by the required margin.
type ReplacementUnderpriced struct {
	Sender common.Address
	Nonce  string
}

func (e *ReplacementUnderpriced) Error() string {
	return fmt.Sprintf("uopool: replacement underpriced for sender %s nonce %s", e.Sender, e.Nonce)
}

// replacementBumpPercent is the minimum percentage both fee fields of a
// replacement UO must exceed the existing one by (spec §4.5).
const replacementBumpPercent = 10

// entry is the pool's full bookkeeping record for one admitted UO.
type entry struct {
	op         *entity.UserOperation
	hash       common.Hash
	admittedAt time.Time
	codeHashes []CodeHash
}

// Pool is the mempool store: in-memory primary/secondary indices backed by
// a durable kv.Store, and a bounded code-hash cache for the bundling
// loop's hot-path "did this address's code change since admission" check.
type Pool struct {
	mu sync.RWMutex

	store kv.Store

	byHash        map[common.Hash]*entry
	bySenderNonce map[common.Address]map[string]common.Hash // sender -> nonce string -> hash
	bySender      map[common.Address]mapset.Set[common.Hash]
	byEntity      map[common.Address]mapset.Set[common.Hash]

	codeHashCache *fastcache.Cache
}

// New constructs a Pool over store, with an in-process code-hash cache
// sized cacheBytes (VictoriaMetrics/fastcache rounds this up internally).
func New(store kv.Store, cacheBytes int) *Pool {
	return &Pool{
		store:         store,
		byHash:        make(map[common.Hash]*entry),
		bySenderNonce: make(map[common.Address]map[string]common.Hash),
		bySender:      make(map[common.Address]mapset.Set[common.Hash]),
		byEntity:      make(map[common.Address]mapset.Set[common.Hash]),
		codeHashCache: fastcache.New(cacheBytes),
	}
}

func nonceKey(op *entity.UserOperation) string {
	if op.Nonce == nil {
		return "0"
	}
	return op.Nonce.String()
}

// Add inserts op, enforcing the (sender, nonce) replacement rule (I2):
// a same-(sender,nonce) UO is replaced only if both fee fields exceed the
// existing UO's by at least replacementBumpPercent%.
func (p *Pool) Add(op *entity.UserOperation, hash common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	nk := nonceKey(op)
	if bySender, ok := p.bySenderNonce[op.Sender]; ok {
		if existingHash, ok := bySender[nk]; ok {
			existing := p.byHash[existingHash]
			if !outBidsBy(op, existing.op, replacementBumpPercent) {
				return &ReplacementUnderpriced{Sender: op.Sender, Nonce: nk}
			}
			p.removeLocked(existingHash)
		}
	}

	e := &entry{op: op, hash: hash, admittedAt: time.Now()}
	p.byHash[hash] = e

	if p.bySenderNonce[op.Sender] == nil {
		p.bySenderNonce[op.Sender] = make(map[string]common.Hash)
	}
	p.bySenderNonce[op.Sender][nk] = hash
	p.indexEntity(p.bySender, op.Sender, hash)
	for role, addr := range op.Entities() {
		if role == entity.RoleSender {
			continue
		}
		p.indexEntity(p.byEntity, addr, hash)
	}

	if err := p.persistLocked(e); err != nil {
		log.Error("uopool: failed to persist UserOperation", "hash", hash, "err", err)
		return err
	}
	p.reportSizeLocked()
	return nil
}

// reportSizeLocked updates the per-entity mempool-size gauges; callers
// must already hold p.mu.
func (p *Pool) reportSizeLocked() {
	var bySender, byFactory, byPaymaster int
	for _, e := range p.byHash {
		bySender++
		if _, ok := e.op.Factory(); ok {
			byFactory++
		}
		if _, ok := e.op.Paymaster(); ok {
			byPaymaster++
		}
	}
	metrics.UpdateMempoolSize(len(p.byHash), bySender, byFactory, byPaymaster)
}

// outBidsBy reports whether incoming's fee fields each exceed existing's by
// at least percent% — scaled integer comparison to avoid floating point:
// incoming*100 >= existing*(100+percent).
func outBidsBy(incoming, existing *entity.UserOperation, percent int64) bool {
	bump := func(a, b *big.Int) bool {
		threshold := new(big.Int).Mul(b, big.NewInt(100+percent))
		scaled := new(big.Int).Mul(a, big.NewInt(100))
		return scaled.Cmp(threshold) >= 0
	}
	return bump(incoming.MaxFeePerGas, existing.MaxFeePerGas) && bump(incoming.MaxPriorityFeePerGas, existing.MaxPriorityFeePerGas)
}

func (p *Pool) indexEntity(idx map[common.Address]mapset.Set[common.Hash], addr common.Address, hash common.Hash) {
	set, ok := idx[addr]
	if !ok {
		set = mapset.NewSet[common.Hash]()
		idx[addr] = set
	}
	set.Add(hash)
}

func (p *Pool) persistLocked(e *entry) error {
	return p.store.Update(func(tx kv.Tx) error {
		data, err := e.op.MarshalJSON()
		if err != nil {
			return err
		}
		if err := tx.Put(kv.TableUserOperations, e.hash.Bytes(), data); err != nil {
			return err
		}
		if err := tx.Put(kv.TableUserOperationsBySender, senderIndexKey(e.op.Sender, e.hash), []byte{1}); err != nil {
			return err
		}
		for role, addr := range e.op.Entities() {
			if role == entity.RoleSender {
				continue
			}
			if err := tx.Put(kv.TableUserOperationsByEntity, entityIndexKey(addr, e.hash), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func senderIndexKey(sender common.Address, hash common.Hash) []byte {
	return append(append([]byte{}, sender.Bytes()...), hash.Bytes()...)
}

func entityIndexKey(addr common.Address, hash common.Hash) []byte {
	return append(append([]byte{}, addr.Bytes()...), hash.Bytes()...)
}

// Get returns the UO for hash, or (nil, false) if absent (I1: absence from
// byHash implies absence from every secondary index too).
func (p *Pool) Get(hash common.Hash) (*entity.UserOperation, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.op, true
}

// GetAll returns every admitted UO, in no particular order.
func (p *Pool) GetAll() []*entity.UserOperation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*entity.UserOperation, 0, len(p.byHash))
	for _, e := range p.byHash {
		out = append(out, e.op)
	}
	return out
}

// GetSorted returns a point-in-time snapshot of every admitted UO, sorted
// descending by effective priority fee at baseFee, ties broken by
// earliest admission (P5: a permutation of GetAll, non-increasing).
func (p *Pool) GetSorted(baseFee *big.Int) []*entity.UserOperation {
	p.mu.RLock()
	entries := make([]*entry, 0, len(p.byHash))
	for _, e := range p.byHash {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		fi := entries[i].op.EffectivePriorityFee(baseFee)
		fj := entries[j].op.EffectivePriorityFee(baseFee)
		if cmp := fi.Cmp(fj); cmp != 0 {
			return cmp > 0
		}
		return entries[i].admittedAt.Before(entries[j].admittedAt)
	})

	out := make([]*entity.UserOperation, len(entries))
	for i, e := range entries {
		out[i] = e.op
	}
	return out
}

// Remove deletes hash from every index, including its code-hash cache
// entry.
func (p *Pool) Remove(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
	p.reportSizeLocked()
}

func (p *Pool) removeLocked(hash common.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	delete(p.bySenderNonce[e.op.Sender], nonceKey(e.op))
	if set, ok := p.bySender[e.op.Sender]; ok {
		set.Remove(hash)
	}
	for role, addr := range e.op.Entities() {
		if role == entity.RoleSender {
			continue
		}
		if set, ok := p.byEntity[addr]; ok {
			set.Remove(hash)
		}
	}
	p.codeHashCache.Del(hash.Bytes())

	if err := p.store.Update(func(tx kv.Tx) error {
		if err := tx.Delete(kv.TableUserOperations, hash.Bytes()); err != nil {
			return err
		}
		if err := tx.Delete(kv.TableUserOperationsBySender, senderIndexKey(e.op.Sender, hash)); err != nil {
			return err
		}
		for role, addr := range e.op.Entities() {
			if role == entity.RoleSender {
				continue
			}
			if err := tx.Delete(kv.TableUserOperationsByEntity, entityIndexKey(addr, hash)); err != nil {
				return err
			}
		}
		return tx.Delete(kv.TableCodeHashes, hash.Bytes())
	}); err != nil {
		log.Error("uopool: failed to remove persisted UserOperation", "hash", hash, "err", err)
	}
}

// RemoveByEntity cascades: every UO referencing addr via sender, factory
// or paymaster is removed in one pass (P8, §4.5's ban-cascade). Reputation
// of the other entities on those UOs is deliberately left untouched by the
// pool; callers apply any reputation side effects separately.
func (p *Pool) RemoveByEntity(addr common.Address) {
	p.mu.Lock()
	hashes := mapset.NewSet[common.Hash]()
	if set, ok := p.bySender[addr]; ok {
		hashes = hashes.Union(set)
	}
	if set, ok := p.byEntity[addr]; ok {
		hashes = hashes.Union(set)
	}
	p.mu.Unlock()

	hashes.Each(func(h common.Hash) bool {
		p.Remove(h)
		return false
	})
}

// CountByEntity reports how many UserOperations currently in the pool name
// addr as sender or as any other entity role, used by the validator's stage
// S4 to enforce per-reputation-status mempool occupancy caps.
func (p *Pool) CountByEntity(addr common.Address) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	hashes := mapset.NewSet[common.Hash]()
	if set, ok := p.bySender[addr]; ok {
		hashes = hashes.Union(set)
	}
	if set, ok := p.byEntity[addr]; ok {
		hashes = hashes.Union(set)
	}
	return hashes.Cardinality()
}

// SetCodeHashes records the (address, code-hash) pairs observed while
// validating hash's UO, both in the hot-path cache and durably.
func (p *Pool) SetCodeHashes(hash common.Hash, hashes []CodeHash) error {
	p.mu.Lock()
	if e, ok := p.byHash[hash]; ok {
		e.codeHashes = hashes
	}
	p.mu.Unlock()

	p.codeHashCache.Set(hash.Bytes(), encodeCodeHashes(hashes))
	return p.store.Update(func(tx kv.Tx) error {
		return tx.Put(kv.TableCodeHashes, hash.Bytes(), encodeCodeHashes(hashes))
	})
}

// GetCodeHashes returns the code hashes recorded for hash, checking the
// bounded in-memory cache before falling back to the durable table.
func (p *Pool) GetCodeHashes(hash common.Hash) ([]CodeHash, error) {
	if cached, ok := p.codeHashCache.HasGet(nil, hash.Bytes()); ok {
		return decodeCodeHashes(cached), nil
	}
	var out []CodeHash
	err := p.store.View(func(tx kv.Tx) error {
		v, err := tx.Get(kv.TableCodeHashes, hash.Bytes())
		if err == kv.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out = decodeCodeHashes(v)
		return nil
	})
	return out, err
}

// ClearCodeHashes drops hash's recorded code hashes without removing the
// UO itself (used before re-recording a fresh trace on re-validation).
func (p *Pool) ClearCodeHashes(hash common.Hash) error {
	p.codeHashCache.Del(hash.Bytes())
	return p.store.Update(func(tx kv.Tx) error {
		return tx.Delete(kv.TableCodeHashes, hash.Bytes())
	})
}

const codeHashRecordLen = common.AddressLength + common.HashLength

func encodeCodeHashes(hashes []CodeHash) []byte {
	out := make([]byte, 0, len(hashes)*codeHashRecordLen)
	for _, ch := range hashes {
		out = append(out, ch.Address.Bytes()...)
		out = append(out, ch.Hash.Bytes()...)
	}
	return out
}

func decodeCodeHashes(data []byte) []CodeHash {
	var out []CodeHash
	for i := 0; i+codeHashRecordLen <= len(data); i += codeHashRecordLen {
		out = append(out, CodeHash{
			Address: common.BytesToAddress(data[i : i+common.AddressLength]),
			Hash:    common.BytesToHash(data[i+common.AddressLength : i+codeHashRecordLen]),
		})
	}
	return out
}

// Len returns the number of admitted UOs.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// Clear empties every index and the durable store, for
// debug_bundler_clearState.
func (p *Pool) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hash, e := range p.byHash {
		if err := p.store.Update(func(tx kv.Tx) error {
			if err := tx.Delete(kv.TableUserOperations, hash.Bytes()); err != nil {
				return err
			}
			if err := tx.Delete(kv.TableUserOperationsBySender, senderIndexKey(e.op.Sender, hash)); err != nil {
				return err
			}
			for role, addr := range e.op.Entities() {
				if role == entity.RoleSender {
					continue
				}
				if err := tx.Delete(kv.TableUserOperationsByEntity, entityIndexKey(addr, hash)); err != nil {
					return err
				}
			}
			return tx.Delete(kv.TableCodeHashes, hash.Bytes())
		}); err != nil {
			return err
		}
	}
	p.byHash = make(map[common.Hash]*entry)
	p.bySenderNonce = make(map[common.Address]map[string]common.Hash)
	p.bySender = make(map[common.Address]mapset.Set[common.Hash])
	p.byEntity = make(map[common.Address]mapset.Set[common.Hash])
	p.codeHashCache.Reset()
	p.reportSizeLocked()
	return nil
}

// Package reputation implements the per-entity throttle/ban policy of
// SPEC_FULL.md §4.3: moving-average seen/included counters, per-block
// aging, and the derived OK/THROTTLED/BANNED status used to gate mempool
// admission and validation.
//
// Grounded on other_examples' aiops-bundler reputation module (CheckStatus,
// IncOpsSeen, IncOpsIncluded, Override), adapted from its badger-backed
// Reputation type onto this module's kv.Store abstraction.
package reputation

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zsluedem/aa-bundler/kv"
)

// Status is the derived admission state of an entity.
type Status int

const (
	OK Status = iota
	Throttled
	Banned
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Throttled:
		return "throttled"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// Constants bundles the tunable thresholds from §4.3; defaults follow the
// mainnet profile unless overridden by config.
type Constants struct {
	MinInclusionRateDenominator uint64
	ThrottlingSlack             uint64
	BanSlack                    uint64
	MinStake                    *big.Int
	MinUnstakeDelaySec          uint64
}

// DefaultConstants returns the mainnet-profile thresholds named in
// SPEC_FULL.md §4.3.
func DefaultConstants() Constants {
	return Constants{
		MinInclusionRateDenominator: 10,
		ThrottlingSlack:             10,
		BanSlack:                    50,
		MinStake:                    big.NewInt(1e17),
		MinUnstakeDelaySec:          86400,
	}
}

// Entry is the persisted per-address reputation record (one entry per
// address, shared across whichever role(s) that address plays across
// different UserOperations — see DESIGN.md's Open Question resolution).
type Entry struct {
	Address     common.Address
	OpsSeen     uint64
	OpsIncluded uint64
	Whitelisted bool
	Blacklisted bool
}

// Status computes the entry's derived admission state. Pure function of
// the counters, thresholds and list membership — never itself persisted.
func (e Entry) Status(c Constants) Status {
	if e.Blacklisted {
		return Banned
	}
	if e.Whitelisted {
		return OK
	}
	minExpected := e.OpsSeen / c.MinInclusionRateDenominator
	if e.OpsSeen > minExpected+c.BanSlack+e.OpsIncluded {
		return Banned
	}
	if e.OpsSeen > minExpected+c.ThrottlingSlack+e.OpsIncluded {
		return Throttled
	}
	return OK
}

// StakeInfo mirrors the EntryPoint's per-entity deposit bookkeeping as
// returned by simulateValidation's senderInfo/factoryInfo/paymasterInfo.
type StakeInfo struct {
	Stake        *big.Int
	UnstakeDelay uint64
}

// IsStaked reports whether info meets c's stake and unstake-delay floor.
func (info StakeInfo) IsStaked(c Constants) bool {
	if info.Stake == nil {
		return false
	}
	return info.Stake.Cmp(c.MinStake) >= 0 && info.UnstakeDelay >= c.MinUnstakeDelaySec
}

// Manager is the single writer for reputation state: every write to an
// entry is one read-modify-write transaction, so counters and list
// membership never diverge across concurrent callers, and every write
// keeps I5 (opsSeen >= opsIncluded) by raising opsSeen to opsIncluded
// where the write would leave it below.
type Manager struct {
	store     kv.Store
	constants Constants
}

// New wires a Manager over store with the given thresholds.
func New(store kv.Store, constants Constants) *Manager {
	return &Manager{store: store, constants: constants}
}

// Constants returns the thresholds m was constructed with.
func (m *Manager) Constants() Constants { return m.constants }

func entryKey(addr common.Address) []byte { return addr.Bytes() }

func decodeEntry(addr common.Address, data []byte) Entry {
	e := Entry{Address: addr}
	if len(data) < 18 {
		return e
	}
	e.OpsSeen = beUint64(data[0:8])
	e.OpsIncluded = beUint64(data[8:16])
	e.Whitelisted = data[16] != 0
	e.Blacklisted = data[17] != 0
	return e
}

func encodeEntry(e Entry) []byte {
	out := make([]byte, 18)
	putUint64(out[0:8], e.OpsSeen)
	putUint64(out[8:16], e.OpsIncluded)
	if e.Whitelisted {
		out[16] = 1
	}
	if e.Blacklisted {
		out[17] = 1
	}
	return out
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// Get returns addr's entry, defaulting to a fresh zero-counter entry if
// none exists yet.
func (m *Manager) Get(addr common.Address) (Entry, error) {
	var e Entry
	err := m.store.View(func(tx kv.Tx) error {
		v, err := tx.Get(kv.TableEntitiesReputation, entryKey(addr))
		if err == kv.ErrNotFound {
			e = Entry{Address: addr}
			return nil
		}
		if err != nil {
			return err
		}
		e = decodeEntry(addr, v)
		return nil
	})
	return e, err
}

// GetAll returns every entry with a persisted record (whitelist/blacklist
// entries and any address that has ever been seen).
func (m *Manager) GetAll() ([]Entry, error) {
	var entries []Entry
	err := m.store.View(func(tx kv.Tx) error {
		return tx.Iterate(kv.TableEntitiesReputation, nil, func(key, value []byte) (bool, error) {
			entries = append(entries, decodeEntry(common.BytesToAddress(key), value))
			return true, nil
		})
	})
	return entries, err
}

func (m *Manager) mutate(addr common.Address, fn func(*Entry)) error {
	return m.store.Update(func(tx kv.Tx) error {
		v, err := tx.Get(kv.TableEntitiesReputation, entryKey(addr))
		var e Entry
		if err == kv.ErrNotFound {
			e = Entry{Address: addr}
		} else if err != nil {
			return err
		} else {
			e = decodeEntry(addr, v)
		}
		fn(&e)
		if e.OpsSeen < e.OpsIncluded {
			e.OpsSeen = e.OpsIncluded
		}
		return tx.Put(kv.TableEntitiesReputation, entryKey(addr), encodeEntry(e))
	})
}

// IncrementSeen bumps addr's opsSeen, called once per entity role on every
// UserOperation admitted to the mempool.
func (m *Manager) IncrementSeen(addr common.Address) error {
	return m.mutate(addr, func(e *Entry) { e.OpsSeen++ })
}

// IncrementIncluded bumps addr's opsIncluded, called once per entity role
// after a bundle containing its UserOperation lands on-chain.
func (m *Manager) IncrementIncluded(addr common.Address) error {
	return m.mutate(addr, func(e *Entry) { e.OpsIncluded++ })
}

// SetReputation overwrites addr's counters directly (debug/admin surface).
func (m *Manager) SetReputation(addr common.Address, seen, included uint64) error {
	return m.mutate(addr, func(e *Entry) {
		e.OpsSeen = seen
		e.OpsIncluded = included
	})
}

// AddWhitelist/AddBlacklist toggle list membership; Blacklisted always
// wins Entry.Status regardless of Whitelisted, matching §4.3.
func (m *Manager) AddWhitelist(addr common.Address) error {
	return m.mutate(addr, func(e *Entry) { e.Whitelisted = true })
}

func (m *Manager) AddBlacklist(addr common.Address) error {
	return m.mutate(addr, func(e *Entry) { e.Blacklisted = true })
}

// VerifyStake checks a simulated entity's on-chain stake against the
// policy; role is used only for the returned error's context.
func (m *Manager) VerifyStake(role string, info StakeInfo) error {
	if info.IsStaked(m.constants) {
		return nil
	}
	return &StakeError{Role: role, Info: info, Required: m.constants.MinStake}
}

// lastAgedBlockKey is the TableMeta key under which AgeOnBlock persists the
// highest block number it has already aged for.
var lastAgedBlockKey = []byte("last_aged_block")

// AgeOnBlock runs ApplyBlockAging at most once per block number, the
// monotonic counter spec §5 requires ("a monotonic block-number counter
// prevents double-aging"). The counter is persisted in TableMeta rather
// than held in the caller, so it stays correct across a resubscription
// replaying an already-seen head, multiple Bundlers sharing this Manager
// across EntryPoints, and a process restart.
func (m *Manager) AgeOnBlock(number uint64) error {
	var shouldAge bool
	err := m.store.Update(func(tx kv.Tx) error {
		last, err := readLastAgedBlock(tx)
		if err != nil {
			return err
		}
		if number <= last {
			return nil
		}
		shouldAge = true
		return tx.Put(kv.TableMeta, lastAgedBlockKey, encodeUint64(number))
	})
	if err != nil || !shouldAge {
		return err
	}
	return m.ApplyBlockAging()
}

func readLastAgedBlock(tx kv.Tx) (uint64, error) {
	v, err := tx.Get(kv.TableMeta, lastAgedBlockKey)
	if err == kv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(v), nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// ApplyBlockAging runs once per new block observed: opsSeen and
// opsIncluded both decay by 1/24th (integer division, floors at 0), giving
// roughly an hourly half-life at 12s blocks.
func (m *Manager) ApplyBlockAging() error {
	return m.store.Update(func(tx kv.Tx) error {
		var entries []Entry
		if err := tx.Iterate(kv.TableEntitiesReputation, nil, func(key, value []byte) (bool, error) {
			entries = append(entries, decodeEntry(common.BytesToAddress(key), value))
			return true, nil
		}); err != nil {
			return err
		}
		for _, e := range entries {
			e.OpsSeen -= e.OpsSeen / 24
			e.OpsIncluded -= e.OpsIncluded / 24
			if err := tx.Put(kv.TableEntitiesReputation, entryKey(e.Address), encodeEntry(e)); err != nil {
				return err
			}
		}
		log.Debug("reputation: applied per-block aging", "entries", len(entries))
		return nil
	})
}

// Clear deletes every persisted entry, for debug_bundler_clearState.
func (m *Manager) Clear() error {
	entries, err := m.GetAll()
	if err != nil {
		return err
	}
	return m.store.Update(func(tx kv.Tx) error {
		for _, e := range entries {
			if err := tx.Delete(kv.TableEntitiesReputation, entryKey(e.Address)); err != nil {
				return err
			}
		}
		return nil
	})
}

// StakeError reports an entity that failed the stake/unstake-delay policy.
type StakeError struct {
	Role     string
	Info     StakeInfo
	Required *big.Int
}

func (e *StakeError) Error() string {
	return "reputation: " + e.Role + " does not meet minimum stake requirement"
}

// Package kv abstracts the bundler's persisted state as a small set of
// named, byte-ordered tables with transactional read/write, following the
// shape of go-ethereum's ethdb key-value store but generalized to typed
// tables instead of a single flat keyspace (see spec §4.1, §9).
//
// Two backings satisfy Store: Memory (pure in-memory, lock-guarded) and
// LevelDB (durable across restart, backed by github.com/syndtr/goleveldb —
// the same engine go-ethereum historically used for chaindata). The core
// never assumes more than byte-lexicographic key ordering within a table.
package kv

import "errors"

// ErrNotFound is returned by Tx.Get when the key is absent from the table.
var ErrNotFound = errors.New("kv: key not found")

// errNotWritable is returned by Put/Delete/Clear on a read-only (View) Tx.
var errNotWritable = errors.New("kv: write attempted on a read-only transaction")

// Table names one of the persisted tables. See SPEC_FULL.md §6 "Persisted
// state layout" for the canonical set used by uopool and reputation.
type Table string

const (
	TableUserOperations         Table = "user_operations"
	TableUserOperationsBySender Table = "user_operations_by_sender"
	TableUserOperationsByEntity Table = "user_operations_by_entity"
	TableCodeHashes             Table = "code_hashes"
	TableEntitiesReputation     Table = "entities_reputation"
	TableMeta                   Table = "meta"
)

// AllTables lists every table a Store implementation must support,
// independent of which ones a given component actually touches.
var AllTables = []Table{
	TableUserOperations,
	TableUserOperationsBySender,
	TableUserOperationsByEntity,
	TableCodeHashes,
	TableEntitiesReputation,
	TableMeta,
}

// Store is the top-level KVStore capability. All mutation happens through
// Update, whose closure's writes commit as one unit or are rolled back
// entirely — there is no way to observe a partial write set.
type Store interface {
	// View runs fn against a read-only, point-in-time snapshot. Whether a
	// concurrent Update waits for a View depends on the backing: Memory
	// serializes Updates against Views.
	View(fn func(Tx) error) error

	// Update runs fn against a read-write transaction. If fn returns a
	// non-nil error, every write fn made is discarded; otherwise they
	// commit atomically.
	Update(fn func(Tx) error) error

	// Close releases any underlying resources (file handles, etc).
	Close() error
}

// Tx is the per-transaction view over every table.
type Tx interface {
	// Get returns ErrNotFound if key is absent from table.
	Get(table Table, key []byte) ([]byte, error)

	// Put is only valid inside an Update transaction; View transactions
	// return an error if called.
	Put(table Table, key, value []byte) error

	// Delete is a no-op if key is absent. Only valid inside Update.
	Delete(table Table, key []byte) error

	// Iterate calls fn for every key in table with the given prefix, in
	// byte-lexicographic key order. fn returns (continue, error); iteration
	// stops on the first false or error.
	Iterate(table Table, prefix []byte, fn func(key, value []byte) (bool, error)) error

	// Clear removes every key in table. Only valid inside Update.
	Clear(table Table) error
}

package kv

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// tableSeparator keeps table keyspaces from colliding inside goleveldb's
// single flat keyspace: every stored key is "<table>\x00<key>".
const tableSeparator = 0x00

func tableKey(table Table, key []byte) []byte {
	out := make([]byte, 0, len(table)+1+len(key))
	out = append(out, table...)
	out = append(out, tableSeparator)
	out = append(out, key...)
	return out
}

// LevelDB is the durable Store backing, wrapping github.com/syndtr/goleveldb
// the way go-ethereum's ethdb/leveldb package wraps it for chaindata: one
// physical database, tables multiplexed by key prefix.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a durable store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Close() error { return l.db.Close() }

func (l *LevelDB) View(fn func(Tx) error) error {
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	return fn(&levelTx{reader: snap})
}

func (l *LevelDB) Update(fn func(Tx) error) error {
	tx, err := l.db.OpenTransaction()
	if err != nil {
		return err
	}
	if err := fn(&levelTx{reader: tx, writer: tx}); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// levelReader is the subset of *leveldb.Snapshot / *leveldb.Transaction
// used for reads.
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(rng *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// levelWriter is the subset used for writes; only populated on an Update
// transaction, nil on a View snapshot.
type levelWriter interface {
	Put(key, value []byte, wo *opt.WriteOptions) error
	Delete(key []byte, wo *opt.WriteOptions) error
}

type levelTx struct {
	reader levelReader
	writer levelWriter
}

func (tx *levelTx) Get(table Table, key []byte) ([]byte, error) {
	v, err := tx.reader.Get(tableKey(table, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (tx *levelTx) Put(table Table, key, value []byte) error {
	if tx.writer == nil {
		return errNotWritable
	}
	return tx.writer.Put(tableKey(table, key), value, nil)
}

func (tx *levelTx) Delete(table Table, key []byte) error {
	if tx.writer == nil {
		return errNotWritable
	}
	return tx.writer.Delete(tableKey(table, key), nil)
}

func (tx *levelTx) Clear(table Table) error {
	if tx.writer == nil {
		return errNotWritable
	}
	var keys [][]byte
	if err := tx.Iterate(table, nil, func(key, _ []byte) (bool, error) {
		cp := make([]byte, len(key))
		copy(cp, key)
		keys = append(keys, cp)
		return true, nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.writer.Delete(tableKey(table, k), nil); err != nil {
			return err
		}
	}
	return nil
}

func (tx *levelTx) Iterate(table Table, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	fullPrefix := tableKey(table, prefix)
	it := tx.reader.NewIterator(util.BytesPrefix(fullPrefix), nil)
	defer it.Release()

	tableKeyLen := len(table) + 1
	for it.Next() {
		key := it.Key()[tableKeyLen:]
		cont, err := fn(key, it.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return it.Error()
}

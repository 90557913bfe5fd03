package kv

import (
	"bytes"
	"sort"
	"sync"
)

// Memory is a pure in-memory Store: one map per table, guarded by a single
// store-wide RWMutex so that Update transactions are mutually exclusive
// with each other and with View snapshots, while Views run concurrently.
// There is nothing to persist across restart; see LevelDB for the durable
// backing.
type Memory struct {
	mu     sync.RWMutex
	tables map[Table]map[string][]byte
}

// NewMemory returns an empty Memory store with all AllTables pre-created.
func NewMemory() *Memory {
	m := &Memory{tables: make(map[Table]map[string][]byte)}
	for _, t := range AllTables {
		m.tables[t] = make(map[string][]byte)
	}
	return m
}

func (m *Memory) View(fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{store: m})
}

// Update stages every write in-memory and only applies it to the store's
// tables if fn returns nil, so a mid-transaction error leaves the store
// untouched.
func (m *Memory) Update(fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &memTx{
		store:    m,
		writable: true,
		puts:     make(map[Table]map[string][]byte),
		deletes:  make(map[Table]map[string]bool),
		cleared:  make(map[Table]bool),
	}
	if err := fn(staged); err != nil {
		return err
	}
	staged.commit()
	return nil
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	store    *Memory
	writable bool

	puts    map[Table]map[string][]byte
	deletes map[Table]map[string]bool
	cleared map[Table]bool
}

func (tx *memTx) Get(table Table, key []byte) ([]byte, error) {
	k := string(key)
	if tx.writable {
		if tx.cleared[table] {
			if v, ok := tx.puts[table][k]; ok {
				return v, nil
			}
			return nil, ErrNotFound
		}
		if tx.deletes[table] != nil && tx.deletes[table][k] {
			return nil, ErrNotFound
		}
		if v, ok := tx.puts[table][k]; ok {
			return v, nil
		}
	}
	v, ok := tx.store.tables[table][k]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (tx *memTx) Put(table Table, key, value []byte) error {
	if !tx.writable {
		return errNotWritable
	}
	if tx.puts[table] == nil {
		tx.puts[table] = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	tx.puts[table][string(key)] = cp
	if tx.deletes[table] != nil {
		delete(tx.deletes[table], string(key))
	}
	return nil
}

func (tx *memTx) Delete(table Table, key []byte) error {
	if !tx.writable {
		return errNotWritable
	}
	if tx.deletes[table] == nil {
		tx.deletes[table] = make(map[string]bool)
	}
	tx.deletes[table][string(key)] = true
	if tx.puts[table] != nil {
		delete(tx.puts[table], string(key))
	}
	return nil
}

func (tx *memTx) Clear(table Table) error {
	if !tx.writable {
		return errNotWritable
	}
	tx.cleared[table] = true
	tx.puts[table] = make(map[string][]byte)
	tx.deletes[table] = make(map[string]bool)
	return nil
}

func (tx *memTx) Iterate(table Table, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	merged := make(map[string][]byte)
	if !tx.writable || !tx.cleared[table] {
		for k, v := range tx.store.tables[table] {
			if bytes.HasPrefix([]byte(k), prefix) {
				merged[k] = v
			}
		}
	}
	if tx.writable {
		for k := range tx.deletes[table] {
			delete(merged, k)
		}
		for k, v := range tx.puts[table] {
			if bytes.HasPrefix([]byte(k), prefix) {
				merged[k] = v
			}
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		cont, err := fn([]byte(k), merged[k])
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

// commit applies every staged write to the underlying tables. Called only
// after fn has returned nil, under the store's write lock.
func (tx *memTx) commit() {
	for table, cleared := range tx.cleared {
		if cleared {
			tx.store.tables[table] = make(map[string][]byte)
		}
	}
	for table, dels := range tx.deletes {
		for k := range dels {
			delete(tx.store.tables[table], k)
		}
	}
	for table, puts := range tx.puts {
		for k, v := range puts {
			tx.store.tables[table][k] = v
		}
	}
}

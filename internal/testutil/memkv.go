// Package testutil provides in-memory implementations of store interfaces
// for use in tests across the module. Never import this in production code.
package testutil

import (
	"strings"
	"sync"

	"github.com/prisma-node/prisma/store"
)

// MemKV is a thread-safe in-memory store.KV for tests.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKV creates an empty MemKV.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemKV) NewIterator(prefix []byte) store.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	var pairs []memKVPair
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			cp := make([]byte, len(v))
			copy(cp, v)
			pairs = append(pairs, memKVPair{k: k, v: cp})
		}
	}
	sortPairs(pairs)
	return &memKVIter{pairs: pairs, idx: -1}
}

func (m *MemKV) NewBatch() store.Batch {
	return &memKVBatch{db: m}
}

func (m *MemKV) Close() error { return nil }

// NewStore wraps a fresh MemKV as a *store.Store, the usual test fixture.
func NewStore() *store.Store {
	return store.New(NewMemKV())
}

type memKVPair struct {
	k string
	v []byte
}

func sortPairs(pairs []memKVPair) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].k > pairs[j].k; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
}

type memKVIter struct {
	pairs []memKVPair
	idx   int
}

func (it *memKVIter) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *memKVIter) Key() []byte   { return []byte(it.pairs[it.idx].k) }
func (it *memKVIter) Value() []byte { return it.pairs[it.idx].v }
func (it *memKVIter) Release()      {}
func (it *memKVIter) Error() error  { return nil }

type memKVBatch struct {
	db  *MemKV
	ops []memKVOp
}

type memKVOp struct {
	key   string
	value []byte // nil means delete
}

func (b *memKVBatch) Set(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, memKVOp{string(key), cp})
}

func (b *memKVBatch) Delete(key []byte) {
	b.ops = append(b.ops, memKVOp{string(key), nil})
}

func (b *memKVBatch) Reset() { b.ops = nil }

func (b *memKVBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.db.data, op.key)
		} else {
			b.db.data[op.key] = op.value
		}
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"
)

// Collection names a logical document set sharing the same key space.
type Collection string

const (
	CollEvents       Collection = "events"
	CollRounds       Collection = "rounds"
	CollCanSee       Collection = "can_see"
	CollHeight       Collection = "height"
	CollHead         Collection = "head"
	CollPeers        Collection = "peers"
	CollWitness      Collection = "witness"
	CollFamous       Collection = "famous"
	CollVotes        Collection = "votes"
	CollTransactions Collection = "transactions"
	CollConsensus    Collection = "consensus"
	CollSignature    Collection = "signature"
	CollState        Collection = "state"
)

// Store layers named collections over a single KV, giving every document a
// key of the form "<collection>:<key>". Higher-level packages (hashgraph,
// checkpoint, txn) own the document shapes and (de)serialize through Store's
// byte-level Get/Put/Delete/Iterate/Batch so this package stays free of any
// consensus-domain type.
type Store struct {
	kv KV
}

// New wraps kv as a collection-namespaced Store.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

func docKey(c Collection, key string) []byte {
	return []byte(string(c) + ":" + key)
}

// Get fetches the raw document at key within collection c. Returns
// ErrNotFound if absent.
func (s *Store) Get(c Collection, key string) ([]byte, error) {
	return s.kv.Get(docKey(c, key))
}

// GetJSON fetches and unmarshals the document at key within c into out.
func (s *Store) GetJSON(c Collection, key string, out any) error {
	data, err := s.Get(c, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %v", ErrStorageFault, c, key, err)
	}
	return nil
}

// Put writes a raw document at key within collection c.
func (s *Store) Put(c Collection, key string, value []byte) error {
	return s.kv.Set(docKey(c, key), value)
}

// PutJSON marshals v and writes it at key within collection c.
func (s *Store) PutJSON(c Collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", ErrStorageFault, c, key, err)
	}
	return s.Put(c, key, data)
}

// Delete removes the document at key within collection c.
func (s *Store) Delete(c Collection, key string) error {
	return s.kv.Delete(docKey(c, key))
}

// Has reports whether a document exists at key within collection c.
func (s *Store) Has(c Collection, key string) (bool, error) {
	_, err := s.Get(c, key)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

// Iterate walks every document in collection c in key order.
func (s *Store) Iterate(c Collection) *CollectionIterator {
	return s.IteratePrefix(c, "")
}

// IteratePrefix walks every document in collection c whose key starts with
// keyPrefix, in key order. Used for composite keys such as witness's
// "<round>:<creator>" to enumerate all witnesses of one round.
func (s *Store) IteratePrefix(c Collection, keyPrefix string) *CollectionIterator {
	full := string(c) + ":" + keyPrefix
	return &CollectionIterator{it: s.kv.NewIterator([]byte(full)), prefixLen: len(c) + 1}
}

// CollectionIterator strips the collection prefix from keys as it walks.
type CollectionIterator struct {
	it        Iterator
	prefixLen int
}

func (i *CollectionIterator) Next() bool    { return i.it.Next() }
func (i *CollectionIterator) Key() string   { return string(i.it.Key()[i.prefixLen:]) }
func (i *CollectionIterator) Value() []byte { return i.it.Value() }
func (i *CollectionIterator) Release()      { i.it.Release() }
func (i *CollectionIterator) Error() error  { return i.it.Error() }

// WriteBatch is an atomic multi-collection write buffer.
type WriteBatch struct {
	b Batch
}

// NewBatch starts a new atomic batch.
func (s *Store) NewBatch() *WriteBatch {
	return &WriteBatch{b: s.kv.NewBatch()}
}

// Set stages a raw write within the batch.
func (wb *WriteBatch) Set(c Collection, key string, value []byte) {
	wb.b.Set(docKey(c, key), value)
}

// SetJSON stages a marshaled write within the batch.
func (wb *WriteBatch) SetJSON(c Collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", ErrStorageFault, c, key, err)
	}
	wb.Set(c, key, data)
	return nil
}

// Delete stages a delete within the batch.
func (wb *WriteBatch) Delete(c Collection, key string) {
	wb.b.Delete(docKey(c, key))
}

// Commit applies all staged operations atomically.
func (wb *WriteBatch) Commit() error {
	return wb.b.Write()
}

// Close releases the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

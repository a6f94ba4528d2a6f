// Package store provides the durable collection abstraction the hashgraph
// engine is built on: a generic key-value store layered into the node's
// named collections (events, rounds, can_see, height, head, peers, witness,
// famous, votes, transactions, consensus, signature, state).
package store

import "errors"

// ErrNotFound is returned when a lookup finds no document. It is a legal,
// expected outcome for most collection reads (e.g. "no witness recorded for
// this round yet") and callers must not treat it as fatal.
var ErrNotFound = errors.New("store: not found")

// ErrStorageFault is returned when a read or write fails for a reason other
// than absence: a decode failure, a disk error, a corrupted record. Because
// round/witness/fame/order state is intertwined, a storage fault partway
// through a mutation can desynchronize the DAG, so callers must treat this
// as fatal rather than retry or ignore it.
var ErrStorageFault = errors.New("store: storage fault")

// Batch is an atomic write buffer; operations apply together on Write or are
// discarded together on error.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
}

// KV is the generic key-value store interface collections are built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs matching a prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

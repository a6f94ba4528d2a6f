// Package indexer maintains a secondary index over ordered money transfers
// so the admin API can answer per-address history queries without scanning
// the full transaction log.
package indexer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/prisma-node/prisma/events"
	"github.com/prisma-node/prisma/store"
)

// collIndex is the indexer's own key space inside the shared store.
const collIndex store.Collection = "index"

// Entry is one indexed transfer touching an address.
type Entry struct {
	Round     int    `json:"round"`
	Hash      string `json:"hash"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// Indexer subscribes to ordering events and updates per-address lookup
// tables. Entries below a finalized checkpoint are dropped along with the
// transaction log they mirror.
type Indexer struct {
	st  *store.Store
	log *slog.Logger
}

// New creates an Indexer backed by st and subscribes it to em.
func New(st *store.Store, em *events.Emitter) *Indexer {
	idx := &Indexer{st: st, log: slog.Default().With("component", "indexer")}
	em.Subscribe(events.EventTxOrdered, idx.onTxOrdered)
	em.Subscribe(events.EventStateFinalized, idx.onStateFinalized)
	return idx
}

func addrKey(address string, round int, hash string) string {
	return fmt.Sprintf("addr:%s:%020d:%s", address, round, hash)
}

func (i *Indexer) onTxOrdered(ev events.Event) {
	entry := Entry{Round: ev.Round}
	if s, ok := ev.Data["sender"].(string); ok {
		entry.Sender = s
	}
	if r, ok := ev.Data["recipient"].(string); ok {
		entry.Recipient = r
	}
	if a, ok := ev.Data["amount"].(uint64); ok {
		entry.Amount = a
	}
	if h, ok := ev.Data["hash"].(string); ok {
		entry.Hash = h
	}
	for _, addr := range []string{entry.Sender, entry.Recipient} {
		if addr == "" {
			continue
		}
		if err := i.st.PutJSON(collIndex, addrKey(addr, entry.Round, entry.Hash), &entry); err != nil {
			i.log.Error("index ordered transfer", "address", addr, "err", err)
		}
	}
}

func (i *Indexer) onStateFinalized(ev events.Event) {
	it := i.st.Iterate(collIndex)
	var toDelete []string
	for it.Next() {
		var entry Entry
		if err := json.Unmarshal(it.Value(), &entry); err != nil {
			continue
		}
		if entry.Round <= ev.Round {
			toDelete = append(toDelete, it.Key())
		}
	}
	it.Release()
	for _, key := range toDelete {
		if err := i.st.Delete(collIndex, key); err != nil {
			i.log.Error("prune index entry", "key", key, "err", err)
		}
	}
}

// TransfersByAddress returns every indexed transfer touching address since
// the last finalized checkpoint, oldest round first.
func (i *Indexer) TransfersByAddress(address string) ([]Entry, error) {
	it := i.st.IteratePrefix(collIndex, "addr:"+address+":")
	var out []Entry
	for it.Next() {
		var entry Entry
		if err := json.Unmarshal(it.Value(), &entry); err != nil {
			it.Release()
			return nil, fmt.Errorf("indexer: decode entry %s: %w", it.Key(), err)
		}
		out = append(out, entry)
	}
	it.Release()
	sort.Slice(out, func(a, b int) bool { return out[a].Round < out[b].Round })
	return out, nil
}

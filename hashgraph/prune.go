package hashgraph

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/prisma-node/prisma/store"
)

// ConsensusRoundsAbove returns up to limit consensus round numbers greater
// than round, ascending. checkpoint.Manager uses this to find the next
// checkpoint window. limit <= 0 means no limit.
func (e *Engine) ConsensusRoundsAbove(round, limit int) []int {
	var rounds []int
	it := e.st.Iterate(store.CollConsensus)
	for it.Next() {
		if n, err := strconv.Atoi(it.Key()); err == nil && n > round {
			rounds = append(rounds, n)
		}
	}
	it.Release()
	sort.Ints(rounds)
	if limit > 0 && len(rounds) > limit {
		rounds = rounds[:limit]
	}
	return rounds
}

// PruneUpTo discards every DAG collection entry (events, can_see, votes,
// height, famous, rounds, witnesses, consensus markers) with round <=
// round. Once a checkpoint finalizes at this boundary the pruned metadata
// can never again affect consensus. Validate rejects a remote event whose
// parent was pruned here with ErrParentMissing; it does not accept a
// missing parent on the grounds of its round.
func (e *Engine) PruneUpTo(round int) error {
	var toDelete []EventID
	it := e.st.Iterate(store.CollRounds)
	for it.Next() {
		r, err := strconv.Atoi(string(it.Value()))
		if err != nil {
			continue
		}
		if r <= round {
			toDelete = append(toDelete, EventID(it.Key()))
		}
	}
	it.Release()

	batch := e.st.NewBatch()
	for _, id := range toDelete {
		batch.Delete(store.CollEvents, string(id))
		batch.Delete(store.CollCanSee, string(id))
		batch.Delete(store.CollVotes, string(id))
		batch.Delete(store.CollHeight, string(id))
		batch.Delete(store.CollFamous, string(id))
		batch.Delete(store.CollRounds, string(id))
		e.removeTBD(id)
	}

	witIt := e.st.Iterate(store.CollWitness)
	for witIt.Next() {
		var r int
		if _, err := fmt.Sscanf(witIt.Key(), "%020d:", &r); err == nil && r <= round {
			batch.Delete(store.CollWitness, witIt.Key())
		}
	}
	witIt.Release()

	consIt := e.st.Iterate(store.CollConsensus)
	for consIt.Next() {
		if n, err := strconv.Atoi(consIt.Key()); err == nil && n <= round {
			batch.Delete(store.CollConsensus, consIt.Key())
		}
	}
	consIt.Release()

	return batch.Commit()
}

// Reset drops every DAG collection entry unconditionally, clears the head
// pointer (it would otherwise dangle at a discarded event), and empties the
// in-memory tbd set. Used by the cold-start sync path when a node discards
// its local DAG in favor of a peer's signed-state chain; the caller
// re-creates a root event afterwards.
func (e *Engine) Reset() error {
	if err := e.PruneUpTo(1 << 30); err != nil {
		return err
	}
	if err := e.st.Delete(store.CollHead, "self"); err != nil && err != store.ErrNotFound {
		return err
	}
	e.mu.Lock()
	e.tbd = make(map[EventID]struct{})
	e.mu.Unlock()
	return nil
}

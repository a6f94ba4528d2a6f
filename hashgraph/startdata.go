package hashgraph

import (
	"fmt"
	"strconv"

	"github.com/prisma-node/prisma/store"
)

// StartData is the DAG bootstrap payload a cold-starting node receives
// alongside a signed-state chain: just enough round/height/witness
// bookkeeping to resume live sync from the chain's tip without replaying
// every event since genesis.
type StartData struct {
	Rounds    map[string]int   `json:"rounds"`    // event id -> round
	Heights   map[string]int   `json:"heights"`   // event id -> height
	Witnesses map[int][]string `json:"witnesses"` // round -> witness event ids
}

// ExportStartData builds the bootstrap payload a peer behind the given
// round needs: every known round/height assignment, plus the witnesses of
// round and round-1, the two rounds a fresh node needs to keep deciding
// fame forward from.
func (e *Engine) ExportStartData(round int) (StartData, error) {
	snap := StartData{
		Rounds:    make(map[string]int),
		Heights:   make(map[string]int),
		Witnesses: make(map[int][]string),
	}

	rIt := e.st.Iterate(store.CollRounds)
	for rIt.Next() {
		n, err := strconv.Atoi(string(rIt.Value()))
		if err != nil {
			continue
		}
		snap.Rounds[rIt.Key()] = n
	}
	rIt.Release()

	hIt := e.st.Iterate(store.CollHeight)
	for hIt.Next() {
		n, err := strconv.Atoi(string(hIt.Value()))
		if err != nil {
			continue
		}
		snap.Heights[hIt.Key()] = n
	}
	hIt.Release()

	for _, r := range []int{round, round - 1} {
		var ids []string
		for _, id := range e.listWitnesses(r) {
			ids = append(ids, string(id))
		}
		snap.Witnesses[r] = ids
	}
	return snap, nil
}

// ImportStartData seeds a freshly-reset engine with a peer's bootstrap
// payload and marks lastStateRound as the newest finalized checkpoint, so
// live sync resumes from there.
func (e *Engine) ImportStartData(snap StartData, lastStateRound int) error {
	batch := e.st.NewBatch()
	for id, r := range snap.Rounds {
		batch.Set(store.CollRounds, id, []byte(strconv.Itoa(r)))
	}
	for id, h := range snap.Heights {
		batch.Set(store.CollHeight, id, []byte(strconv.Itoa(h)))
	}
	for round, ids := range snap.Witnesses {
		for _, id := range ids {
			creator, err := e.creatorOf(EventID(id), snap)
			if err != nil {
				return err
			}
			batch.Set(store.CollWitness, witnessKey(round, creator), []byte(id))
		}
	}
	if err := batch.SetJSON(store.CollConsensus, strconv.Itoa(lastStateRound), true); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("import start data: %w", err)
	}

	e.mu.Lock()
	e.lastSignedState = lastStateRound
	e.mu.Unlock()
	return nil
}

// creatorOf resolves a witness event's creator from the events collection
// if already present locally, falling back to the event id itself as a
// stable (if opaque) witness-table key when the event body has not arrived
// yet — the key is only ever used to keep at most one witness per creator
// per round, so collisions only cost a redundant witness entry.
func (e *Engine) creatorOf(id EventID, _ StartData) (string, error) {
	ev, err := e.getEvent(id)
	if err != nil {
		if err == store.ErrNotFound {
			return string(id), nil
		}
		return "", err
	}
	return ev.CreatorPubKey, nil
}

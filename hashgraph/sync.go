package hashgraph

import (
	"encoding/json"
	"errors"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/store"
)

// Has reports whether id is already known locally, used by the sync path to
// avoid re-requesting or re-validating an event it already stores.
func (e *Engine) Has(id EventID) bool {
	return e.hasEvent(id)
}

// SignDetached signs data with this engine's creator key, returning the hex
// detached signature. The gossip layer uses it to authenticate the can-see
// summaries and event subsets it puts on the wire.
func (e *Engine) SignDetached(data []byte) string {
	return crypto.Sign(e.priv, data)
}

// LatestEventTime returns the largest timestamp among all stored events, or
// 0 if none exist. Outbound get_peers and get_events requests carry it as
// latest_event; the receiving side does not use it to decide anything.
func (e *Engine) LatestEventTime() float64 {
	var max float64
	it := e.st.Iterate(store.CollEvents)
	for it.Next() {
		var ev Event
		if err := json.Unmarshal(it.Value(), &ev); err != nil {
			continue
		}
		if ev.Timestamp > max {
			max = ev.Timestamp
		}
	}
	it.Release()
	return max
}

// HeadCanSee returns this engine's head event id together with its can_see
// map flattened to creator pubkey hex -> highest known height: the summary
// a node sends a peer instead of its full DAG when requesting events.
func (e *Engine) HeadCanSee() (EventID, map[string]int, error) {
	head, err := e.getHead()
	if err != nil {
		if err == store.ErrNotFound {
			return "", nil, nil
		}
		return "", nil, err
	}
	cs, err := e.getCanSee(head)
	if err != nil {
		return "", nil, err
	}
	heights := make(map[string]int, len(cs))
	for creator, id := range cs {
		h, err := e.getHeight(id)
		if err != nil {
			return "", nil, err
		}
		heights[creator] = h
	}
	return head, heights, nil
}

// SyncSubset walks back from this engine's head over parents, collecting
// every event the remote peer's can_see summary does not already cover:
// a parent is descended into unless its creator appears in the summary at
// a height at or above the parent's own.
func (e *Engine) SyncSubset(remoteCanSee map[string]int) (map[EventID]*Event, error) {
	head, err := e.getHead()
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	visited := make(map[EventID]bool)
	subset := make(map[EventID]*Event)
	queue := []EventID{head}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		ev, err := e.getEvent(cur)
		if err != nil {
			return nil, err
		}
		subset[cur] = ev
		if ev.IsRoot() {
			continue
		}
		for _, p := range ev.Parents {
			if visited[p] {
				continue
			}
			pEv, err := e.getEvent(p)
			if err != nil {
				if err == store.ErrNotFound {
					continue // pruned below a finalized checkpoint
				}
				return nil, err
			}
			knownHeight, known := remoteCanSee[pEv.CreatorPubKey]
			if known {
				h, err := e.getHeight(p)
				if err != nil {
					return nil, err
				}
				if h <= knownHeight {
					continue
				}
			}
			queue = append(queue, p)
		}
	}
	return subset, nil
}

// InsertRemoteEvents topologically inserts a peer-supplied event set
// (parents before children), validating each before insertion, and returns
// the newly inserted ids in insertion order, ready for DivideRounds. Events
// already known locally are skipped; events that fail validation are logged
// and dropped without aborting the batch — the sender may resend them later
// with their parents.
func (e *Engine) InsertRemoteEvents(events map[EventID]*Event) ([]EventID, error) {
	pending := make(map[EventID]*Event, len(events))
	for id, ev := range events {
		if !e.hasEvent(id) {
			pending[id] = ev
		}
	}

	var inserted []EventID
	for len(pending) > 0 {
		progressed := false
		for id, ev := range pending {
			if !e.parentsReady(id, ev, pending) {
				continue
			}
			delete(pending, id)
			progressed = true
			if err := e.Validate(id, ev); err != nil {
				if isConsensusLocalError(err) {
					e.log.Warn("dropping invalid remote event", "id", id, "err", err)
					continue
				}
				return inserted, err
			}
			if err := e.Insert(id, ev); err != nil {
				return inserted, err
			}
			inserted = append(inserted, id)
		}
		if !progressed {
			break // remaining events reference parents outside this batch and outside our store
		}
	}
	return inserted, nil
}

// isConsensusLocalError reports whether err is a per-event validation
// failure (drop the event, keep going) rather than a storage fault.
func isConsensusLocalError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrParentMissing) ||
		errors.Is(err, ErrSelfParentForked) ||
		errors.Is(err, ErrOtherParentSame)
}

func (e *Engine) parentsReady(id EventID, ev *Event, pending map[EventID]*Event) bool {
	if ev.IsRoot() {
		return true
	}
	for _, p := range ev.Parents {
		if _, stillPending := pending[p]; stillPending {
			return false
		}
	}
	return true
}

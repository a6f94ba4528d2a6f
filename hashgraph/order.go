package hashgraph

import (
	"encoding/hex"
	"math/big"
	"sort"
)

// OrderedEvent is one event assigned a final position in the total order by
// FindOrder.
type OrderedEvent struct {
	ID                 EventID
	RoundReceived      int
	ConsensusTimestamp float64
	Event              *Event
}

// FindOrder computes round-received, consensus timestamp, and a
// deterministic tiebreak for every tbd event decidable now that round r has
// entered the consensus set, returning them sorted into final emission
// order.
func (e *Engine) FindOrder(r int) ([]OrderedEvent, error) {
	famousWitnesses, err := e.famousWitnessesOf(r)
	if err != nil {
		return nil, err
	}
	if len(famousWitnesses) == 0 {
		return nil, nil
	}

	whitening, err := e.whiteningKey(famousWitnesses)
	if err != nil {
		return nil, err
	}

	candidates, err := e.tbdReachableFrom(famousWitnesses)
	if err != nil {
		return nil, err
	}

	threshold := e.totalStake / 2 // compared with strict '>'
	var ordered []OrderedEvent

	for _, x := range candidates {
		xEvent, err := e.getEvent(x)
		if err != nil {
			return nil, err
		}
		xHeight, err := e.getHeight(x)
		if err != nil {
			return nil, err
		}

		var seers []EventID
		for _, w := range famousWitnesses {
			csW, err := e.getCanSee(w)
			if err != nil {
				return nil, err
			}
			seen, ok := csW[xEvent.CreatorPubKey]
			if !ok {
				continue
			}
			seenHeight, err := e.getHeight(seen)
			if err != nil {
				return nil, err
			}
			if seenHeight >= xHeight {
				seers = append(seers, w)
			}
		}
		if len(seers) <= threshold {
			continue
		}

		var timestamps []float64
		for _, w := range seers {
			a, err := e.oldestSelfAncestorStillSeeing(w, xEvent.CreatorPubKey, xHeight)
			if err != nil {
				return nil, err
			}
			aEvent, err := e.getEvent(a)
			if err != nil {
				return nil, err
			}
			timestamps = append(timestamps, aEvent.Timestamp)
		}

		e.removeTBD(x)
		ordered = append(ordered, OrderedEvent{
			ID:                 x,
			RoundReceived:      r,
			ConsensusTimestamp: median(timestamps),
			Event:              xEvent,
		})
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ConsensusTimestamp != ordered[j].ConsensusTimestamp {
			return ordered[i].ConsensusTimestamp < ordered[j].ConsensusTimestamp
		}
		ki := tiebreakKey(whitening, ordered[i].Event.Signature)
		kj := tiebreakKey(whitening, ordered[j].Event.Signature)
		return ki.Cmp(kj) < 0
	})
	return ordered, nil
}

func (e *Engine) famousWitnessesOf(r int) ([]EventID, error) {
	var out []EventID
	for _, w := range e.Witnesses(r) {
		famous, decided, err := e.getFamous(w)
		if err != nil {
			return nil, err
		}
		if decided && famous {
			out = append(out, w)
		}
	}
	return out, nil
}

// whiteningKey is the XOR, as a big integer, of every famous witness's
// signature, mixed into the sort tiebreak so no creator can bias its own
// placement.
func (e *Engine) whiteningKey(famousWitnesses []EventID) (*big.Int, error) {
	acc := new(big.Int)
	for _, w := range famousWitnesses {
		ev, err := e.getEvent(w)
		if err != nil {
			return nil, err
		}
		acc.Xor(acc, sigToBigInt(ev.Signature))
	}
	return acc, nil
}

func tiebreakKey(whitening *big.Int, sigHex string) *big.Int {
	k := new(big.Int)
	return k.Xor(whitening, sigToBigInt(sigHex))
}

func sigToBigInt(sigHex string) *big.Int {
	b, err := hex.DecodeString(sigHex)
	if err != nil {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(b)
}

// tbdReachableFrom walks backward from famousWitnesses over parents,
// restricted to ids still awaiting a final order.
func (e *Engine) tbdReachableFrom(famousWitnesses []EventID) ([]EventID, error) {
	visited := make(map[EventID]bool)
	queue := append([]EventID{}, famousWitnesses...)
	var candidates []EventID

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if e.inTBD(cur) {
			candidates = append(candidates, cur)
		}
		ev, err := e.getEvent(cur)
		if err != nil {
			return nil, err
		}
		if ev.IsRoot() {
			continue
		}
		for _, p := range ev.Parents {
			if !visited[p] && e.inTBD(p) {
				queue = append(queue, p)
			}
		}
	}
	return candidates, nil
}

// oldestSelfAncestorStillSeeing walks self-parents from w while the
// lineage's can_see entry for creatorHex still refers to an event at
// height >= minHeight, returning the oldest such ancestor. Its timestamp is
// one sample of the consensus-timestamp median.
func (e *Engine) oldestSelfAncestorStillSeeing(w EventID, creatorHex string, minHeight int) (EventID, error) {
	cur := w
	for {
		ev, err := e.getEvent(cur)
		if err != nil {
			return "", err
		}
		if ev.IsRoot() {
			return cur, nil
		}
		parent := ev.SelfParent()
		csParent, err := e.getCanSee(parent)
		if err != nil {
			return "", err
		}
		seen, ok := csParent[creatorHex]
		if !ok {
			return cur, nil
		}
		seenHeight, err := e.getHeight(seen)
		if err != nil {
			return "", err
		}
		if seenHeight < minHeight {
			return cur, nil
		}
		cur = parent
	}
}

// median computes the conventional median: the middle value for an odd
// count, the average of the two middle values for an even count.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

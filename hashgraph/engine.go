package hashgraph

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/store"
)

// Engine wires a Store to the consensus algorithms in this package. There
// is no process-wide instance: callers construct one explicitly and pass it
// by reference; tests build fresh Engines over fresh in-memory stores.
type Engine struct {
	mu sync.Mutex

	st  *store.Store
	log *slog.Logger

	priv crypto.PrivateKey
	pub  crypto.PublicKey

	totalStake      int
	lastSignedState int

	tbd map[EventID]struct{}
}

// New creates an Engine identified by priv, with a fixed total-stake
// parameter (one unit per validator; 4 in the reference configuration).
func New(st *store.Store, priv crypto.PrivateKey, totalStake int) *Engine {
	return &Engine{
		st:              st,
		log:             slog.Default().With("component", "hashgraph"),
		priv:            priv,
		pub:             priv.Public(),
		totalStake:      totalStake,
		lastSignedState: -1,
		tbd:             make(map[EventID]struct{}),
	}
}

// MinStake returns floor(2*total_stake/3)+1, the supermajority threshold.
func (e *Engine) MinStake() int {
	return e.totalStake*2/3 + 1
}

// TotalStake returns the configured total stake.
func (e *Engine) TotalStake() int { return e.totalStake }

// PubKey returns this engine's creator public key.
func (e *Engine) PubKey() crypto.PublicKey { return e.pub }

// LastSignedState returns the round boundary below which DAG metadata may
// already have been pruned by a completed checkpoint.
func (e *Engine) LastSignedState() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSignedState
}

// SetLastSignedState advances the prune boundary after a checkpoint
// finalizes (checkpoint.Manager calls this).
func (e *Engine) SetLastSignedState(round int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSignedState = round
}

// TBD returns a snapshot of the to-be-decided event id set.
func (e *Engine) TBD() []EventID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]EventID, 0, len(e.tbd))
	for id := range e.tbd {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) addTBD(id EventID) {
	e.mu.Lock()
	e.tbd[id] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) removeTBD(id EventID) {
	e.mu.Lock()
	delete(e.tbd, id)
	e.mu.Unlock()
}

func (e *Engine) inTBD(id EventID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tbd[id]
	return ok
}

// ---- store-backed accessors ----
// These wrap *store.Store with the document shapes this package owns, so
// store itself stays free of any consensus-domain type.

func (e *Engine) getEvent(id EventID) (*Event, error) {
	var ev Event
	if err := e.st.GetJSON(store.CollEvents, string(id), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (e *Engine) putEvent(id EventID, ev *Event) error {
	return e.st.PutJSON(store.CollEvents, string(id), ev)
}

func (e *Engine) hasEvent(id EventID) bool {
	ok, err := e.st.Has(store.CollEvents, string(id))
	return err == nil && ok
}

func (e *Engine) getHeight(id EventID) (int, error) {
	return e.getInt(store.CollHeight, string(id))
}

func (e *Engine) putHeight(id EventID, h int) error {
	return e.putInt(store.CollHeight, string(id), h)
}

func (e *Engine) getRound(id EventID) (int, error) {
	return e.getInt(store.CollRounds, string(id))
}

func (e *Engine) putRound(id EventID, r int) error {
	return e.putInt(store.CollRounds, string(id), r)
}

func (e *Engine) getCanSee(id EventID) (CanSeeMap, error) {
	cs := make(CanSeeMap)
	if err := e.st.GetJSON(store.CollCanSee, string(id), &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

func (e *Engine) putCanSee(id EventID, cs CanSeeMap) error {
	return e.st.PutJSON(store.CollCanSee, string(id), cs)
}

func witnessKey(round int, creatorHex string) string {
	return fmt.Sprintf("%020d:%s", round, creatorHex)
}

func (e *Engine) getWitness(round int, creatorHex string) (EventID, error) {
	data, err := e.st.Get(store.CollWitness, witnessKey(round, creatorHex))
	if err != nil {
		return "", err
	}
	return EventID(data), nil
}

func (e *Engine) putWitness(round int, creatorHex string, id EventID) error {
	return e.st.Put(store.CollWitness, witnessKey(round, creatorHex), []byte(id))
}

// listWitnesses returns every witness event id recorded for round.
func (e *Engine) listWitnesses(round int) []EventID {
	prefix := fmt.Sprintf("%020d:", round)
	var ids []EventID
	it := e.st.IteratePrefix(store.CollWitness, prefix)
	for it.Next() {
		ids = append(ids, EventID(it.Value()))
	}
	it.Release()
	return ids
}

func (e *Engine) getFamous(id EventID) (bool, bool, error) {
	v, err := e.st.Get(store.CollFamous, string(id))
	if err == store.ErrNotFound {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return string(v) == "1", true, nil
}

func (e *Engine) putFamous(id EventID, famous bool) error {
	v := "0"
	if famous {
		v = "1"
	}
	return e.st.Put(store.CollFamous, string(id), []byte(v))
}

func (e *Engine) getVote(voter EventID) (Vote, error) {
	v := make(Vote)
	if err := e.st.GetJSON(store.CollVotes, string(voter), &v); err != nil {
		if err == store.ErrNotFound {
			return v, nil
		}
		return nil, err
	}
	return v, nil
}

func (e *Engine) putVote(voter EventID, v Vote) error {
	return e.st.PutJSON(store.CollVotes, string(voter), v)
}

func (e *Engine) isConsensusRound(round int) bool {
	ok, _ := e.st.Has(store.CollConsensus, strconv.Itoa(round))
	return ok
}

func (e *Engine) markConsensusRound(round int) error {
	return e.st.Put(store.CollConsensus, strconv.Itoa(round), []byte("1"))
}

// MaxConsensusRound returns the largest round already decided, or -1.
func (e *Engine) MaxConsensusRound() int {
	return e.maxConsensusRound()
}

// maxConsensusRound returns the largest round already decided, or -1.
func (e *Engine) maxConsensusRound() int {
	max := -1
	it := e.st.Iterate(store.CollConsensus)
	for it.Next() {
		if n, err := strconv.Atoi(it.Key()); err == nil && n > max {
			max = n
		}
	}
	it.Release()
	return max
}

// maxWitnessRound returns the largest round containing any witness, or -1.
func (e *Engine) maxWitnessRound() int {
	max := -1
	it := e.st.Iterate(store.CollWitness)
	for it.Next() {
		parts := it.Key()
		var n int
		if _, err := fmt.Sscanf(parts, "%020d:", &n); err == nil && n > max {
			max = n
		}
	}
	it.Release()
	return max
}

func (e *Engine) getHead() (EventID, error) {
	data, err := e.st.Get(store.CollHead, "self")
	if err != nil {
		return "", err
	}
	return EventID(data), nil
}

func (e *Engine) setHead(id EventID) error {
	return e.st.Put(store.CollHead, "self", []byte(id))
}

func (e *Engine) getInt(c store.Collection, key string) (int, error) {
	data, err := e.st.Get(c, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("%w: decode int %s/%s: %v", store.ErrStorageFault, c, key, err)
	}
	return n, nil
}

func (e *Engine) putInt(c store.Collection, key string, n int) error {
	return e.st.Put(c, key, []byte(strconv.Itoa(n)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

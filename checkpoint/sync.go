package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/store"
	"github.com/prisma-node/prisma/txn"
)

// StateWithSigs bundles a finalized state with the peer signatures that
// finalized it, the unit a cold-starting node downloads and validates.
type StateWithSigs struct {
	State      State         `json:"state"`
	Signatures []VerifiedSig `json:"signatures"`
}

// StatesSince returns every finalized state with LastRound > round together
// with its collected signatures, in ascending order — the proof chain a
// cold-starting peer needs to catch up.
func (m *Manager) StatesSince(round int) ([]StateWithSigs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.st.Iterate(store.CollState)
	var out []StateWithSigs
	for it.Next() {
		n, err := strconv.Atoi(it.Key())
		if err != nil || n <= round {
			continue
		}
		var s State
		if err := json.Unmarshal(it.Value(), &s); err != nil {
			it.Release()
			return nil, err
		}
		if !s.Signed {
			continue
		}
		doc, err := m.signatureDocLocked(s.LastRound)
		if err != nil {
			it.Release()
			return nil, err
		}
		out = append(out, StateWithSigs{State: s, Signatures: doc.Sign})
	}
	it.Release()

	sort.Slice(out, func(i, j int) bool { return out[i].State.LastRound < out[j].State.LastRound })
	return out, nil
}

// HandleReceivedStateChain validates a peer-supplied signed-state chain and,
// if every link holds, adopts its tip as our new balance view. Each link
// must chain prev_hash to its predecessor (starting from a state we already
// trust), its hash must recompute from its contents, and it must carry at
// least MinStake distinct valid signatures over (last_round, hash). Returns
// false without error if the chain does not validate — the caller keeps its
// own state rather than treating a bad chain as fatal.
func (m *Manager) HandleReceivedStateChain(chain []StateWithSigs) (bool, error) {
	if len(chain) == 0 {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.prevStateLocked()
	if err != nil {
		return false, err
	}
	prevHash := prev.Hash
	for i := range chain {
		s := &chain[i].State
		if s.PrevHash != prevHash {
			m.log.Warn("state chain link broken", "last_round", s.LastRound)
			return false, nil
		}
		hashBytes, err := json.Marshal(hashView{LastRound: s.LastRound, PrevHash: s.PrevHash, Balance: s.Balance})
		if err != nil {
			return false, err
		}
		if crypto.HashEvent(hashBytes) != s.Hash {
			m.log.Warn("state hash does not recompute", "last_round", s.LastRound)
			return false, nil
		}
		if countValidSigs(s.LastRound, s.Hash, chain[i].Signatures) < m.engine.MinStake() {
			m.log.Warn("state lacks a supermajority of valid signatures", "last_round", s.LastRound)
			return false, nil
		}
		prevHash = s.Hash
	}

	for i := range chain {
		s := chain[i].State
		s.Signed = true
		if err := m.putStateLocked(&s); err != nil {
			return false, err
		}
		doc := signatureDoc{LastRound: s.LastRound, Hash: s.Hash, Sign: chain[i].Signatures}
		if err := m.putSignatureDocLocked(&doc); err != nil {
			return false, err
		}
	}

	tip := chain[len(chain)-1].State
	m.balance = make(map[string]uint64, len(tip.Balance))
	for k, v := range tip.Balance {
		m.balance[k] = v
	}
	m.lastSignedState = tip.LastRound
	m.lastCreated = tip.LastRound
	return true, nil
}

// countValidSigs verifies each attached signature blob against its claimed
// signer and the expected (last_round, hash) payload, counting each signer
// at most once.
func countValidSigs(lastRound int, hash string, sigs []VerifiedSig) int {
	seen := make(map[string]bool, len(sigs))
	for _, sig := range sigs {
		if seen[sig.VerifyKey] {
			continue
		}
		pub, err := crypto.PubKeyFromHex(sig.VerifyKey)
		if err != nil {
			continue
		}
		blob, err := hex.DecodeString(sig.Signed)
		if err != nil {
			continue
		}
		msg, err := crypto.OpenAttached(pub, blob)
		if err != nil {
			continue
		}
		var payload txn.SignedPayload
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		if payload.LastRound != lastRound || payload.Hash != hash {
			continue
		}
		seen[sig.VerifyKey] = true
	}
	return len(seen)
}

func (m *Manager) putStateLocked(s *State) error {
	return m.st.PutJSON(store.CollState, strconv.Itoa(s.LastRound), s)
}

// Package checkpoint implements the signed-state manager: it periodically
// snapshots balances at a consensus boundary, signs the snapshot, collects
// peer signatures, finalizes the snapshot once a supermajority agrees, and
// prunes DAG history below it.
package checkpoint

// State is a balance snapshot at a consensus-round boundary. PrevHash is
// carried unconditionally: cold-start sync validates the chain of states,
// so every state must link to its predecessor.
type State struct {
	LastRound int               `json:"_id"`
	PrevHash  string            `json:"prev_hash"`
	Balance   map[string]uint64 `json:"balance"`
	Hash      string            `json:"hash"`
	Signed    bool              `json:"signed"`
}

// hashView is the subset of State that gets hashed. Hash itself does not
// exist yet when the hash is computed, and Signed is local bookkeeping no
// peer needs to agree on.
type hashView struct {
	LastRound int               `json:"_id"`
	PrevHash  string            `json:"prev_hash"`
	Balance   map[string]uint64 `json:"balance"`
}

// genesisHashView is the hash input for the round -1 state: the genesis
// document hashes the balance allocation alone, with no id or prev_hash —
// every later checkpoint hashes the full hashView.
type genesisHashView struct {
	Balance map[string]uint64 `json:"balance"`
}

// VerifiedSig is one peer's accepted signature over a state.
type VerifiedSig struct {
	VerifyKey string `json:"verify_key"`
	Signed    string `json:"signed"` // hex attached signature blob
}

// uncheckedPair is a remote (hash, sig) awaiting comparison against the
// local hash for the same round.
type uncheckedPair struct {
	VerifyKey string `json:"verify_key"`
	Hash      string `json:"hash"`
	Signed    string `json:"signed"`
}

// signatureDoc is the per-round signature-collection document.
type signatureDoc struct {
	LastRound      int             `json:"last_round"`
	Hash           string          `json:"hash"`
	Sign           []VerifiedSig   `json:"sign"`
	UncheckedPairs []uncheckedPair `json:"unchecked_pair"`
}

func hasSigner(sigs []VerifiedSig, verifyKey string) bool {
	for _, s := range sigs {
		if s.VerifyKey == verifyKey {
			return true
		}
	}
	return false
}

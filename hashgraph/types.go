// Package hashgraph implements the consensus core: event validation, round
// and witness assignment, virtual-voting fame decisions, and the
// deterministic total order derived from them.
package hashgraph

import "github.com/prisma-node/prisma/crypto"

// EventID is the hex BLAKE2b hash identifying an event.
type EventID string

// Event is a signed DAG vertex. Root events (the first event of a creator)
// have both Parents entries empty.
type Event struct {
	Payload       []string  `json:"payload"`        // hex-encoded transaction blobs
	Parents       [2]EventID `json:"parents"`       // self-parent, other-parent; ("","") for a root
	Timestamp     float64   `json:"timestamp"`       // creator wall-clock, seconds
	CreatorPubKey string    `json:"creator_pk"`      // hex ed25519 public key
	Signature     string    `json:"signature"`       // hex detached ed25519 signature
}

// IsRoot reports whether e has no parents.
func (e *Event) IsRoot() bool {
	return e.Parents[0] == "" && e.Parents[1] == ""
}

// SelfParent returns the event's first parent.
func (e *Event) SelfParent() EventID { return e.Parents[0] }

// OtherParent returns the event's second parent.
func (e *Event) OtherParent() EventID { return e.Parents[1] }

// Creator decodes the event's creator public key.
func (e *Event) Creator() (crypto.PublicKey, error) {
	return crypto.PubKeyFromHex(e.CreatorPubKey)
}

// CanSeeMap records, for one event, the highest-height event id seen per
// creator in the sub-DAG rooted at that event.
type CanSeeMap map[string]EventID // creator pubkey hex -> event id

// Vote records one voter's fame votes for a set of subject witnesses.
type Vote map[EventID]bool

// signedFields is the canonical field order (d, p, t, c) for the portion of
// the event that gets signed. Go's encoding/json preserves declared struct
// field order when marshaling, which is what makes this serialization
// reproducible across runs — field order here must never change.
type signedFields struct {
	D []string `json:"d"`
	P []string `json:"p"`
	T float64  `json:"t"`
	C string   `json:"c"`
}

// idFields extends signedFields with the signature for the id-producing
// hash (d, p, t, c, s).
type idFields struct {
	D []string `json:"d"`
	P []string `json:"p"`
	T float64  `json:"t"`
	C string   `json:"c"`
	S string   `json:"s"`
}

// parentsAsStrings renders Parents for serialization: an empty slice for a
// root event, a two-element slice otherwise.
func parentsAsStrings(p [2]EventID) []string {
	if p[0] == "" && p[1] == "" {
		return []string{}
	}
	return []string{string(p[0]), string(p[1])}
}

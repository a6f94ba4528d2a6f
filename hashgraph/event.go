package hashgraph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/store"
)

// NewEvent stamps a wall-clock timestamp, signs the (payload, parents,
// timestamp, creator_pk) tuple, and computes the event id as
// BLAKE2b(serialize(payload, parents, timestamp, creator_pk, signature)).
func (e *Engine) NewEvent(payload []string, parents [2]EventID) (*Event, EventID, error) {
	return AuthorEvent(e.priv, payload, parents)
}

// AuthorEvent signs and hashes a new event on behalf of priv. It is the free
// function NewEvent delegates to for this engine's own key; tests and
// gossip code constructing events on behalf of other known keys (e.g.
// replaying a multi-creator fixture) call it directly.
func AuthorEvent(priv crypto.PrivateKey, payload []string, parents [2]EventID) (*Event, EventID, error) {
	ts := float64(time.Now().UnixNano()) / 1e9
	creatorHex := priv.Public().Hex()

	sf := signedFields{
		D: payload,
		P: parentsAsStrings(parents),
		T: ts,
		C: creatorHex,
	}
	signedBytes, err := json.Marshal(sf)
	if err != nil {
		return nil, "", fmt.Errorf("serialize event for signing: %w", err)
	}
	sig := crypto.Sign(priv, signedBytes)

	idf := idFields{D: sf.D, P: sf.P, T: sf.T, C: sf.C, S: sig}
	idBytes, err := json.Marshal(idf)
	if err != nil {
		return nil, "", fmt.Errorf("serialize event for id hash: %w", err)
	}
	id := EventID(crypto.HashEvent(idBytes))

	ev := &Event{
		Payload:       payload,
		Parents:       parents,
		Timestamp:     ts,
		CreatorPubKey: creatorHex,
		Signature:     sig,
	}
	return ev, id, nil
}

// Validate checks that the signature verifies under creator_pk, that id
// equals the hash of the serialized event, and, for non-root events, that
// both parents are stored and obey the self-/other-parent creator rules.
// The creator rules are waived for a parent whose round is at or below
// last_signed_state. A parent that is not stored is rejected with
// ErrParentMissing whatever its round, since its round cannot be looked up.
func (e *Engine) Validate(id EventID, ev *Event) error {
	pub, err := ev.Creator()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sf := signedFields{D: ev.Payload, P: parentsAsStrings(ev.Parents), T: ev.Timestamp, C: ev.CreatorPubKey}
	signedBytes, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("serialize event for signature check: %w", err)
	}
	if err := crypto.Verify(pub, signedBytes, ev.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	idf := idFields{D: sf.D, P: sf.P, T: sf.T, C: sf.C, S: ev.Signature}
	idBytes, err := json.Marshal(idf)
	if err != nil {
		return fmt.Errorf("serialize event for id check: %w", err)
	}
	wantID := EventID(crypto.HashEvent(idBytes))
	if wantID != id {
		return fmt.Errorf("%w: got %s want %s", ErrHashMismatch, id, wantID)
	}

	if ev.IsRoot() {
		return nil
	}

	lss := e.LastSignedState()

	selfParent, selfErr := e.getEvent(ev.SelfParent())
	if selfErr != nil {
		if selfErr != store.ErrNotFound {
			return fmt.Errorf("lookup self-parent: %w", selfErr)
		}
		// Missing: legal only if the parent's round was already pruned,
		// which we cannot check without the event. Treat as missing.
		return fmt.Errorf("%w: self-parent %s", ErrParentMissing, ev.SelfParent())
	}
	if selfParent.CreatorPubKey != ev.CreatorPubKey {
		if r, rerr := e.getRound(ev.SelfParent()); rerr != nil || r > lss {
			return ErrSelfParentForked
		}
	}

	otherParent, otherErr := e.getEvent(ev.OtherParent())
	if otherErr != nil {
		if otherErr != store.ErrNotFound {
			return fmt.Errorf("lookup other-parent: %w", otherErr)
		}
		return fmt.Errorf("%w: other-parent %s", ErrParentMissing, ev.OtherParent())
	}
	if otherParent.CreatorPubKey == ev.CreatorPubKey {
		if r, rerr := e.getRound(ev.OtherParent()); rerr != nil || r > lss {
			return ErrOtherParentSame
		}
	}

	return nil
}

// Insert writes the event and its height, advances the head pointer for
// self-created events, and adds the id to the to-be-decided set. Duplicate
// insertion is a no-op.
func (e *Engine) Insert(id EventID, ev *Event) error {
	if e.hasEvent(id) {
		return nil
	}

	height := 0
	if !ev.IsRoot() {
		h0, err := e.getHeight(ev.SelfParent())
		if err != nil {
			return fmt.Errorf("height of self-parent: %w", err)
		}
		h1, err := e.getHeight(ev.OtherParent())
		if err != nil {
			return fmt.Errorf("height of other-parent: %w", err)
		}
		height = 1 + maxInt(h0, h1)
	}

	if err := e.putEvent(id, ev); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	if err := e.putHeight(id, height); err != nil {
		return fmt.Errorf("store height: %w", err)
	}
	if ev.CreatorPubKey == e.pub.Hex() {
		if err := e.setHead(id); err != nil {
			return fmt.Errorf("store head: %w", err)
		}
	}
	e.addTBD(id)
	return nil
}

// Height returns the stored height for id.
func (e *Engine) Height(id EventID) (int, error) {
	return e.getHeight(id)
}

// Event returns the stored event for id.
func (e *Engine) Event(id EventID) (*Event, error) {
	return e.getEvent(id)
}

// Head returns this engine's latest self-created event id.
func (e *Engine) Head() (EventID, error) {
	return e.getHead()
}

package hashgraph

import (
	"testing"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/internal/testutil"
)

func TestDivideRoundsRootEventsAreRoundZeroWitnesses(t *testing.T) {
	e, priv := newTestEngine(t)
	root, id, _ := e.NewEvent(nil, [2]EventID{})
	if err := e.Insert(id, root); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.DivideRounds([]EventID{id}); err != nil {
		t.Fatalf("DivideRounds: %v", err)
	}
	r, err := e.Round(id)
	if err != nil || r != 0 {
		t.Fatalf("root round = %d, err %v; want 0, nil", r, err)
	}
	w, err := e.getWitness(0, priv.Public().Hex())
	if err != nil || w != id {
		t.Fatalf("expected root to be round-0 witness, got %s err %v", w, err)
	}
	cs, err := e.CanSee(id)
	if err != nil {
		t.Fatalf("CanSee: %v", err)
	}
	if len(cs) != 1 || cs[priv.Public().Hex()] != id {
		t.Fatalf("root can_see should contain only itself, got %+v", cs)
	}
}

func TestPromoteWitnessIfFirstKeepsLowestHeight(t *testing.T) {
	e, priv := newTestEngine(t)
	creator := priv.Public().Hex()
	if err := e.promoteWitnessIfFirst(5, creator, "first"); err != nil {
		t.Fatalf("promote first: %v", err)
	}
	if err := e.promoteWitnessIfFirst(5, creator, "second"); err != nil {
		t.Fatalf("promote second: %v", err)
	}
	w, err := e.getWitness(5, creator)
	if err != nil || w != "first" {
		t.Fatalf("witness = %s, err %v; want \"first\"", w, err)
	}
}

func TestMergeByHigherHeightPicksTallerEvent(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.putHeight("low", 1); err != nil {
		t.Fatalf("putHeight: %v", err)
	}
	if err := e.putHeight("high", 3); err != nil {
		t.Fatalf("putHeight: %v", err)
	}
	a := CanSeeMap{"alice": "low", "bob": "shared"}
	b := CanSeeMap{"alice": "high", "carol": "shared2"}
	if err := e.putHeight("shared", 2); err != nil {
		t.Fatalf("putHeight: %v", err)
	}
	if err := e.putHeight("shared2", 2); err != nil {
		t.Fatalf("putHeight: %v", err)
	}
	merged, err := e.mergeByHigherHeight(a, b)
	if err != nil {
		t.Fatalf("mergeByHigherHeight: %v", err)
	}
	if merged["alice"] != "high" {
		t.Fatalf("alice = %s, want \"high\"", merged["alice"])
	}
	if merged["bob"] != "shared" || merged["carol"] != "shared2" {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}

func TestStronglySeeHitsTwoHopTraversal(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)

	// Four round-r witnesses w1..w4, each seeing itself and at least 3 of
	// the four witnesses (including itself) at round r, so every creator
	// accumulates hits == 4 >= min_stake(3).
	creators := []string{"c1", "c2", "c3", "c4"}
	witnessIDs := map[string]EventID{"c1": "w1", "c2": "w2", "c3": "w3", "c4": "w4"}
	for _, c := range creators {
		if err := e.putRound(witnessIDs[c], 2); err != nil {
			t.Fatalf("putRound: %v", err)
		}
		full := CanSeeMap{}
		for _, c2 := range creators {
			full[c2] = witnessIDs[c2]
		}
		if err := e.putCanSee(witnessIDs[c], full); err != nil {
			t.Fatalf("putCanSee: %v", err)
		}
	}

	// e itself can-sees all four round-2 witnesses.
	selfCS := CanSeeMap{}
	for _, c := range creators {
		selfCS[c] = witnessIDs[c]
	}
	if err := e.putCanSee("e", selfCS); err != nil {
		t.Fatalf("putCanSee(e): %v", err)
	}

	seeing, err := e.StronglySee("e", 2)
	if err != nil {
		t.Fatalf("StronglySee: %v", err)
	}
	if len(seeing) != 4 {
		t.Fatalf("StronglySee returned %d creators, want 4: %+v", len(seeing), seeing)
	}
}

func mustPriv(t *testing.T) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return priv
}

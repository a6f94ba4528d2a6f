package hashgraph

import (
	"testing"

	"github.com/prisma-node/prisma/internal/testutil"
)

// setupStronglySeenWitnesses builds four round-r witnesses that all
// strongly-see each other, and makes voter's can-see set strongly-see all
// four too. Returns the four witness ids keyed by creator.
func setupStronglySeenWitnesses(t *testing.T, e *Engine, r int, voter EventID) map[string]EventID {
	t.Helper()
	creators := []string{"c1", "c2", "c3", "c4"}
	ids := map[string]EventID{"c1": "w1", "c2": "w2", "c3": "w3", "c4": "w4"}
	full := CanSeeMap{}
	for _, c := range creators {
		full[c] = ids[c]
	}
	for _, c := range creators {
		if err := e.putRound(ids[c], r); err != nil {
			t.Fatalf("putRound: %v", err)
		}
		if err := e.putCanSee(ids[c], full); err != nil {
			t.Fatalf("putCanSee: %v", err)
		}
		if err := e.putWitness(r, c, ids[c]); err != nil {
			t.Fatalf("putWitness: %v", err)
		}
	}
	if err := e.putCanSee(voter, full); err != nil {
		t.Fatalf("putCanSee(voter): %v", err)
	}
	return ids
}

func TestCastFameVoteFirstRoundRecordsMembership(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)
	ids := setupStronglySeenWitnesses(t, e, 0, "voter")
	voterEvent := &Event{Signature: "00"}

	x := ids["c1"]
	if err := e.castFameVote("voter", voterEvent, x, 1, 0); err != nil {
		t.Fatalf("castFameVote: %v", err)
	}
	vote, err := e.getVote("voter")
	if err != nil {
		t.Fatalf("getVote: %v", err)
	}
	if v, ok := vote[x]; !ok || !v {
		t.Fatalf("expected voter to vote true for member witness, got %+v", vote)
	}
}

func TestCastFameVoteNormalRoundDecidesOnSupermajority(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)
	ids := setupStronglySeenWitnesses(t, e, 1, "voter")
	x := EventID("subject")

	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		if err := e.recordVote(ids[c], x, true); err != nil {
			t.Fatalf("recordVote: %v", err)
		}
	}

	voterEvent := &Event{Signature: "00"}
	if err := e.castFameVote("voter", voterEvent, x, 2, 0); err != nil { // diff=2, normal round
		t.Fatalf("castFameVote: %v", err)
	}
	famous, decided, err := e.getFamous(x)
	if err != nil {
		t.Fatalf("getFamous: %v", err)
	}
	if !decided || !famous {
		t.Fatalf("expected x decided famous=true, got decided=%v famous=%v", decided, famous)
	}
}

func TestCastFameVoteNormalRoundWithoutSupermajorityRecordsVote(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)
	ids := setupStronglySeenWitnesses(t, e, 2, "voter")
	x := EventID("subject")

	if err := e.recordVote(ids["c1"], x, true); err != nil {
		t.Fatalf("recordVote: %v", err)
	}
	if err := e.recordVote(ids["c2"], x, true); err != nil {
		t.Fatalf("recordVote: %v", err)
	}
	if err := e.recordVote(ids["c3"], x, false); err != nil {
		t.Fatalf("recordVote: %v", err)
	}
	if err := e.recordVote(ids["c4"], x, false); err != nil {
		t.Fatalf("recordVote: %v", err)
	}

	voterEvent := &Event{Signature: "00"}
	if err := e.castFameVote("voter", voterEvent, x, 3, 1); err != nil {
		t.Fatalf("castFameVote: %v", err)
	}
	_, decided, err := e.getFamous(x)
	if err != nil {
		t.Fatalf("getFamous: %v", err)
	}
	if decided {
		t.Fatal("expected no decision with a 2-2 tie below min_stake")
	}
	vote, err := e.getVote("voter")
	if err != nil {
		t.Fatalf("getVote: %v", err)
	}
	if v, ok := vote[x]; !ok || !v {
		t.Fatalf("expected voter to record majority vote true, got %+v", vote)
	}
}

func TestCastFameVoteCoinRoundFallsBackToSignatureParity(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)
	ids := setupStronglySeenWitnesses(t, e, 6, "voter")
	x := EventID("subject")
	// Split vote below min_stake forces the coin fallback.
	if err := e.recordVote(ids["c1"], x, true); err != nil {
		t.Fatalf("recordVote: %v", err)
	}
	if err := e.recordVote(ids["c2"], x, false); err != nil {
		t.Fatalf("recordVote: %v", err)
	}

	oddSigEvent := &Event{Signature: "01"} // first byte 0x01, low bit set
	if err := e.castFameVote("voter", oddSigEvent, x, 7, 1); err != nil { // diff=6, coin round
		t.Fatalf("castFameVote: %v", err)
	}
	vote, err := e.getVote("voter")
	if err != nil {
		t.Fatalf("getVote: %v", err)
	}
	if v, ok := vote[x]; !ok || !v {
		t.Fatalf("expected coin flip true for odd signature byte, got %+v", vote)
	}
}

func TestSupermajorityVoteTieBreaksTrue(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)
	v, n, err := e.supermajorityVote(nil, "x")
	if err != nil {
		t.Fatalf("supermajorityVote: %v", err)
	}
	if !v || n != 0 {
		t.Fatalf("empty vote set should default to (true, 0), got (%v, %d)", v, n)
	}
}

func TestDecideFameMarksConsensusRoundWhenAllWitnessesDecided(t *testing.T) {
	e := New(testutil.NewStore(), mustPriv(t), 4)
	if err := e.putWitness(0, "c1", "w0"); err != nil {
		t.Fatalf("putWitness: %v", err)
	}
	if err := e.putFamous("w0", true); err != nil {
		t.Fatalf("putFamous: %v", err)
	}

	// maxWitnessRound() looks at store.CollWitness entries directly; with
	// only round 0 populated and already fully decided, DecideFame should
	// mark round 0 as a consensus round and report it.
	decided, err := e.DecideFame()
	if err != nil {
		t.Fatalf("DecideFame: %v", err)
	}
	if len(decided) != 1 || decided[0] != 0 {
		t.Fatalf("expected round 0 newly decided, got %v", decided)
	}
	if !e.isConsensusRound(0) {
		t.Fatal("expected round 0 marked as consensus round")
	}
}

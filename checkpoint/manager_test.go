package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/events"
	"github.com/prisma-node/prisma/internal/testutil"
	"github.com/prisma-node/prisma/txn"
)

// fakeEngine is a minimal Engine stand-in: every consensus round from 0 up
// to rounds-1 is "decided", and prune/finalize calls are just recorded.
type fakeEngine struct {
	mu         sync.Mutex
	rounds     int
	lastSigned int
	pruned     []int
	minStake   int
}

func newFakeEngine(rounds, minStake int) *fakeEngine {
	return &fakeEngine{rounds: rounds, lastSigned: -1, minStake: minStake}
}

func (f *fakeEngine) ConsensusRoundsAbove(round, limit int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for r := round + 1; r < f.rounds; r++ {
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (f *fakeEngine) SetLastSignedState(round int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSigned = round
}

func (f *fakeEngine) PruneUpTo(round int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, round)
	return nil
}

func (f *fakeEngine) MinStake() int { return f.minStake }

func mustPriv(t *testing.T) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return priv
}

func TestCreateStateSignRequiresFullWindow(t *testing.T) {
	st := testutil.NewStore()
	eng := newFakeEngine(5, 1) // only 5 decided rounds, need 10
	m, err := New(st, eng, mustPriv(t), events.NewEmitter(), -1, map[string]uint64{"1PR": 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := m.CreateStateSign(); err != ErrNotEnoughRounds {
		t.Fatalf("CreateStateSign with short window: got %v, want ErrNotEnoughRounds", err)
	}
}

func TestCreateStateSignProducesDecodableTransaction(t *testing.T) {
	st := testutil.NewStore()
	eng := newFakeEngine(ToSignCount+1, 1)
	priv := mustPriv(t)
	m, err := New(st, eng, priv, events.NewEmitter(), -1, map[string]uint64{"1PR": 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	txHex, err := m.CreateStateSign()
	if err != nil {
		t.Fatalf("CreateStateSign: %v", err)
	}
	parsed, err := txn.Parse(txHex, nil)
	if err != nil {
		t.Fatalf("Parse own signature tx: %v", err)
	}
	sig, ok := parsed.(*txn.SignedState)
	if !ok {
		t.Fatalf("parsed type = %T, want *txn.SignedState", parsed)
	}
	if sig.LastRound != ToSignCount-1 {
		t.Fatalf("LastRound = %d, want %d", sig.LastRound, ToSignCount-1)
	}
	if sig.VerifyKey != priv.Public().Hex() {
		t.Fatalf("VerifyKey = %s, want own pubkey", sig.VerifyKey)
	}
}

func TestRecordTransferUpdatesBalanceAndRejectsOverdraft(t *testing.T) {
	st := testutil.NewStore()
	eng := newFakeEngine(0, 1)
	m, err := New(st, eng, mustPriv(t), events.NewEmitter(), -1, map[string]uint64{"1PR": 100, "2PR": 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.RecordTransfer(0, &txn.MoneyTransfer{SenderID: "1PR", RecipientID: "2PR", Amount: 40}); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}
	bal1, _ := m.GetBalance("1PR")
	bal2, _ := m.GetBalance("2PR")
	if bal1 != 60 || bal2 != 40 {
		t.Fatalf("balances after transfer = (%d, %d), want (60, 40)", bal1, bal2)
	}

	if err := m.RecordTransfer(0, &txn.MoneyTransfer{SenderID: "2PR", RecipientID: "1PR", Amount: 1000}); err == nil {
		t.Fatal("expected overdraft to be rejected")
	}
}

func TestHandleNewSignIgnoresSelfAndStaleRounds(t *testing.T) {
	st := testutil.NewStore()
	eng := newFakeEngine(ToSignCount+1, 1)
	priv := mustPriv(t)
	m, err := New(st, eng, priv, events.NewEmitter(), -1, map[string]uint64{"1PR": 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	self := &txn.SignedState{Type: txn.TypeSignedState, LastRound: 9, Hash: "deadbeef", VerifyKey: priv.Public().Hex(), Signed: "00"}
	if err := m.HandleNewSign(self); err != nil {
		t.Fatalf("self-authored signature should be silently ignored, got %v", err)
	}

	stale := &txn.SignedState{Type: txn.TypeSignedState, LastRound: -1, Hash: "deadbeef", VerifyKey: "not-me", Signed: "00"}
	if err := m.HandleNewSign(stale); err != nil {
		t.Fatalf("stale-round signature should be silently ignored, got %v", err)
	}
}

func TestHandleNewSignFinalizesOnSupermajority(t *testing.T) {
	st := testutil.NewStore()
	eng := newFakeEngine(ToSignCount+1, 2) // two signatures required
	local := mustPriv(t)
	remote := mustPriv(t)
	m, err := New(st, eng, local, events.NewEmitter(), -1, map[string]uint64{"1PR": 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	txHex, err := m.CreateStateSign()
	if err != nil {
		t.Fatalf("CreateStateSign: %v", err)
	}
	parsed, _ := txn.Parse(txHex, nil)
	localSig := parsed.(*txn.SignedState)

	payloadBytes, _ := json.Marshal(txn.SignedPayload{LastRound: localSig.LastRound, Hash: localSig.Hash})
	blob := crypto.SignAttached(remote, payloadBytes)
	remoteSig := &txn.SignedState{
		Type:      txn.TypeSignedState,
		LastRound: localSig.LastRound,
		Hash:      localSig.Hash,
		VerifyKey: remote.Public().Hex(),
		Signed:    hex.EncodeToString(blob),
	}

	if err := m.HandleNewSign(remoteSig); err != nil {
		t.Fatalf("HandleNewSign: %v", err)
	}
	if m.LastSignedState() != localSig.LastRound {
		t.Fatalf("LastSignedState = %d, want %d after supermajority", m.LastSignedState(), localSig.LastRound)
	}
	if len(eng.pruned) == 0 {
		t.Fatal("expected engine PruneUpTo to be called after finalization")
	}
}

package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/events"
	"github.com/prisma-node/prisma/internal/testutil"
	"github.com/prisma-node/prisma/txn"
)

// buildSignedChain constructs a manager that has finalized checkpoints by
// feeding it enough remote signatures, then returns its proof chain.
func buildSignedChain(t *testing.T, rounds int, signers []crypto.PrivateKey) ([]StateWithSigs, map[string]uint64) {
	t.Helper()
	genesis := map[string]uint64{"1PR": 500, "2PR": 500}
	st := testutil.NewStore()
	eng := newFakeEngine(rounds, 2)
	m, err := New(st, eng, signers[0], events.NewEmitter(), -1, genesis)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for {
		txHex, err := m.CreateStateSign()
		if err == ErrNotEnoughRounds {
			break
		}
		if err != nil {
			t.Fatalf("CreateStateSign: %v", err)
		}
		parsed, _ := txn.Parse(txHex, nil)
		own := parsed.(*txn.SignedState)
		for _, signer := range signers[1:] {
			payloadBytes, _ := json.Marshal(txn.SignedPayload{LastRound: own.LastRound, Hash: own.Hash})
			blob := crypto.SignAttached(signer, payloadBytes)
			remote := &txn.SignedState{
				Type:      txn.TypeSignedState,
				LastRound: own.LastRound,
				Hash:      own.Hash,
				VerifyKey: signer.Public().Hex(),
				Signed:    hex.EncodeToString(blob),
			}
			if err := m.HandleNewSign(remote); err != nil {
				t.Fatalf("HandleNewSign: %v", err)
			}
		}
	}

	chain, err := m.StatesSince(-1)
	if err != nil {
		t.Fatalf("StatesSince: %v", err)
	}
	return chain, genesis
}

func TestHandleReceivedStateChainAdoptsValidChain(t *testing.T) {
	signers := []crypto.PrivateKey{mustPriv(t), mustPriv(t)}
	chain, genesis := buildSignedChain(t, 2*ToSignCount+1, signers)
	if len(chain) < 2 {
		t.Fatalf("expected at least two finalized states, got %d", len(chain))
	}

	fresh, err := New(testutil.NewStore(), newFakeEngine(0, 2), mustPriv(t), events.NewEmitter(), -1, genesis)
	if err != nil {
		t.Fatalf("New fresh: %v", err)
	}
	adopted, err := fresh.HandleReceivedStateChain(chain)
	if err != nil {
		t.Fatalf("HandleReceivedStateChain: %v", err)
	}
	if !adopted {
		t.Fatal("expected a well-formed chain to be adopted")
	}
	tip := chain[len(chain)-1].State
	if fresh.LastSignedState() != tip.LastRound {
		t.Fatalf("LastSignedState = %d, want %d", fresh.LastSignedState(), tip.LastRound)
	}
	bal, _ := fresh.GetBalance("1PR")
	if bal != tip.Balance["1PR"] {
		t.Fatalf("adopted balance = %d, want %d", bal, tip.Balance["1PR"])
	}
}

func TestHandleReceivedStateChainRejectsTamperedBalance(t *testing.T) {
	signers := []crypto.PrivateKey{mustPriv(t), mustPriv(t)}
	chain, genesis := buildSignedChain(t, ToSignCount+1, signers)

	chain[0].State.Balance["1PR"] = 1_000_000

	fresh, err := New(testutil.NewStore(), newFakeEngine(0, 2), mustPriv(t), events.NewEmitter(), -1, genesis)
	if err != nil {
		t.Fatalf("New fresh: %v", err)
	}
	adopted, err := fresh.HandleReceivedStateChain(chain)
	if err != nil {
		t.Fatalf("HandleReceivedStateChain: %v", err)
	}
	if adopted {
		t.Fatal("expected a tampered chain to be rejected")
	}
	if fresh.LastSignedState() != -1 {
		t.Fatalf("LastSignedState moved to %d on a rejected chain", fresh.LastSignedState())
	}
}

func TestHandleReceivedStateChainRejectsMissingSignatures(t *testing.T) {
	signers := []crypto.PrivateKey{mustPriv(t), mustPriv(t)}
	chain, genesis := buildSignedChain(t, ToSignCount+1, signers)

	chain[len(chain)-1].Signatures = chain[len(chain)-1].Signatures[:1]

	fresh, err := New(testutil.NewStore(), newFakeEngine(0, 2), mustPriv(t), events.NewEmitter(), -1, genesis)
	if err != nil {
		t.Fatalf("New fresh: %v", err)
	}
	adopted, err := fresh.HandleReceivedStateChain(chain)
	if err != nil {
		t.Fatalf("HandleReceivedStateChain: %v", err)
	}
	if adopted {
		t.Fatal("expected a chain missing supermajority signatures to be rejected")
	}
}

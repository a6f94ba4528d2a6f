package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/events"
	"github.com/prisma-node/prisma/store"
	"github.com/prisma-node/prisma/txn"
)

// ToSignCount is the checkpoint stride: a new state is cut every
// ToSignCount newly decided consensus rounds.
const ToSignCount = 10

// Errors returned by Manager.
var (
	ErrNotEnoughRounds    = errors.New("checkpoint: not enough newly decided consensus rounds yet")
	ErrSignatureMismatch  = errors.New("checkpoint: signature does not match its claimed payload")
	ErrSelfAuthored       = errors.New("checkpoint: ignoring self-authored signature")
	ErrAlreadySignedRound = errors.New("checkpoint: last_round is at or below the already-signed boundary")
)

// Engine is the subset of *hashgraph.Engine the manager needs: the
// consensus-round ledger to find checkpoint windows, the prune boundary to
// advance, and the supermajority threshold to apply. Declared locally so
// checkpoint does not import hashgraph.
type Engine interface {
	ConsensusRoundsAbove(round, limit int) []int
	SetLastSignedState(round int)
	PruneUpTo(round int) error
	MinStake() int
}

// Manager snapshots balances at consensus boundaries, signs the snapshots,
// collects peer signatures, finalizes once a supermajority agrees, and
// prunes DAG history below the finalized boundary. Callers construct one
// per Engine; there is no process-wide instance.
type Manager struct {
	mu sync.Mutex

	st     *store.Store
	engine Engine
	priv   crypto.PrivateKey
	pub    crypto.PublicKey
	em     *events.Emitter
	log    *slog.Logger

	lastSignedState int
	balance         map[string]uint64
	lastCreated     int // last_round of the most recently created (not necessarily signed) state
}

// New creates a Manager seeded from genesis: lastSignedState is the genesis
// round (-1), and balance is the genesis allocation. It persists the genesis
// document itself as the round -1 state so later checkpoints always have a
// predecessor to chain prev_hash against.
func New(st *store.Store, engine Engine, priv crypto.PrivateKey, em *events.Emitter, genesisRound int, genesisBalance map[string]uint64) (*Manager, error) {
	balance := make(map[string]uint64, len(genesisBalance))
	for k, v := range genesisBalance {
		balance[k] = v
	}
	m := &Manager{
		st:              st,
		engine:          engine,
		priv:            priv,
		pub:             priv.Public(),
		em:              em,
		log:             slog.Default().With("component", "checkpoint"),
		lastSignedState: genesisRound,
		lastCreated:     genesisRound,
		balance:         balance,
	}

	if _, err := st.Get(store.CollState, strconv.Itoa(genesisRound)); err == nil {
		return m, nil // genesis state already persisted from a prior run
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("checkpoint: load genesis state: %w", err)
	}

	hashBytes, err := json.Marshal(genesisHashView{Balance: balance})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: serialize genesis state: %w", err)
	}
	genesis := State{
		LastRound: genesisRound,
		PrevHash:  "",
		Balance:   balance,
		Hash:      crypto.HashEvent(hashBytes),
		Signed:    true,
	}
	if err := st.PutJSON(store.CollState, strconv.Itoa(genesisRound), &genesis); err != nil {
		return nil, fmt.Errorf("checkpoint: persist genesis state: %w", err)
	}
	return m, nil
}

// LastSignedState returns the round boundary below which DAG metadata has
// already been pruned.
func (m *Manager) LastSignedState() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSignedState
}

// GetBalance implements txn.BalanceReader over the running accumulator:
// the balance at the last finalized state plus every ordered transfer
// applied since.
func (m *Manager) GetBalance(address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[address], nil
}

// RecordTransfer implements txn.Ledger: applies a totally-ordered
// money-transfer transaction to the running balance accumulator and appends
// it to the durable transaction log, keyed by round so it can later be
// pruned below a checkpoint boundary.
func (m *Manager) RecordTransfer(round int, tx *txn.MoneyTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.Amount > m.balance[tx.SenderID] {
		return fmt.Errorf("%w: sender %s has %d, needs %d", txn.ErrInsufficientFunds, tx.SenderID, m.balance[tx.SenderID], tx.Amount)
	}
	m.balance[tx.SenderID] -= tx.Amount
	m.balance[tx.RecipientID] += tx.Amount

	key := fmt.Sprintf("%020d:%s", round, crypto.HashTxHex(txMustJSON(tx)))
	if err := m.st.PutJSON(store.CollTransactions, key, tx); err != nil {
		return err
	}
	if m.em != nil {
		m.em.Emit(events.Event{Type: events.EventTxOrdered, Round: round, Data: map[string]any{
			"sender": tx.SenderID, "recipient": tx.RecipientID, "amount": tx.Amount, "hash": crypto.HashTxHex(txMustJSON(tx)),
		}})
	}
	return nil
}

func txMustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// CreateStateSign builds (if not already built) the state for the next
// checkpoint window, signs it, and returns a hex-encoded type=1 transaction
// ready for the outbound pool. Returns ErrNotEnoughRounds if fewer than
// ToSignCount consensus rounds have been decided since the last checkpoint.
func (m *Manager) CreateStateSign() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.engine.ConsensusRoundsAbove(m.lastSignedState, ToSignCount)
	if len(window) < ToSignCount {
		return "", ErrNotEnoughRounds
	}
	r9 := window[len(window)-1]

	state, err := m.stateAtLocked(r9)
	if err != nil {
		return "", err
	}

	payload := txn.SignedPayload{LastRound: r9, Hash: state.Hash}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal signature payload: %w", err)
	}
	signedBlob := crypto.SignAttached(m.priv, payloadBytes)
	signedHex := hex.EncodeToString(signedBlob)

	if err := m.addVerifiedSignatureLocked(r9, state.Hash, m.pub.Hex(), signedHex); err != nil {
		return "", err
	}

	tx := txn.SignedState{
		Type:      txn.TypeSignedState,
		LastRound: r9,
		Hash:      state.Hash,
		VerifyKey: m.pub.Hex(),
		Signed:    signedHex,
	}
	txHex, err := txn.HexEncode(tx)
	if err != nil {
		return "", err
	}
	m.log.Info("created state signature", "last_round", r9, "hash", state.Hash)
	if m.em != nil {
		m.em.Emit(events.Event{Type: events.EventStateCreated, Round: r9, Data: map[string]any{"hash": state.Hash}})
	}
	return txHex, nil
}

// HandleNewSign implements txn.SignSink: verifies a remote signature,
// records it as unchecked, and attempts to advance the finalized boundary
// as far as currently-verified signatures allow. Re-delivery of the same
// (signer, last_round) pair is harmless: promotion skips already-counted
// signers.
func (m *Manager) HandleNewSign(tx *txn.SignedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.VerifyKey == m.pub.Hex() {
		return nil // own signature, already recorded at creation
	}
	if tx.LastRound <= m.lastSignedState {
		return nil // boundary already finalized past this round
	}

	pub, err := crypto.PubKeyFromHex(tx.VerifyKey)
	if err != nil {
		return fmt.Errorf("checkpoint: bad verify_key in signature: %w", err)
	}
	blob, err := hex.DecodeString(tx.Signed)
	if err != nil {
		return fmt.Errorf("checkpoint: bad signature hex: %w", err)
	}
	payloadBytes, err := crypto.OpenAttached(pub, blob)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	var payload txn.SignedPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return fmt.Errorf("checkpoint: decode signed payload: %w", err)
	}
	if payload.LastRound != tx.LastRound || payload.Hash != tx.Hash {
		return ErrSignatureMismatch
	}

	if err := m.addUncheckedPairLocked(tx.LastRound, tx.VerifyKey, tx.Hash, tx.Signed); err != nil {
		return err
	}

	for {
		window := m.engine.ConsensusRoundsAbove(m.lastSignedState, ToSignCount)
		if len(window) < ToSignCount {
			return nil
		}
		advanced, err := m.updateStateSignLocked(window)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// updateStateSignLocked promotes unchecked pairs whose hash matches our
// local state hash at this window's boundary to verified signatures, and
// finalizes once a supermajority is reached. Caller holds m.mu.
func (m *Manager) updateStateSignLocked(window []int) (bool, error) {
	r9 := window[len(window)-1]
	state, err := m.stateAtLocked(r9)
	if err != nil {
		return false, err
	}
	doc, err := m.signatureDocLocked(r9)
	if err != nil {
		return false, err
	}

	newlyVerified := 0
	for _, pair := range doc.UncheckedPairs {
		if pair.Hash == state.Hash && !hasSigner(doc.Sign, pair.VerifyKey) {
			doc.Sign = append(doc.Sign, VerifiedSig{VerifyKey: pair.VerifyKey, Signed: pair.Signed})
			newlyVerified++
		} else {
			m.log.Warn("rejecting mismatched remote state signature", "last_round", r9, "verify_key", pair.VerifyKey)
		}
	}
	doc.UncheckedPairs = nil
	if err := m.putSignatureDocLocked(doc); err != nil {
		return false, err
	}
	if newlyVerified == 0 {
		return false, nil
	}

	if len(doc.Sign) < m.engine.MinStake() {
		return false, nil
	}

	state.Signed = true
	if err := m.st.PutJSON(store.CollState, strconv.Itoa(r9), state); err != nil {
		return false, fmt.Errorf("checkpoint: persist finalized state: %w", err)
	}
	m.lastSignedState = r9
	m.engine.SetLastSignedState(r9)
	if err := m.engine.PruneUpTo(r9); err != nil {
		return false, fmt.Errorf("checkpoint: prune DAG below finalized round: %w", err)
	}
	m.pruneTransactionsLocked(r9)
	m.pruneOldStatesLocked(r9)
	m.log.Info("finalized signed state", "last_round", r9, "hash", state.Hash, "signatures", len(doc.Sign))
	if m.em != nil {
		m.em.Emit(events.Event{Type: events.EventStateFinalized, Round: r9, Data: map[string]any{
			"hash": state.Hash, "signatures": len(doc.Sign),
		}})
	}
	return true, nil
}

// stateAtLocked fetches the state at round, building and persisting it from
// the current running balance accumulator if it does not exist yet. Caller
// holds m.mu.
func (m *Manager) stateAtLocked(round int) (*State, error) {
	var state State
	err := m.st.GetJSON(store.CollState, strconv.Itoa(round), &state)
	if err == nil {
		return &state, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	prevState, err := m.prevStateLocked()
	if err != nil {
		return nil, err
	}
	balance := make(map[string]uint64, len(m.balance))
	for k, v := range m.balance {
		balance[k] = v
	}
	built := State{LastRound: round, PrevHash: prevState.Hash, Balance: balance}
	hashBytes, err := json.Marshal(hashView{LastRound: built.LastRound, PrevHash: built.PrevHash, Balance: built.Balance})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: serialize state for hashing: %w", err)
	}
	built.Hash = crypto.HashEvent(hashBytes)

	if err := m.st.PutJSON(store.CollState, strconv.Itoa(round), &built); err != nil {
		return nil, fmt.Errorf("checkpoint: persist state: %w", err)
	}
	m.lastCreated = round
	return &built, nil
}

func (m *Manager) prevStateLocked() (*State, error) {
	var prev State
	if err := m.st.GetJSON(store.CollState, strconv.Itoa(m.lastCreated), &prev); err != nil {
		return nil, fmt.Errorf("checkpoint: load previous state %d: %w", m.lastCreated, err)
	}
	return &prev, nil
}

func (m *Manager) signatureDocLocked(round int) (*signatureDoc, error) {
	var doc signatureDoc
	err := m.st.GetJSON(store.CollSignature, strconv.Itoa(round), &doc)
	if err == store.ErrNotFound {
		return &signatureDoc{LastRound: round}, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *Manager) putSignatureDocLocked(doc *signatureDoc) error {
	return m.st.PutJSON(store.CollSignature, strconv.Itoa(doc.LastRound), doc)
}

func (m *Manager) addVerifiedSignatureLocked(round int, hash, verifyKey, signedHex string) error {
	doc, err := m.signatureDocLocked(round)
	if err != nil {
		return err
	}
	doc.Hash = hash
	if !hasSigner(doc.Sign, verifyKey) {
		doc.Sign = append(doc.Sign, VerifiedSig{VerifyKey: verifyKey, Signed: signedHex})
	}
	return m.putSignatureDocLocked(doc)
}

func (m *Manager) addUncheckedPairLocked(round int, verifyKey, hash, signedHex string) error {
	doc, err := m.signatureDocLocked(round)
	if err != nil {
		return err
	}
	doc.UncheckedPairs = append(doc.UncheckedPairs, uncheckedPair{VerifyKey: verifyKey, Hash: hash, Signed: signedHex})
	return m.putSignatureDocLocked(doc)
}

// pruneTransactionsLocked deletes money-transfer log entries whose round
// has fallen below the finalized boundary.
func (m *Manager) pruneTransactionsLocked(uptoRound int) {
	it := m.st.Iterate(store.CollTransactions)
	var toDelete []string
	for it.Next() {
		var r int
		if _, err := fmt.Sscanf(it.Key(), "%020d:", &r); err == nil && r <= uptoRound {
			toDelete = append(toDelete, it.Key())
		}
	}
	it.Release()
	for _, key := range toDelete {
		if err := m.st.Delete(store.CollTransactions, key); err != nil {
			m.log.Error("prune transaction log entry", "key", key, "err", err)
		}
	}
}

// pruneOldStatesLocked keeps every state whose round is within 2*ToSignCount
// of current (the state just finalized and up to two checkpoints before it)
// and drops anything older, along with its signature document.
func (m *Manager) pruneOldStatesLocked(current int) {
	keep := current - 2*ToSignCount
	it := m.st.Iterate(store.CollState)
	var toDelete []string
	for it.Next() {
		n, err := strconv.Atoi(it.Key())
		if err != nil {
			continue
		}
		if n < keep {
			toDelete = append(toDelete, it.Key())
		}
	}
	it.Release()
	for _, key := range toDelete {
		if err := m.st.Delete(store.CollState, key); err != nil {
			m.log.Error("prune old state", "key", key, "err", err)
		}
		if err := m.st.Delete(store.CollSignature, key); err != nil && err != store.ErrNotFound {
			m.log.Error("prune old signature doc", "key", key, "err", err)
		}
	}
}

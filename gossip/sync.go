package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prisma-node/prisma/checkpoint"
	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/events"
	"github.com/prisma-node/prisma/hashgraph"
	"github.com/prisma-node/prisma/store"
	"github.com/prisma-node/prisma/txn"
)

// signedInfo authenticates a wire payload: Signed is a hex detached
// ed25519 signature over the raw Payload bytes under VerifyKey.
type signedInfo struct {
	VerifyKey string          `json:"verify_key"`
	Payload   json.RawMessage `json:"payload"`
	Signed    string          `json:"signed"`
}

// getPeersRequest/Response carry the peer-table exchange: a node asks a
// peer for its known peer table and advertises itself in the request.
type getPeersRequest struct {
	Method string     `json:"method"`
	Self   PeerRecord `json:"self"`
}

type getPeersResponse struct {
	Method string       `json:"method"`
	Peers  []PeerRecord `json:"peers"`
}

// getEventsRequest carries the requester's signed can-see summary
// (creator pubkey hex -> height); the responder returns a signed envelope
// holding its head plus whatever events the requester is missing. The head
// becomes the requester's next other-parent.
type getEventsRequest struct {
	Method      string     `json:"method"`
	LatestEvent float64    `json:"latest_event"`
	EventInfo   signedInfo `json:"event_info"`
}

type getEventsResponse struct {
	Method string     `json:"method"`
	Events signedInfo `json:"events"`
}

// eventsPayload is the signed body of a get_events_response.
type eventsPayload struct {
	Head   hashgraph.EventID                      `json:"head"`
	Events map[hashgraph.EventID]*hashgraph.Event `json:"events"`
}

// getStateRequest/Response carry the cold-start chain download: the full
// run of finalized states above the requester's round, each with its
// signature proof, plus the DAG bookkeeping needed to resume from the tip.
type getStateRequest struct {
	Method string `json:"method"`
	Round  int    `json:"last_round"`
}

type getStateResponse struct {
	Method    string                     `json:"method"`
	States    []checkpoint.StateWithSigs `json:"states"`
	StartData hashgraph.StartData        `json:"start_data"`
}

// Syncer drives the sync protocol over a Node: it answers inbound
// get_peers/get_events/get_state requests and, on its own tickers, dials a
// random known peer to pull events and advertise itself.
type Syncer struct {
	node   *Node
	engine *hashgraph.Engine
	mgr    *checkpoint.Manager
	router *txn.Router
	pool   *txn.Pool
	bal    txn.BalanceReader
	em     *events.Emitter

	zlibLevel int
	timeout   time.Duration
	log       *slog.Logger
}

// NewSyncer wires node to engine/mgr/router/pool and registers the three
// server-side handlers.
func NewSyncer(node *Node, engine *hashgraph.Engine, mgr *checkpoint.Manager, router *txn.Router, pool *txn.Pool, bal txn.BalanceReader, em *events.Emitter) *Syncer {
	s := &Syncer{
		node:      node,
		engine:    engine,
		mgr:       mgr,
		router:    router,
		pool:      pool,
		bal:       bal,
		em:        em,
		zlibLevel: node.ZlibLevel,
		timeout:   node.Timeout,
		log:       slog.Default().With("component", "gossip"),
	}
	node.Handle("get_peers", s.serveGetPeers)
	node.Handle("get_events", s.serveGetEvents)
	node.Handle("get_state", s.serveGetState)
	return s
}

// signPayload marshals v and wraps it in a signedInfo under the engine's
// creator key.
func (s *Syncer) signPayload(v any) (signedInfo, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return signedInfo{}, fmt.Errorf("gossip: marshal signed payload: %w", err)
	}
	return signedInfo{
		VerifyKey: s.engine.PubKey().Hex(),
		Payload:   raw,
		Signed:    s.engine.SignDetached(raw),
	}, nil
}

// openPayload verifies info's signature and unmarshals its payload into out.
func openPayload(info signedInfo, out any) error {
	pub, err := crypto.PubKeyFromHex(info.VerifyKey)
	if err != nil {
		return fmt.Errorf("gossip: bad verify_key: %w", err)
	}
	if err := crypto.Verify(pub, info.Payload, info.Signed); err != nil {
		return fmt.Errorf("gossip: payload signature: %w", err)
	}
	return json.Unmarshal(info.Payload, out)
}

// EnsureOwnRoot authors this node's root event if it has never created one,
// so the hot sync loop can always assume a self head exists.
func (s *Syncer) EnsureOwnRoot() error {
	if _, err := s.engine.Head(); err == nil {
		return nil
	}
	ev, id, err := s.engine.NewEvent(nil, [2]hashgraph.EventID{"", ""})
	if err != nil {
		return fmt.Errorf("gossip: author root event: %w", err)
	}
	return s.engine.Insert(id, ev)
}

func (s *Syncer) serveGetPeers(peer *Peer, raw []byte) error {
	var req getPeersRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("gossip: decode get_peers: %w", err)
	}
	req.Self.Seen = time.Now()
	s.node.UpsertPeer(req.Self)

	resp := getPeersResponse{Method: "get_peers_response", Peers: s.node.KnownPeers()}
	return peer.Send("get_peers_response", resp)
}

func (s *Syncer) serveGetEvents(peer *Peer, raw []byte) error {
	var req getEventsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("gossip: decode get_events: %w", err)
	}
	var remoteCanSee map[string]int
	if err := openPayload(req.EventInfo, &remoteCanSee); err != nil {
		return fmt.Errorf("gossip: verify event_info: %w", err)
	}
	subset, err := s.engine.SyncSubset(remoteCanSee)
	if err != nil {
		return fmt.Errorf("gossip: compute sync subset: %w", err)
	}
	head, _ := s.engine.Head()

	signed, err := s.signPayload(eventsPayload{Head: head, Events: subset})
	if err != nil {
		return err
	}
	resp := getEventsResponse{Method: "get_events_response", Events: signed}
	return peer.Send("get_events_response", resp)
}

func (s *Syncer) serveGetState(peer *Peer, raw []byte) error {
	var req getStateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("gossip: decode get_state: %w", err)
	}
	states, err := s.mgr.StatesSince(req.Round)
	if err != nil {
		return fmt.Errorf("gossip: load states since %d: %w", req.Round, err)
	}
	var snap hashgraph.StartData
	if len(states) > 0 {
		tip := states[len(states)-1]
		snap, err = s.engine.ExportStartData(tip.State.LastRound)
		if err != nil {
			return fmt.Errorf("gossip: export start data: %w", err)
		}
	}

	resp := getStateResponse{Method: "get_state_response", States: states, StartData: snap}
	return peer.Send("get_state_response", resp)
}

// RequestPeers dials addr, advertises self, and merges the peer's table
// into our own.
func (s *Syncer) RequestPeers(addr, selfID, advertiseHost string, listenPort int) error {
	peer, err := Connect(addr, s.zlibLevel, s.timeout)
	if err != nil {
		return err
	}
	defer peer.Close()

	req := getPeersRequest{Method: "get_peers", Self: PeerRecord{
		ID: selfID, Host: advertiseHost, Port: listenPort,
		LatestEvent: s.engine.LatestEventTime(), Seen: time.Now(),
	}}
	if err := peer.Send("get_peers", req); err != nil {
		return err
	}
	_, raw, err := peer.Receive(time.Now().Add(s.timeout))
	if err != nil {
		return err
	}
	var resp getPeersResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("gossip: decode get_peers_response: %w", err)
	}
	for _, p := range resp.Peers {
		s.node.UpsertPeer(p)
	}
	return nil
}

// RequestEvents pulls missing events from addr, inserts them, divides
// their rounds, decides fame, and routes any newly-ordered transactions.
// Returns the peer's reported head, used as the other-parent of the event
// this node emits to close out the sync round.
func (s *Syncer) RequestEvents(addr string) (hashgraph.EventID, error) {
	peer, err := Connect(addr, s.zlibLevel, s.timeout)
	if err != nil {
		return "", err
	}
	defer peer.Close()

	_, canSee, err := s.engine.HeadCanSee()
	if err != nil {
		return "", err
	}
	info, err := s.signPayload(canSee)
	if err != nil {
		return "", err
	}
	req := getEventsRequest{Method: "get_events", LatestEvent: s.engine.LatestEventTime(), EventInfo: info}
	if err := peer.Send("get_events", req); err != nil {
		return "", err
	}
	_, raw, err := peer.Receive(time.Now().Add(s.timeout))
	if err != nil {
		return "", err
	}
	var resp getEventsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("gossip: decode get_events_response: %w", err)
	}
	var payload eventsPayload
	if err := openPayload(resp.Events, &payload); err != nil {
		return "", fmt.Errorf("gossip: verify get_events_response: %w", err)
	}

	inserted, err := s.engine.InsertRemoteEvents(payload.Events)
	if err != nil {
		return payload.Head, fmt.Errorf("gossip: insert remote events: %w", err)
	}
	if len(inserted) == 0 {
		return payload.Head, nil
	}
	if err := s.engine.DivideRounds(inserted); err != nil {
		return payload.Head, fmt.Errorf("gossip: divide rounds: %w", err)
	}
	decided, err := s.engine.DecideFame()
	if err != nil {
		return payload.Head, fmt.Errorf("gossip: decide fame: %w", err)
	}
	for _, r := range decided {
		ordered, err := s.engine.FindOrder(r)
		if err != nil {
			return payload.Head, fmt.Errorf("gossip: find order for round %d: %w", r, err)
		}
		for _, oe := range ordered {
			for _, txHex := range oe.Event.Payload {
				if err := s.router.Route(oe.RoundReceived, txHex, s.bal); err != nil {
					s.log.Warn("dropping transaction from ordered event", "round", oe.RoundReceived, "err", err)
				}
			}
		}
		if s.em != nil {
			s.em.Emit(events.Event{Type: events.EventConsensusRound, Round: r, Data: map[string]any{
				"ordered_events": len(ordered),
			}})
		}
	}
	if s.em != nil {
		s.em.Emit(events.Event{Type: events.EventSyncCompleted, Data: map[string]any{
			"peer": addr, "inserted": len(inserted), "decided_rounds": len(decided),
		}})
	}
	return payload.Head, nil
}

// requestGetState downloads the signed-state chain and DAG bootstrap
// payload from addr and adopts it if it validates, used for cold start.
func (s *Syncer) requestGetState(addr string, sinceRound int) error {
	peer, err := Connect(addr, s.zlibLevel, s.timeout)
	if err != nil {
		return err
	}
	defer peer.Close()

	req := getStateRequest{Method: "get_state", Round: sinceRound}
	if err := peer.Send("get_state", req); err != nil {
		return err
	}
	_, raw, err := peer.Receive(time.Now().Add(s.timeout))
	if err != nil {
		return err
	}
	var resp getStateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("gossip: decode get_state_response: %w", err)
	}
	if len(resp.States) == 0 {
		return nil
	}

	adopted, err := s.mgr.HandleReceivedStateChain(resp.States)
	if err != nil {
		return fmt.Errorf("gossip: validate received state chain: %w", err)
	}
	if !adopted {
		s.log.Warn("received state chain did not validate", "peer", addr)
		return nil
	}

	if err := s.engine.Reset(); err != nil {
		return fmt.Errorf("gossip: reset dag before import: %w", err)
	}
	tip := resp.States[len(resp.States)-1].State
	if err := s.engine.ImportStartData(resp.StartData, tip.LastRound); err != nil {
		return fmt.Errorf("gossip: import start data: %w", err)
	}
	s.log.Info("adopted checkpointed state chain", "last_round", tip.LastRound, "peer", addr)
	return nil
}

// ColdStart attempts a get_state download from each address in addrs in
// turn, stopping at the first that advances our checkpoint boundary.
// Intended to run once, before Run, on a freshly bootstrapped node.
func (s *Syncer) ColdStart(addrs []string) error {
	last := s.mgr.LastSignedState()
	for _, addr := range addrs {
		if err := s.requestGetState(addr, last); err != nil {
			s.log.Debug("cold start attempt failed", "addr", addr, "err", err)
			continue
		}
		if s.mgr.LastSignedState() > last {
			return nil
		}
	}
	return nil
}

// Run drives the periodic get_peers/get_events ticks until ctx is
// cancelled, emitting a new self event after each successful event sync
// with the remote's head as other-parent and the pool's pending
// transactions as payload.
func (s *Syncer) Run(ctx context.Context, selfID, advertiseHost string, listenPort int, getPeersInterval, getEventsInterval time.Duration) {
	peersTicker := time.NewTicker(getPeersInterval)
	eventsTicker := time.NewTicker(getEventsInterval)
	defer peersTicker.Stop()
	defer eventsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-peersTicker.C:
			peer, ok := s.node.RandomPeer()
			if !ok {
				continue
			}
			if err := s.RequestPeers(peer.addr(), selfID, advertiseHost, listenPort); err != nil {
				s.log.Debug("get_peers round failed", "peer", peer.addr(), "err", err)
			}
		case <-eventsTicker.C:
			peer, ok := s.node.RandomPeer()
			if !ok {
				continue
			}
			remoteHead, err := s.RequestEvents(peer.addr())
			if err != nil {
				if errors.Is(err, store.ErrStorageFault) {
					s.log.Error("storage fault during event sync, stopping node", "peer", peer.addr(), "err", err)
					os.Exit(1)
				}
				s.log.Debug("get_events round failed", "peer", peer.addr(), "err", err)
				continue
			}
			if stateTx, err := s.mgr.CreateStateSign(); err == nil {
				s.pool.Add(stateTx)
			} else if err != checkpoint.ErrNotEnoughRounds {
				s.log.Warn("create state signature", "err", err)
			}
			if err := s.emitSelfEvent(remoteHead); err != nil {
				if errors.Is(err, store.ErrStorageFault) {
					s.log.Error("storage fault while emitting self event, stopping node", "err", err)
					os.Exit(1)
				}
				s.log.Warn("emit self event after sync", "err", err)
			}
		}
	}
}

func (s *Syncer) emitSelfEvent(otherParent hashgraph.EventID) error {
	head, err := s.engine.Head()
	if err != nil {
		return err
	}
	if otherParent == "" || otherParent == head {
		return nil
	}
	payload := s.pool.Drain()
	ev, id, err := s.engine.NewEvent(payload, [2]hashgraph.EventID{head, otherParent})
	if err != nil {
		return err
	}
	if err := s.engine.Insert(id, ev); err != nil {
		return err
	}
	return s.engine.DivideRounds([]hashgraph.EventID{id})
}

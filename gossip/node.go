package gossip

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"
)

// RequestHandler serves one inbound request, writing its response directly
// onto peer before returning.
type RequestHandler func(peer *Peer, raw []byte) error

// PeerRecord is one peer-table entry, independent of any live connection.
type PeerRecord struct {
	ID          string    `json:"_id"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	LatestEvent float64   `json:"latest_event"`
	Seen        time.Time `json:"seen"`
}

func (p PeerRecord) addr() string {
	return net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
}

// Node listens for inbound sync connections, dispatches each to the
// handler registered for its method, and tracks the known peer table. Each
// connection serves one request/response exchange.
type Node struct {
	NodeID        string
	AdvertiseHost string
	ListenPort    int
	ZlibLevel     int
	Timeout       time.Duration

	mu       sync.RWMutex
	peers    map[string]PeerRecord
	handlers map[string]RequestHandler

	listener net.Listener
	stopCh   chan struct{}
	log      *slog.Logger
}

// NewNode creates a Node that will listen on port listenPort once Start is
// called.
func NewNode(nodeID, advertiseHost string, listenPort, zlibLevel int, timeout time.Duration) *Node {
	return &Node{
		NodeID:        nodeID,
		AdvertiseHost: advertiseHost,
		ListenPort:    listenPort,
		ZlibLevel:     zlibLevel,
		Timeout:       timeout,
		peers:         make(map[string]PeerRecord),
		handlers:      make(map[string]RequestHandler),
		stopCh:        make(chan struct{}),
		log:           slog.Default().With("component", "gossip"),
	}
}

// Handle registers the handler invoked for inbound requests of the given
// method.
func (n *Node) Handle(method string, h RequestHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// Start begins accepting inbound sync connections.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", n.ListenPort))
	if err != nil {
		return fmt.Errorf("gossip: listen on port %d: %w", n.ListenPort, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// ListenAddr returns a dialable address for the live listener, or "" before
// Start. Useful when started on port 0.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	_, port, err := net.SplitHostPort(n.listener.Addr().String())
	if err != nil {
		return n.listener.Addr().String()
	}
	host := n.AdvertiseHost
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Stop shuts the listener down.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.Warn("accept error", "err", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		go n.serveConn(conn)
	}
}

func (n *Node) serveConn(conn net.Conn) {
	peer := NewPeer(conn.RemoteAddr().String(), conn, n.ZlibLevel)
	defer peer.Close()

	method, raw, err := peer.Receive(time.Now().Add(n.Timeout))
	if err != nil {
		n.log.Debug("receive failed", "peer", peer.Addr, "err", err)
		return
	}
	n.mu.RLock()
	h, ok := n.handlers[method]
	n.mu.RUnlock()
	if !ok {
		n.log.Warn("no handler for method", "method", method, "peer", peer.Addr)
		return
	}
	if err := h(peer, raw); err != nil {
		n.log.Warn("handler error", "method", method, "peer", peer.Addr, "err", err)
	}
}

// UpsertPeer records or refreshes a peer-table entry, skipping our own id.
func (n *Node) UpsertPeer(rec PeerRecord) {
	if rec.ID == "" || rec.ID == n.NodeID {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[rec.ID] = rec
}

// KnownPeers returns a snapshot of the peer table.
func (n *Node) KnownPeers() []PeerRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]PeerRecord, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// KnownPeerCount reports the size of the peer table.
func (n *Node) KnownPeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// RandomPeer returns a uniformly random known peer, or false if none are
// known yet.
func (n *Node) RandomPeer() (PeerRecord, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.peers) == 0 {
		return PeerRecord{}, false
	}
	idx := rand.Intn(len(n.peers))
	i := 0
	for _, p := range n.peers {
		if i == idx {
			return p, true
		}
		i++
	}
	return PeerRecord{}, false
}

// PruneStale drops peer-table entries not seen within ttl.
func (n *Node) PruneStale(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, p := range n.peers {
		if p.Seen.Before(cutoff) {
			delete(n.peers, id)
		}
	}
}

// Bootstrap calls dialGetPeers against every address in addrs, retrying
// every 2 seconds until at least one peer is known: a fresh node whose
// bootstrap entries are all temporarily unreachable keeps trying instead of
// failing fast.
func (n *Node) Bootstrap(addrs []string, dialGetPeers func(addr string) error) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			if len(n.KnownPeers()) > 0 {
				return
			}
			for _, addr := range addrs {
				if err := dialGetPeers(addr); err != nil {
					n.log.Debug("bootstrap dial failed", "addr", addr, "err", err)
				}
			}
			select {
			case <-ticker.C:
			case <-n.stopCh:
				return
			}
		}
	}()
}

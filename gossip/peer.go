package gossip

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Peer is one TCP connection carrying a single netstring-framed
// request/response exchange: the protocol opens a fresh connection per
// get_peers/get_events/get_state call and closes it once the response
// arrives.
type Peer struct {
	Addr string

	conn  net.Conn
	r     *bufio.Reader
	level int

	mu     sync.Mutex
	closed bool
}

// Connect dials addr and wraps the connection as a Peer.
func Connect(addr string, level int, dialTimeout time.Duration) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("gossip: dial %s: %w", addr, err)
	}
	return NewPeer(addr, conn, level), nil
}

// NewPeer wraps an already-established connection (inbound or outbound).
func NewPeer(addr string, conn net.Conn, level int) *Peer {
	return &Peer{Addr: addr, conn: conn, r: bufio.NewReader(conn), level: level}
}

// Send tags v with method and writes it as a compressed netstring frame.
func (p *Peer) Send(method string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gossip: marshal %s: %w", method, err)
	}
	tagged, err := tagMethod(method, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("gossip: peer %s closed", p.Addr)
	}
	return WriteFrame(p.conn, p.level, tagged)
}

// Receive reads the next frame and returns its method tag and raw body.
func (p *Peer) Receive(deadline time.Time) (string, json.RawMessage, error) {
	_ = p.conn.SetReadDeadline(deadline)
	raw, err := ReadFrame(p.r)
	if err != nil {
		return "", nil, err
	}
	var env struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("gossip: decode envelope: %w", err)
	}
	return env.Method, raw, nil
}

// Close terminates the connection. Safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.conn.Close()
	}
}

// tagMethod merges {"method": method} into an already-marshaled JSON
// object, so every wire message self-describes its type.
func tagMethod(method string, data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("gossip: tag method on non-object payload: %w", err)
	}
	methodJSON, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}
	fields["method"] = methodJSON
	return json.Marshal(fields)
}

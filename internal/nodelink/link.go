/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package nodelink

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"flydb/internal/raftmsg"
)

// State is a Link's connection lifecycle state, exported for
// diagnostics through Link.State.
type State = raftmsg.ConnState

const (
	Disconnected = raftmsg.Disconnected
	Connecting   = raftmsg.Connecting
	Connected    = raftmsg.Connected
)

// Link is a pooled, self-healing outbound connection to one peer. A
// pool of idle *net.Conn is kept per link: a call checks one out,
// round-trips an envelope over it, and returns it to the pool, the
// same discipline the data store's own client connections use
// (internal/protocol), just turned around to originate from this
// node instead of terminate on it.
//
// Connection state is tracked only for observability; Call dials
// on demand regardless of the last known state, so a Link recovers
// from a dead peer without an explicit reconnect step.
type Link struct {
	addr raftmsg.NodeAddr

	mu      sync.Mutex
	idle    []net.Conn
	state   int32 // atomic State
	dialer  net.Dialer
	timeout time.Duration

	seq uint64

	closed   bool
	closedMu sync.Mutex
}

// NewLink creates a Link to addr. dialTimeout bounds both connection
// establishment and each RPC round trip.
func NewLink(addr raftmsg.NodeAddr, dialTimeout time.Duration) *Link {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	l := &Link{
		addr:    addr,
		dialer:  net.Dialer{Timeout: dialTimeout},
		timeout: dialTimeout,
	}
	atomic.StoreInt32(&l.state, int32(Disconnected))
	return l
}

// Addr returns the peer address this link talks to.
func (l *Link) Addr() raftmsg.NodeAddr { return l.addr }

// State reports the link's last observed connection state.
func (l *Link) State() State { return State(atomic.LoadInt32(&l.state)) }

func (l *Link) checkout() (net.Conn, error) {
	l.mu.Lock()
	if n := len(l.idle); n > 0 {
		conn := l.idle[n-1]
		l.idle = l.idle[:n-1]
		l.mu.Unlock()
		return conn, nil
	}
	l.mu.Unlock()

	atomic.StoreInt32(&l.state, int32(Connecting))
	conn, err := l.dialer.Dial("tcp", l.addr.String())
	if err != nil {
		atomic.StoreInt32(&l.state, int32(Disconnected))
		return nil, fmt.Errorf("nodelink: dial %s: %w", l.addr, err)
	}
	atomic.StoreInt32(&l.state, int32(Connected))
	return conn, nil
}

func (l *Link) checkin(conn net.Conn) {
	l.closedMu.Lock()
	closed := l.closed
	l.closedMu.Unlock()
	if closed {
		conn.Close()
		return
	}
	l.mu.Lock()
	l.idle = append(l.idle, conn)
	l.mu.Unlock()
}

func (l *Link) discard(conn net.Conn) {
	conn.Close()
	atomic.StoreInt32(&l.state, int32(Disconnected))
}

// Call sends kind/body and returns the response envelope's body, or
// the remote-reported error if the peer replied with KindErrorResp.
func (l *Link) Call(kind Kind, body interface{}) (json.RawMessage, error) {
	l.closedMu.Lock()
	closed := l.closed
	l.closedMu.Unlock()
	if closed {
		return nil, ErrLinkClosed
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("nodelink: encode request: %w", err)
	}

	conn, err := l.checkout()
	if err != nil {
		return nil, err
	}

	seq := atomic.AddUint64(&l.seq, 1)
	conn.SetDeadline(time.Now().Add(l.timeout))

	if err := writeEnvelope(conn, envelope{Kind: kind, Seq: seq, Body: raw}); err != nil {
		l.discard(conn)
		return nil, fmt.Errorf("nodelink: write to %s: %w", l.addr, err)
	}

	resp, err := readEnvelope(conn)
	if err != nil {
		l.discard(conn)
		return nil, fmt.Errorf("nodelink: read from %s: %w", l.addr, err)
	}
	if resp.Seq != seq {
		l.discard(conn)
		return nil, fmt.Errorf("nodelink: %s: response seq %d does not match request seq %d", l.addr, resp.Seq, seq)
	}
	conn.SetDeadline(time.Time{})
	l.checkin(conn)

	if resp.Kind == KindErrorResp {
		return nil, fmt.Errorf("nodelink: %s: %s", l.addr, resp.Err)
	}
	return resp.Body, nil
}

// Close discards all idle connections and prevents further Call use.
func (l *Link) Close() error {
	l.closedMu.Lock()
	l.closed = true
	l.closedMu.Unlock()

	l.mu.Lock()
	idle := l.idle
	l.idle = nil
	l.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	atomic.StoreInt32(&l.state, int32(Disconnected))
	return nil
}

// Pool owns one Link per known peer, created lazily on first use and
// torn down explicitly on node removal.
type Pool struct {
	mu      sync.RWMutex
	links   map[raftmsg.NodeID]*Link
	timeout time.Duration
}

// NewPool creates an empty link pool. dialTimeout is passed to every
// Link created through it.
func NewPool(dialTimeout time.Duration) *Pool {
	return &Pool{
		links:   make(map[raftmsg.NodeID]*Link),
		timeout: dialTimeout,
	}
}

// Get returns the Link for id, creating one for addr if none exists
// yet.
func (p *Pool) Get(id raftmsg.NodeID, addr raftmsg.NodeAddr) *Link {
	p.mu.RLock()
	l, ok := p.links[id]
	p.mu.RUnlock()
	if ok {
		return l
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.links[id]; ok {
		return l
	}
	l = NewLink(addr, p.timeout)
	p.links[id] = l
	return l
}

// Lookup returns the Link for id without creating one.
func (p *Pool) Lookup(id raftmsg.NodeID) (*Link, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.links[id]
	return l, ok
}

// Remove closes and drops the link for id, called when a node leaves
// the cluster.
func (p *Pool) Remove(id raftmsg.NodeID) {
	p.mu.Lock()
	l, ok := p.links[id]
	delete(p.links, id)
	p.mu.Unlock()
	if ok {
		l.Close()
	}
}

// CloseAll closes every link in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	links := p.links
	p.links = make(map[raftmsg.NodeID]*Link)
	p.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
}

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

package consensus

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/raft"

	"flydb/internal/datastore"
	"flydb/internal/nodelink"
	"flydb/internal/raftmsg"
)

// Options configures a Node.
type Options struct {
	LocalID   raftmsg.NodeID
	LocalAddr raftmsg.NodeAddr

	HeartbeatTimeout  time.Duration
	ElectionTimeout   time.Duration
	CommitTimeout     time.Duration
	SnapshotThreshold uint64

	// DataDir, when non-empty, selects durable bolt-backed stores;
	// an empty DataDir runs entirely in memory (useful for tests and
	// single-process demos, never for a real deployment).
	DataDir string

	Bootstrap bool
}

// Node bundles everything spec §4.3 calls the "consensus adapter":
// hashicorp/raft's own *raft.Raft plus the FSM, stores and Transport
// this package built for it.
type Node struct {
	Raft      *raft.Raft
	FSM       *FSM
	Transport *Transport
	Pool      *nodelink.Pool
	stores    *LogStores
}

// NewNode constructs and starts a consensus Node. resolver maps a
// raft.ServerID (the decimal string form of a raftmsg.NodeID, see
// ServerID below) back to the node-link address to dial, and is
// typically backed by cmd/emberdb-server's membership table.
func NewNode(opts Options, store datastore.Store, resolver func(raft.ServerID) (raftmsg.NodeID, raftmsg.NodeAddr, bool)) (*Node, error) {
	fsm := NewFSM(store)

	var stores *LogStores
	var err error
	if opts.DataDir != "" {
		stores, err = NewBoltStores(opts.DataDir, 2, os.Stderr)
	} else {
		stores = NewMemoryStores()
	}
	if err != nil {
		return nil, err
	}

	pool := nodelink.NewPool(opts.ElectionTimeout)
	localServerID := ServerID(opts.LocalID)
	transport := NewTransport(localServerID, raft.ServerAddress(opts.LocalAddr.String()), pool, resolver)

	cfg := raft.DefaultConfig()
	cfg.LocalID = localServerID
	if opts.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = opts.HeartbeatTimeout
	}
	if opts.ElectionTimeout > 0 {
		cfg.ElectionTimeout = opts.ElectionTimeout
	}
	if opts.CommitTimeout > 0 {
		cfg.CommitTimeout = opts.CommitTimeout
	}
	if opts.SnapshotThreshold > 0 {
		cfg.SnapshotThreshold = opts.SnapshotThreshold
	}
	r, err := raft.NewRaft(cfg, fsm, stores.Log, stores.Stable, stores.Snapshots, transport)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("consensus: start raft: %w", err)
	}

	if opts.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{
				ID:      localServerID,
				Address: raft.ServerAddress(opts.LocalAddr.String()),
			}},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			stores.Close()
			return nil, fmt.Errorf("consensus: bootstrap cluster: %w", err)
		}
	}

	return &Node{Raft: r, FSM: fsm, Transport: transport, Pool: pool, stores: stores}, nil
}

// Listen starts the Transport's inbound node-link listener.
func (n *Node) Listen(listener net.Listener) { n.Transport.Listen(listener) }

// AddNode submits an add-node configuration change, the consensus
// side-effect of a committed RAFT.ADDNODE request. Per spec §4.4 a
// newly added node joins as a non-voting member (raft.AddNonvoter,
// not AddVoter): it starts receiving log entries immediately but
// cannot vote until something promotes it, so a freshly bootstrapped
// node with an empty log can never win an election against a caught-up
// one.
func (n *Node) AddNode(id raftmsg.NodeID, addr raftmsg.NodeAddr) error {
	future := n.Raft.AddNonvoter(ServerID(id), raft.ServerAddress(addr.String()), 0, 0)
	return future.Error()
}

// HasMember reports whether id is already part of the current Raft
// configuration, voting or not, so handleAddNode can reject a
// duplicate RAFT.ADDNODE rather than resubmitting a no-op
// configuration change.
func (n *Node) HasMember(id raftmsg.NodeID) bool {
	future := n.Raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return false
	}
	target := ServerID(id)
	for _, srv := range future.Configuration().Servers {
		if srv.ID == target {
			return true
		}
	}
	return false
}

// IsLeader reports whether this node currently believes it is leader.
func (n *Node) IsLeader() bool { return n.Raft.State() == raft.Leader }

// LeaderAddr returns the replication address of the node this node
// believes is leader, if any.
func (n *Node) LeaderAddr() (raftmsg.NodeAddr, bool) {
	addr, _ := n.Raft.LeaderWithID()
	if addr == "" {
		return raftmsg.NodeAddr{}, false
	}
	parsed, err := raftmsg.ParseNodeAddr(string(addr))
	if err != nil {
		return raftmsg.NodeAddr{}, false
	}
	return parsed, true
}

// Shutdown stops the Raft instance and releases the node link and
// store resources it owns.
func (n *Node) Shutdown() error {
	if err := n.Raft.Shutdown().Error(); err != nil {
		return err
	}
	n.Pool.CloseAll()
	_ = n.Transport.Close()
	return n.stores.Close()
}

// ServerID renders a raftmsg.NodeID as the raft.ServerID string form
// hashicorp/raft's configuration entries use.
func ServerID(id raftmsg.NodeID) raft.ServerID {
	return raft.ServerID(fmt.Sprintf("%d", uint64(id)))
}

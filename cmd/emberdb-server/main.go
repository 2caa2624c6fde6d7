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

/*
emberdb-server is the replication engine's standalone entry point: it
loads configuration, opens the node-link and client listeners, starts
the consensus adapter, and runs the coordinator event loop until
interrupted.

Module-load argv (spec §6): the first positional argument is this
node's own id; every argument after it is a peer in "id:host:port"
form, the same convention the original module's RedisModule_OnLoad
argv used. Peers are only recorded in the membership table the
node-link transport dials through; no RAFT.ADDNODE request is
submitted for them. A node started without peers bootstraps itself as
a single-node cluster, and one started with peers does not bootstrap.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/raft"

	"flydb/internal/cluster"
	"flydb/internal/commands"
	"flydb/internal/config"
	"flydb/internal/consensus"
	"flydb/internal/coordinator"
	"flydb/internal/datastore"
	"flydb/internal/logging"
	"flydb/internal/migration"
	"flydb/internal/nodelink"
	"flydb/internal/queue"
	"flydb/internal/raftmsg"
	"flydb/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: emberdb-server <node_id> [peer_id:host:port ...]")
		os.Exit(1)
	}

	localID, err := strconv.ParseUint(os.Args[1], 10, 64)
	if err != nil || localID == 0 {
		fmt.Fprintln(os.Stderr, "emberdb-server: invalid node id")
		os.Exit(1)
	}
	peers, err := parsePeers(os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "emberdb-server:", err)
		os.Exit(1)
	}

	mgr := config.Global()
	if path := os.Getenv("FLYDB_CONFIG_FILE"); path != "" {
		if err := mgr.LoadFromFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "emberdb-server: load config:", err)
			os.Exit(1)
		}
	}
	mgr.LoadFromEnv()
	cfg := *mgr.Get()
	cfg.NodeID = os.Args[1]

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("emberdb-server")

	membership := newMembershipTable()
	membership.add(raftmsg.NodeID(localID), mustParseAddr(cfg.RaftAddr))
	for _, p := range peers {
		membership.add(p.id, p.addr)
	}

	store := datastore.NewMemory()

	node, err := consensus.NewNode(consensus.Options{
		LocalID:           raftmsg.NodeID(localID),
		LocalAddr:         mustParseAddr(cfg.RaftAddr),
		HeartbeatTimeout:  cfg.RaftHeartbeat,
		ElectionTimeout:   cfg.RaftElectionTimeout,
		CommitTimeout:     cfg.CommitTimeout,
		SnapshotThreshold: cfg.SnapshotThreshold,
		DataDir:           cfg.RaftDataDir,
		Bootstrap:         len(peers) == 0,
	}, store, membership.resolve)
	if err != nil {
		log.Error("failed to start consensus node", "err", err)
		os.Exit(1)
	}

	raftListener, err := net.Listen("tcp", cfg.RaftAddr)
	if err != nil {
		log.Error("failed to bind raft listener", "addr", cfg.RaftAddr, "err", err)
		os.Exit(1)
	}

	importHandler := migration.ImportHandler(store)
	node.Transport.ListenWithHandler(raftListener, func(kind nodelink.Kind, body json.RawMessage) (nodelink.Kind, interface{}, error) {
		if kind == nodelink.KindImport {
			var req nodelink.ImportBody
			if err := json.Unmarshal(body, &req); err != nil {
				return 0, nil, err
			}
			resp, err := importHandler(req)
			return nodelink.KindImportResp, resp, err
		}
		return node.Transport.Handle(kind, body)
	})

	reqQ := queue.NewRequestQueue(1024)

	groupResolver := func(id string) (raftmsg.ShardGroup, bool) {
		return raftmsg.ShardGroup{}, false
	}

	var migrationEngine *migration.Engine
	coord := coordinator.New(node, reqQ, func(p raftmsg.AddNodeParams) {
		membership.add(p.ID, p.Addr)
	}, func(req *raftmsg.Request) {
		migrationEngine.Run(req, currentTerm(node))
	})
	migrationEngine = migration.NewEngine(store, node.Pool, groupResolver, coord)

	dispatcher := commands.NewDispatcher(reqQ)

	clientListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.BinaryPort))
	if err != nil {
		log.Error("failed to bind client listener", "port", cfg.BinaryPort, "err", err)
		os.Exit(1)
	}
	srv := server.New(clientListener, dispatcher)
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("client server stopped", "err", err)
		}
	}()

	disco := cluster.NewDiscoveryService(cluster.DiscoveryConfig{
		NodeID:   cfg.NodeID,
		RaftAddr: cfg.RaftAddr,
		Enabled:  true,
	})
	if err := disco.Start(); err != nil {
		log.Warn("mdns advertising failed to start", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	log.Info("emberdb-server started", "node_id", cfg.NodeID, "raft_addr", cfg.RaftAddr, "client_port", cfg.BinaryPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	disco.Stop()
	srv.Close()
	node.Shutdown()
}

func currentTerm(node *consensus.Node) uint64 {
	stats := node.Raft.Stats()
	v, ok := stats["term"]
	if !ok {
		return 0
	}
	t, _ := strconv.ParseUint(v, 10, 64)
	return t
}

type peerSpec struct {
	id   raftmsg.NodeID
	addr raftmsg.NodeAddr
}

func parsePeers(args []string) ([]peerSpec, error) {
	out := make([]peerSpec, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer spec %q", arg)
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid peer node id in %q", arg)
		}
		addr, err := raftmsg.ParseNodeAddr(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid peer address in %q", arg)
		}
		out = append(out, peerSpec{id: raftmsg.NodeID(id), addr: addr})
	}
	return out, nil
}

func mustParseAddr(s string) raftmsg.NodeAddr {
	addr, err := raftmsg.ParseNodeAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// membershipTable is the resolver consensus.Transport needs to turn a
// raft.ServerID back into a node-link dial address; it is filled in
// as RAFT.ADDNODE requests are committed (coordinator's onBootstrap
// hook) and seeded up front with the peers passed on argv.
type membershipTable struct {
	byServerID map[raft.ServerID]raftmsg.NodeAddr
	byNodeID   map[raftmsg.NodeID]raftmsg.NodeAddr
}

func newMembershipTable() *membershipTable {
	return &membershipTable{
		byServerID: make(map[raft.ServerID]raftmsg.NodeAddr),
		byNodeID:   make(map[raftmsg.NodeID]raftmsg.NodeAddr),
	}
}

func (m *membershipTable) add(id raftmsg.NodeID, addr raftmsg.NodeAddr) {
	m.byNodeID[id] = addr
	m.byServerID[consensus.ServerID(id)] = addr
}

func (m *membershipTable) resolve(sid raft.ServerID) (raftmsg.NodeID, raftmsg.NodeAddr, bool) {
	addr, ok := m.byServerID[sid]
	if !ok {
		return 0, raftmsg.NodeAddr{}, false
	}
	id, err := strconv.ParseUint(string(sid), 10, 64)
	if err != nil {
		return 0, raftmsg.NodeAddr{}, false
	}
	return raftmsg.NodeID(id), addr, true
}

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
Package commands parses the RAFT command surface (RAFT, RAFT.ADDNODE,
RAFT.REQUESTVOTE, RAFT.APPENDENTRIES) from client argv into a
raftmsg.Request and pushes it onto the coordinator's request queue.
Parsing follows the original data store's colon-delimited header
convention exactly: a command's positional args carry simple values,
but the per-call header (term, indices, counts) is packed into one
"%d:%d:%d:%d"-shaped argument to keep arity fixed regardless of how
many log entries ride along.

RAFT MIGRATE <shard_group_id> <key> [key ...] is a sub-case of the
generic RAFT command, not a distinct top-level command: it is
recognized inside RedisCommand and routed to the migration engine
instead of being replicated verbatim against the data store.
RAFT.IMPORT, by contrast, never reaches this package - it is the
node-link RPC internal/consensus.Transport and internal/migration wire
up directly on the replication listener, since it is a transfer
between nodes, not a client command.
*/
package commands

import (
	"fmt"
	"strconv"
	"strings"

	"flydb/internal/errors"
	"flydb/internal/queue"
	"flydb/internal/raftmsg"
)

// Dispatcher parses client argv and enqueues the resulting Request.
type Dispatcher struct {
	reqQ *queue.RequestQueue
}

// NewDispatcher creates a Dispatcher that pushes onto reqQ.
func NewDispatcher(reqQ *queue.RequestQueue) *Dispatcher {
	return &Dispatcher{reqQ: reqQ}
}

func splitHeader(s string, n int) ([]uint64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != n {
		return nil, false
	}
	out := make([]uint64, n)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// AddNode handles "RAFT.ADDNODE <node_id> <node_addr>".
func (d *Dispatcher) AddNode(argv [][]byte, client raftmsg.BlockedClient) {
	if len(argv) != 3 {
		client.ReplyError(fmt.Errorf("wrong number of arguments"))
		return
	}
	id, err := strconv.ParseUint(string(argv[1]), 10, 64)
	if err != nil || id == 0 {
		client.ReplyError(errors.InvalidNodeID())
		return
	}
	addr, err := raftmsg.ParseNodeAddr(string(argv[2]))
	if err != nil {
		client.ReplyError(errors.InvalidAddr())
		return
	}

	d.reqQ.Push(&raftmsg.Request{
		Tag:           raftmsg.ReqAddNode,
		Client:        client,
		AddNode:       raftmsg.AddNodeParams{ID: raftmsg.NodeID(id), Addr: addr},
		CorrelationID: queue.NewCorrelationID(),
	})
}

// RequestVote handles:
//
//	RAFT.REQUESTVOTE <src_node_id> <term>:<candidate_id>:<last_log_idx>:<last_log_term>
func (d *Dispatcher) RequestVote(argv [][]byte, client raftmsg.BlockedClient) {
	if len(argv) != 3 {
		client.ReplyError(fmt.Errorf("wrong number of arguments"))
		return
	}
	srcID, err := strconv.ParseUint(string(argv[1]), 10, 64)
	if err != nil {
		client.ReplyError(fmt.Errorf("invalid source node id"))
		return
	}
	header, ok := splitHeader(string(argv[2]), 4)
	if !ok {
		client.ReplyError(errors.InvalidMessage())
		return
	}

	d.reqQ.Push(&raftmsg.Request{
		Tag:    raftmsg.ReqRequestVote,
		Client: client,
		Vote: raftmsg.RequestVoteParams{
			SrcNodeID:    raftmsg.NodeID(srcID),
			Term:         header[0],
			CandidateID:  raftmsg.NodeID(header[1]),
			LastLogIndex: header[2],
			LastLogTerm:  header[3],
		},
		CorrelationID: queue.NewCorrelationID(),
	})
}

// AppendEntries handles:
//
//	RAFT.APPENDENTRIES <src_node_id> <term>:<prev_log_idx>:<prev_log_term>:<leader_commit>
//	    <n_entries> {<term:id:type> <entry>}...
func (d *Dispatcher) AppendEntries(argv [][]byte, client raftmsg.BlockedClient) {
	if len(argv) < 4 {
		client.ReplyError(fmt.Errorf("wrong number of arguments"))
		return
	}
	srcID, err := strconv.ParseUint(string(argv[1]), 10, 64)
	if err != nil {
		client.ReplyError(fmt.Errorf("invalid source node id"))
		return
	}
	header, ok := splitHeader(string(argv[2]), 4)
	if !ok {
		client.ReplyError(errors.InvalidMessage())
		return
	}

	nEntries, err := strconv.ParseUint(string(argv[3]), 10, 32)
	if err != nil {
		client.ReplyError(fmt.Errorf("invalid n_entries value"))
		return
	}
	if uint64(len(argv)) != 4+2*nEntries {
		client.ReplyError(fmt.Errorf("wrong number of arguments"))
		return
	}

	entries := make([]raftmsg.AppendEntryHeader, 0, nEntries)
	for i := uint64(0); i < nEntries; i++ {
		eh, ok := splitHeader(string(argv[4+2*i]), 3)
		if !ok {
			client.ReplyError(fmt.Errorf("invalid entry"))
			return
		}
		entries = append(entries, raftmsg.AppendEntryHeader{
			Term: eh[0],
			ID:   int32(eh[1]),
			Type: raftmsg.EntryType(eh[2]),
			Data: append([]byte(nil), argv[5+2*i]...),
		})
	}

	d.reqQ.Push(&raftmsg.Request{
		Tag:    raftmsg.ReqAppendEntries,
		Client: client,
		Append: raftmsg.AppendEntriesParams{
			SrcNodeID:    raftmsg.NodeID(srcID),
			Term:         header[0],
			PrevLogIndex: header[1],
			PrevLogTerm:  header[2],
			LeaderCommit: header[3],
			Entries:      entries,
		},
		CorrelationID: queue.NewCorrelationID(),
	})
}

// RedisCommand handles "RAFT <cmd> [arg ...]". The MIGRATE sub-case
// ("RAFT MIGRATE <shard_group_id> <key> [key ...]") is recognized here
// and routed to the migration engine instead; every other argv[1:] is
// the client command to replicate and, once committed, execute.
func (d *Dispatcher) RedisCommand(argv [][]byte, client raftmsg.BlockedClient) {
	if len(argv) < 2 {
		client.ReplyError(fmt.Errorf("wrong number of arguments"))
		return
	}
	if strings.EqualFold(string(argv[1]), "MIGRATE") {
		d.migrate(argv, client)
		return
	}

	inner := make([][]byte, len(argv)-1)
	copy(inner, argv[1:])

	d.reqQ.Push(&raftmsg.Request{
		Tag:           raftmsg.ReqRedisCommand,
		Client:        client,
		Command:       raftmsg.RedisCommandParams{Argv: inner},
		CorrelationID: queue.NewCorrelationID(),
	})
}

// migrate handles the "RAFT MIGRATE <shard_group_id> <key> [key ...]"
// sub-case of RedisCommand: it hands the named keys to the migration
// engine (capture/transfer/commit, see internal/migration) rather than
// replicating them as a plain data-store command.
func (d *Dispatcher) migrate(argv [][]byte, client raftmsg.BlockedClient) {
	if len(argv) < 4 {
		client.ReplyError(fmt.Errorf("wrong number of arguments"))
		return
	}
	keys := make([][]byte, len(argv)-3)
	copy(keys, argv[3:])

	d.reqQ.Push(&raftmsg.Request{
		Tag:    raftmsg.ReqMigrateKeys,
		Client: client,
		Migrate: raftmsg.MigrateKeysParams{
			ShardGroupID: string(argv[2]),
			Keys:         keys,
		},
		CorrelationID: queue.NewCorrelationID(),
	})
}

// Dispatch routes argv by its command name (argv[0], case-insensitive)
// to the matching handler, replying with InvalidMessage for anything
// else. This is the single entry point the server's connection
// handler calls per received command. RAFT.IMPORT is deliberately not
// one of these cases: it is a node-link RPC, not a client command (see
// the package doc comment).
func (d *Dispatcher) Dispatch(argv [][]byte, client raftmsg.BlockedClient) {
	if len(argv) == 0 {
		client.ReplyError(errors.InvalidMessage())
		return
	}
	switch strings.ToUpper(string(argv[0])) {
	case "RAFT.ADDNODE":
		d.AddNode(argv, client)
	case "RAFT.REQUESTVOTE":
		d.RequestVote(argv, client)
	case "RAFT.APPENDENTRIES":
		d.AppendEntries(argv, client)
	case "RAFT":
		d.RedisCommand(argv, client)
	default:
		client.ReplyError(errors.InvalidMessage())
	}
}

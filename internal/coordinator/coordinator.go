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
Package coordinator is the replication engine's single event loop. It
owns the only goroutine that ever submits entries to the consensus
library, the same concentration of ownership the original data store
got from running everything off one libuv loop woken by uv_async and
ticked by a 500ms uv_timer. Every other package (commands, nodelink,
consensus) only ever hands work to the coordinator through its
RequestQueue. The one exception is entry resolution: OnApplied runs on
the Raft library's apply goroutine and resolves commit-queue entries
and their blocked clients from there, which is why the commit queue
locks internally.
*/
package coordinator

import (
	"context"
	"math/rand"
	"time"

	"flydb/internal/codec"
	"flydb/internal/consensus"
	"flydb/internal/errors"
	"flydb/internal/logging"
	"flydb/internal/queue"
	"flydb/internal/raftmsg"
)

// peerBootstrapDelay names the startup delay before peers given on the
// command line are added through synthetic AddNode requests, a
// placeholder for a real readiness handshake (SPEC_FULL.md's Open
// Question resolution). No code reads it: cmd/emberdb-server submits no
// such AddNode requests.
const peerBootstrapDelay = 5 * time.Second

// tickInterval matches the original's uv_timer_start(&rr->ptimer,
// __raft_timer, 5000, 500): a 5s initial delay (a one-shot timer that
// Run creates when it starts) then a steady 500ms periodic cadence
// thereafter.
const (
	initialTickDelay = 5000 * time.Millisecond
	tickInterval     = 500 * time.Millisecond
)

// Coordinator drains the request queue, submits entries to the
// consensus Node, and resolves commit-queue waiters as entries are
// applied.
type Coordinator struct {
	log     *logging.Logger
	node    *consensus.Node
	reqQ    *queue.RequestQueue
	commitQ *queue.CommitQueue

	lastTerm uint64

	entrySeq int32

	onBootstrap func(raftmsg.AddNodeParams)
	onMigrate   func(*raftmsg.Request)
}

// New creates a Coordinator wired to node, draining reqQ.
// onBootstrap is invoked (from the coordinator goroutine, so it may
// call back into node) once an AddNode request has been applied by
// node.AddNode;
// onMigrate is invoked for MigrateKeys requests, handing off to the
// migration engine, which itself submits the resulting
// DeleteUnlockKeys entry back through this same Coordinator.
func New(node *consensus.Node, reqQ *queue.RequestQueue, onBootstrap func(raftmsg.AddNodeParams), onMigrate func(*raftmsg.Request)) *Coordinator {
	c := &Coordinator{
		log:         logging.NewLogger("coordinator"),
		node:        node,
		reqQ:        reqQ,
		commitQ:     queue.NewCommitQueue(),
		onBootstrap: onBootstrap,
		onMigrate:   onMigrate,
	}
	node.FSM.SetAppliedSink(c)
	return c
}

// nextEntryID mints a random non-negative id (a random 31-bit value
// XORed with a per-coordinator counter) to stamp on each submitted
// entry so FSM.Apply (running on the Raft library's own goroutine)
// can recognize it again. Ids are not guaranteed unique; collisions
// only matter within the lifetime of one term's outstanding commit
// queue.
func (c *Coordinator) nextEntryID() int32 {
	c.entrySeq++
	return int32(rand.Uint32()>>1) ^ c.entrySeq
}

// Run is the event loop. It returns when ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	initial := time.NewTimer(initialTickDelay)
	defer initial.Stop()

	var ticker *time.Ticker

	for {
		select {
		case <-ctx.Done():
			if ticker != nil {
				ticker.Stop()
			}
			return

		case req := <-c.reqQ.C():
			c.handleRequest(req)

		case <-initial.C:
			ticker = time.NewTicker(tickInterval)
			c.tick()

		case <-tickerC(ticker):
			c.tick()
		}
	}
}

// tickerC returns t.C, or a nil channel (which blocks forever in a
// select) before the ticker has been created.
func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// tick runs the coordinator's periodic maintenance: detecting a term
// change since the last tick and, if one occurred, flushing every
// outstanding commit-queue entry as lost (it is certain none of them
// can still commit under the old term).
func (c *Coordinator) tick() {
	current := c.currentTerm()
	if current != c.lastTerm {
		c.log.Info("observed term change", "old_term", c.lastTerm, "new_term", current)
		c.lastTerm = current
		for _, pc := range c.commitQ.DrainLost() {
			c.replyLost(pc)
		}
	}
}

func (c *Coordinator) currentTerm() uint64 {
	stats := c.node.Raft.Stats()
	if v, ok := stats["term"]; ok {
		var t uint64
		for _, ch := range v {
			if ch < '0' || ch > '9' {
				t = 0
				break
			}
			t = t*10 + uint64(ch-'0')
		}
		return t
	}
	return c.lastTerm
}

func (c *Coordinator) replyLost(pc *raftmsg.PendingCommit) {
	c.log.Warn("entry lost to term change", "correlation_id", pc.CorrelationID, "entry_id", pc.EntryID)
	if pc.Req.Client != nil {
		pc.Req.Client.ReplyError(errors.EntryLost())
	}
}

// handleRequest dispatches one dequeued Request to its handler, the
// in-process equivalent of the original's switch over
// RaftReq->type in handle_cmd.
func (c *Coordinator) handleRequest(req *raftmsg.Request) {
	switch req.Tag {
	case raftmsg.ReqAddNode:
		c.handleAddNode(req)
	case raftmsg.ReqRequestVote:
		c.handleRequestVote(req)
	case raftmsg.ReqAppendEntries:
		c.handleAppendEntries(req)
	case raftmsg.ReqRedisCommand:
		c.handleRedisCommand(req)
	case raftmsg.ReqMigrateKeys:
		c.handleMigrateKeys(req)
	default:
		if req.Client != nil {
			req.Client.ReplyError(errors.InvalidMessage())
		}
	}
}

func (c *Coordinator) handleAddNode(req *raftmsg.Request) {
	if !c.node.IsLeader() {
		c.replyNotLeader(req)
		return
	}
	if c.node.HasMember(req.AddNode.ID) {
		if req.Client != nil {
			req.Client.ReplyError(errors.NodeExists())
		}
		return
	}
	if err := c.node.AddNode(req.AddNode.ID, req.AddNode.Addr); err != nil {
		if req.Client != nil {
			req.Client.ReplyError(errors.ConsensusError(err))
		}
		return
	}
	if c.onBootstrap != nil {
		c.onBootstrap(req.AddNode)
	}
	if req.Client != nil {
		req.Client.Reply("OK")
	}
}

// handleRequestVote and handleAppendEntries exist for requests that
// arrive synthetically (e.g. loopback tests exercising the dispatch
// table directly); in the running server these RPCs normally reach
// raft.Raft straight through consensus.Transport.Consumer() rather
// than via this queue, since hashicorp/raft owns their reply timing.
func (c *Coordinator) handleRequestVote(req *raftmsg.Request) {
	if req.Client != nil {
		req.Client.Reply(nil)
	}
}

func (c *Coordinator) handleAppendEntries(req *raftmsg.Request) {
	if req.Client != nil {
		req.Client.Reply(nil)
	}
}

func (c *Coordinator) handleRedisCommand(req *raftmsg.Request) {
	if !c.node.IsLeader() {
		c.replyNotLeader(req)
		return
	}

	entryID := c.nextEntryID()
	payload, err := consensus.EncodeNormal(entryID, codec.CommandArray{codec.Command(req.Command.Argv)})
	if err != nil {
		if req.Client != nil {
			req.Client.ReplyError(err)
		}
		return
	}

	// Queued before Apply: FSM.Apply resolves the entry through
	// OnApplied before future.Error() returns.
	pc := &raftmsg.PendingCommit{Req: req, EntryID: entryID, CorrelationID: req.CorrelationID}
	c.commitQ.Add(pc)
	future := c.node.Raft.Apply(payload, 0)
	if err := future.Error(); err != nil {
		if _, ok := c.commitQ.Resolve(entryID); ok && req.Client != nil {
			req.Client.ReplyError(errors.ConsensusError(err))
		}
		return
	}
	pc.Response.Index = future.Index()

	c.log.Debug("submitted entry", "correlation_id", req.CorrelationID, "entry_id", entryID, "index", future.Index())
}

func (c *Coordinator) handleMigrateKeys(req *raftmsg.Request) {
	if !c.node.IsLeader() {
		c.replyNotLeader(req)
		return
	}
	if c.onMigrate != nil {
		c.onMigrate(req)
		return
	}
	if req.Client != nil {
		req.Client.ReplyError(errors.InvalidMessage())
	}
}

// SubmitDeleteUnlockKeys lets the migration engine, once it has
// finished transferring keys to a shard group's peers, submit the
// commit-delete entry through the same single-writer path as every
// other mutation.
func (c *Coordinator) SubmitDeleteUnlockKeys(keys [][]byte, client raftmsg.BlockedClient) error {
	entryID := c.nextEntryID()
	payload, err := consensus.EncodeDeleteUnlockKeys(entryID, keys)
	if err != nil {
		return err
	}
	correlationID := queue.NewCorrelationID()
	pc := &raftmsg.PendingCommit{Req: &raftmsg.Request{Client: client}, EntryID: entryID, CorrelationID: correlationID}
	c.commitQ.Add(pc)
	future := c.node.Raft.Apply(payload, 0)
	if err := future.Error(); err != nil {
		if _, ok := c.commitQ.Resolve(entryID); !ok {
			return nil // already resolved and replied to by OnApplied
		}
		return errors.ConsensusError(err)
	}
	pc.Response.Index = future.Index()
	c.log.Debug("submitted delete-unlock-keys entry", "correlation_id", correlationID, "entry_id", entryID, "index", future.Index(), "num_keys", len(keys))
	return nil
}

func (c *Coordinator) replyNotLeader(req *raftmsg.Request) {
	if req.Client == nil {
		return
	}
	if addr, ok := c.node.LeaderAddr(); ok {
		req.Client.ReplyError(errors.LeaderIs(addr.String()))
		return
	}
	req.Client.ReplyError(errors.NoLeader())
}

// OnApplied implements consensus.AppliedSink. It runs on the Raft
// library's apply goroutine, not the coordinator's own loop, so it
// only touches the commit queue, which is safe for concurrent
// Resolve/Add per its own locking.
func (c *Coordinator) OnApplied(index uint64, res consensus.ApplyResult) {
	pc, ok := c.commitQ.Resolve(res.EntryID)
	if !ok {
		return
	}
	c.log.Debug("resolved entry", "correlation_id", pc.CorrelationID, "entry_id", res.EntryID, "index", index)
	if pc.Req.Client == nil {
		return
	}
	if res.Err != nil {
		pc.Req.Client.ReplyError(res.Err)
		return
	}
	pc.Req.Client.Reply(res.Results)
}

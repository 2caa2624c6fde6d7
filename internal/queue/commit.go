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

package queue

import (
	"container/list"
	"sync"

	"flydb/internal/raftmsg"
)

// CommitQueue tracks, in submission order, the client requests whose
// consensus entry has been submitted but not yet resolved (applied,
// or discovered lost to a term change). Every method takes mu, because
// besides the coordinator goroutine, AppliedSink.OnApplied calls
// Resolve from the Raft library's own apply goroutine.
type CommitQueue struct {
	mu    sync.Mutex
	order *list.List
	byID  map[int32]*list.Element
}

// NewCommitQueue creates an empty commit queue.
func NewCommitQueue() *CommitQueue {
	return &CommitQueue{
		order: list.New(),
		byID:  make(map[int32]*list.Element),
	}
}

// Add records a newly submitted PendingCommit. Entries must be added
// in the order they were submitted to the consensus library so
// DrainLost's truncation scan below sees them oldest-first.
func (q *CommitQueue) Add(pc *raftmsg.PendingCommit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el := q.order.PushBack(pc)
	q.byID[pc.EntryID] = el
}

// Resolve removes and returns the PendingCommit for entryID, if any
// is still pending. Called once per applied entry id, from
// consensus.FSM's AppliedSink callback, and by the coordinator to
// withdraw an entry whose submission failed.
func (q *CommitQueue) Resolve(entryID int32) (*raftmsg.PendingCommit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.byID[entryID]
	if !ok {
		return nil, false
	}
	delete(q.byID, entryID)
	q.order.Remove(el)
	return el.Value.(*raftmsg.PendingCommit), true
}

// DrainLost removes and returns every PendingCommit still outstanding,
// in submission order. The coordinator calls this when a term change
// makes it certain those entries were truncated from the log (a new
// leader overwrote them before they could commit), so their blocked
// clients must be told to retry rather than wait forever.
func (q *CommitQueue) DrainLost() []*raftmsg.PendingCommit {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*raftmsg.PendingCommit, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*raftmsg.PendingCommit))
	}
	q.order.Init()
	q.byID = make(map[int32]*list.Element)
	return out
}

// Len reports how many commits are currently outstanding.
func (q *CommitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

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
	"testing"

	"flydb/internal/raftmsg"
)

func TestRequestQueueFIFOOrder(t *testing.T) {
	q := NewRequestQueue(4)
	for i := 0; i < 3; i++ {
		q.Push(&raftmsg.Request{Tag: raftmsg.RequestTag(i)})
	}
	for i := 0; i < 3; i++ {
		req := <-q.C()
		if req.Tag != raftmsg.RequestTag(i) {
			t.Fatalf("drain order[%d] = %v, want %v", i, req.Tag, raftmsg.RequestTag(i))
		}
	}
}

func TestRequestQueueTryPushFull(t *testing.T) {
	q := NewRequestQueue(1)
	if !q.TryPush(&raftmsg.Request{}) {
		t.Fatal("TryPush on empty queue should succeed")
	}
	if q.TryPush(&raftmsg.Request{}) {
		t.Fatal("TryPush on full queue should fail")
	}
	<-q.C()
	if !q.TryPush(&raftmsg.Request{}) {
		t.Fatal("TryPush after drain should succeed")
	}
}

func TestNewCorrelationIDUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == "" || b == "" {
		t.Fatal("NewCorrelationID returned empty string")
	}
	if a == b {
		t.Fatal("NewCorrelationID returned duplicate ids")
	}
}

func TestCommitQueueAddResolve(t *testing.T) {
	q := NewCommitQueue()
	q.Add(&raftmsg.PendingCommit{EntryID: 1, CorrelationID: "a"})
	q.Add(&raftmsg.PendingCommit{EntryID: 2, CorrelationID: "b"})

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	pc, ok := q.Resolve(1)
	if !ok {
		t.Fatal("Resolve(1) = false, want true")
	}
	if pc.CorrelationID != "a" {
		t.Errorf("Resolve(1).CorrelationID = %q, want %q", pc.CorrelationID, "a")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() after resolve = %d, want 1", q.Len())
	}

	if _, ok := q.Resolve(1); ok {
		t.Fatal("Resolve(1) a second time should report false")
	}
	if _, ok := q.Resolve(99); ok {
		t.Fatal("Resolve of unknown entry id should report false")
	}
}

func TestCommitQueueDrainLostOrderAndClear(t *testing.T) {
	q := NewCommitQueue()
	q.Add(&raftmsg.PendingCommit{EntryID: 1})
	q.Add(&raftmsg.PendingCommit{EntryID: 2})
	q.Add(&raftmsg.PendingCommit{EntryID: 3})

	lost := q.DrainLost()
	if len(lost) != 3 {
		t.Fatalf("len(DrainLost()) = %d, want 3", len(lost))
	}
	for i, want := range []int32{1, 2, 3} {
		if lost[i].EntryID != want {
			t.Errorf("lost[%d].EntryID = %d, want %d", i, lost[i].EntryID, want)
		}
	}

	if q.Len() != 0 {
		t.Fatalf("Len() after DrainLost = %d, want 0", q.Len())
	}
	if lost2 := q.DrainLost(); len(lost2) != 0 {
		t.Fatalf("second DrainLost() = %v, want empty", lost2)
	}
}

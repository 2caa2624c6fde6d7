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
	"testing"

	"github.com/hashicorp/raft"

	"flydb/internal/codec"
	"flydb/internal/datastore"
)

type recordingSink struct {
	calls []ApplyResult
}

func (s *recordingSink) OnApplied(index uint64, res ApplyResult) {
	s.calls = append(s.calls, res)
}

func TestFSMApplyNormalExecutesAgainstStore(t *testing.T) {
	store := datastore.NewMemory()
	fsm := NewFSM(store)

	data, err := EncodeNormal(1, codec.CommandArray{
		codec.Command{[]byte("SET"), []byte("k"), []byte("v")},
	})
	if err != nil {
		t.Fatalf("EncodeNormal: %v", err)
	}

	res := fsm.Apply(&raft.Log{Type: raft.LogCommand, Index: 1, Data: data}).(ApplyResult)
	if res.Err != nil {
		t.Fatalf("Apply returned error: %v", res.Err)
	}
	if res.EntryID != 1 {
		t.Errorf("EntryID = %d, want 1", res.EntryID)
	}

	v, ok, err := store.Dump([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Dump(k) = %q, %v, %v", v, ok, err)
	}
	if string(v) != "v" {
		t.Errorf("stored value = %q, want %q", v, "v")
	}
}

func TestFSMApplyDeduplicatesByEntryID(t *testing.T) {
	store := datastore.NewMemory()
	fsm := NewFSM(store)

	data, err := EncodeNormal(7, codec.CommandArray{
		codec.Command{[]byte("SET"), []byte("counter"), []byte("1")},
	})
	if err != nil {
		t.Fatalf("EncodeNormal: %v", err)
	}

	first := fsm.Apply(&raft.Log{Type: raft.LogCommand, Index: 1, Data: data}).(ApplyResult)
	if first.Results == nil {
		t.Fatal("first apply: expected non-nil Results")
	}

	second := fsm.Apply(&raft.Log{Type: raft.LogCommand, Index: 2, Data: data}).(ApplyResult)
	if second.Results != nil {
		t.Errorf("second apply of same EntryID: Results = %v, want nil (skipped as duplicate)", second.Results)
	}
	if second.EntryID != 7 {
		t.Errorf("second apply EntryID = %d, want 7", second.EntryID)
	}
}

func TestFSMApplyNonCommandLogIgnored(t *testing.T) {
	fsm := NewFSM(datastore.NewMemory())
	res := fsm.Apply(&raft.Log{Type: raft.LogNoop, Index: 1}).(ApplyResult)
	if res.EntryID != 0 || res.Err != nil {
		t.Errorf("Apply(noop) = %+v, want zero value", res)
	}
}

func TestFSMApplyDeleteUnlockKeys(t *testing.T) {
	store := datastore.NewMemory()
	fsm := NewFSM(store)

	if err := store.Restore([]byte("a"), []byte("va")); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := store.Lock([]byte("a")); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	data, err := EncodeDeleteUnlockKeys(2, [][]byte{[]byte("a")})
	if err != nil {
		t.Fatalf("EncodeDeleteUnlockKeys: %v", err)
	}

	res := fsm.Apply(&raft.Log{Type: raft.LogCommand, Index: 1, Data: data}).(ApplyResult)
	if res.Err != nil {
		t.Fatalf("Apply returned error: %v", res.Err)
	}

	if _, ok, _ := store.Dump([]byte("a")); ok {
		t.Error("key \"a\" should have been deleted")
	}

	// key should no longer be migration-locked: a fresh SET must succeed.
	if _, err := store.Execute([][]byte{[]byte("SET"), []byte("a"), []byte("vb")}); err != nil {
		t.Errorf("SET after unlock failed: %v", err)
	}
}

func TestFSMAppliedSinkNotified(t *testing.T) {
	store := datastore.NewMemory()
	fsm := NewFSM(store)
	sink := &recordingSink{}
	fsm.SetAppliedSink(sink)

	data, err := EncodeNormal(5, codec.CommandArray{
		codec.Command{[]byte("SET"), []byte("k"), []byte("v")},
	})
	if err != nil {
		t.Fatalf("EncodeNormal: %v", err)
	}
	fsm.Apply(&raft.Log{Type: raft.LogCommand, Index: 3, Data: data})

	if len(sink.calls) != 1 {
		t.Fatalf("len(sink.calls) = %d, want 1", len(sink.calls))
	}
	if sink.calls[0].EntryID != 5 {
		t.Errorf("sink notified EntryID = %d, want 5", sink.calls[0].EntryID)
	}
}

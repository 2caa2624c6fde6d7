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
	"time"

	"github.com/hashicorp/raft"

	"flydb/internal/datastore"
	"flydb/internal/raftmsg"
)

func noopResolver(raft.ServerID) (raftmsg.NodeID, raftmsg.NodeAddr, bool) {
	return 0, raftmsg.NodeAddr{}, false
}

func newBootstrappedNode(t *testing.T) *Node {
	t.Helper()
	localAddr, err := raftmsg.ParseNodeAddr("127.0.0.1:9001")
	if err != nil {
		t.Fatalf("ParseNodeAddr: %v", err)
	}
	node, err := NewNode(Options{
		LocalID:          1,
		LocalAddr:        localAddr,
		HeartbeatTimeout: 50 * time.Millisecond,
		ElectionTimeout:  50 * time.Millisecond,
		CommitTimeout:    10 * time.Millisecond,
		Bootstrap:        true,
	}, datastore.NewMemory(), noopResolver)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(func() { node.Shutdown() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if node.IsLeader() {
			return node
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("node never became leader")
	return nil
}

func TestNodeAddNodeJoinsAsNonvoter(t *testing.T) {
	node := newBootstrappedNode(t)

	peerAddr, err := raftmsg.ParseNodeAddr("127.0.0.1:9002")
	if err != nil {
		t.Fatalf("ParseNodeAddr: %v", err)
	}
	if err := node.AddNode(2, peerAddr); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if !node.HasMember(2) {
		t.Fatal("HasMember(2) = false after AddNode, want true")
	}

	future := node.Raft.GetConfiguration()
	if err := future.Error(); err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	var found bool
	for _, srv := range future.Configuration().Servers {
		if srv.ID == ServerID(2) {
			found = true
			if srv.Suffrage != raft.Nonvoter {
				t.Errorf("added server Suffrage = %v, want raft.Nonvoter", srv.Suffrage)
			}
		}
	}
	if !found {
		t.Fatal("added server not found in configuration")
	}
}

func TestNodeHasMemberFalseForUnknown(t *testing.T) {
	node := newBootstrappedNode(t)
	if node.HasMember(42) {
		t.Error("HasMember(42) = true, want false (never added)")
	}
}

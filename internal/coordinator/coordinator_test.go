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

package coordinator

import (
	"testing"
	"time"

	"github.com/hashicorp/raft"

	"flydb/internal/consensus"
	"flydb/internal/datastore"
	"flydb/internal/queue"
	"flydb/internal/raftmsg"
)

type fakeClient struct {
	value interface{}
	err   error
	got   bool
}

func (c *fakeClient) Reply(v interface{}) {
	c.value = v
	c.got = true
}

func (c *fakeClient) ReplyError(err error) {
	c.err = err
	c.got = true
}

func noopResolver(raft.ServerID) (raftmsg.NodeID, raftmsg.NodeAddr, bool) {
	return 0, raftmsg.NodeAddr{}, false
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	localAddr, err := raftmsg.ParseNodeAddr("127.0.0.1:9101")
	if err != nil {
		t.Fatalf("ParseNodeAddr: %v", err)
	}
	node, err := consensus.NewNode(consensus.Options{
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

	reqQ := queue.NewRequestQueue(8)
	c := New(node, reqQ, nil, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if node.IsLeader() {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("node never became leader")
	return nil
}

func TestHandleAddNodeSucceeds(t *testing.T) {
	c := newTestCoordinator(t)
	peerAddr, err := raftmsg.ParseNodeAddr("127.0.0.1:9102")
	if err != nil {
		t.Fatalf("ParseNodeAddr: %v", err)
	}
	client := &fakeClient{}

	c.handleRequest(&raftmsg.Request{
		Tag:     raftmsg.ReqAddNode,
		Client:  client,
		AddNode: raftmsg.AddNodeParams{ID: 2, Addr: peerAddr},
	})

	if client.err != nil {
		t.Fatalf("unexpected error: %v", client.err)
	}
	if client.value != "OK" {
		t.Fatalf("value = %v, want OK", client.value)
	}
}

func TestHandleAddNodeRejectsExistingMember(t *testing.T) {
	c := newTestCoordinator(t)
	peerAddr, err := raftmsg.ParseNodeAddr("127.0.0.1:9103")
	if err != nil {
		t.Fatalf("ParseNodeAddr: %v", err)
	}

	first := &fakeClient{}
	c.handleRequest(&raftmsg.Request{
		Tag:     raftmsg.ReqAddNode,
		Client:  first,
		AddNode: raftmsg.AddNodeParams{ID: 5, Addr: peerAddr},
	})
	if first.err != nil {
		t.Fatalf("first add: unexpected error: %v", first.err)
	}

	second := &fakeClient{}
	c.handleRequest(&raftmsg.Request{
		Tag:     raftmsg.ReqAddNode,
		Client:  second,
		AddNode: raftmsg.AddNodeParams{ID: 5, Addr: peerAddr},
	})
	if second.err == nil {
		t.Fatal("expected NodeExists error on duplicate RAFT.ADDNODE")
	}
}

func TestHandleRedisCommandAppliesAndReplies(t *testing.T) {
	c := newTestCoordinator(t)
	client := &fakeClient{}

	c.handleRequest(&raftmsg.Request{
		Tag:           raftmsg.ReqRedisCommand,
		Client:        client,
		Command:       raftmsg.RedisCommandParams{Argv: [][]byte{[]byte("SET"), []byte("k"), []byte("v")}},
		CorrelationID: "corr-1",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !client.got {
		time.Sleep(10 * time.Millisecond)
	}
	if !client.got {
		t.Fatal("client was never replied to after entry should have applied")
	}
	if client.err != nil {
		t.Fatalf("unexpected error: %v", client.err)
	}
}

func TestHandleRequestUnknownTagReplyError(t *testing.T) {
	c := newTestCoordinator(t)
	client := &fakeClient{}
	c.handleRequest(&raftmsg.Request{Tag: raftmsg.RequestTag(99), Client: client})
	if client.err == nil {
		t.Fatal("expected InvalidMessage error for unknown request tag")
	}
}

func TestHandleMigrateKeysWithoutHandlerReplyError(t *testing.T) {
	c := newTestCoordinator(t)
	client := &fakeClient{}
	c.handleRequest(&raftmsg.Request{
		Tag:     raftmsg.ReqMigrateKeys,
		Client:  client,
		Migrate: raftmsg.MigrateKeysParams{ShardGroupID: "sg", Keys: [][]byte{[]byte("k")}},
	})
	if client.err == nil {
		t.Fatal("expected error: no onMigrate handler wired")
	}
}

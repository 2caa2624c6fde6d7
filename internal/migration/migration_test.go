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

package migration

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"flydb/internal/datastore"
	"flydb/internal/nodelink"
	"flydb/internal/raftmsg"
)

type fakeCommitter struct {
	keys   [][]byte
	client raftmsg.BlockedClient
}

func (c *fakeCommitter) SubmitDeleteUnlockKeys(keys [][]byte, client raftmsg.BlockedClient) error {
	c.keys = keys
	c.client = client
	if client != nil {
		client.Reply("OK")
	}
	return nil
}

type fakeClient struct {
	value interface{}
	err   error
}

func (c *fakeClient) Reply(v interface{})  { c.value = v }
func (c *fakeClient) ReplyError(err error) { c.err = err }

func startImportServer(t *testing.T, store datastore.Store) raftmsg.NodeAddr {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	importFn := ImportHandler(store)
	handler := func(kind nodelink.Kind, body json.RawMessage) (nodelink.Kind, interface{}, error) {
		if kind != nodelink.KindImport {
			return 0, nil, fmt.Errorf("unexpected kind %v", kind)
		}
		var ib nodelink.ImportBody
		if err := json.Unmarshal(body, &ib); err != nil {
			return 0, nil, err
		}
		resp, err := importFn(ib)
		if err != nil {
			return 0, nil, err
		}
		return nodelink.KindImportResp, resp, nil
	}

	server := nodelink.NewServer(listener, handler)
	go server.Serve()
	t.Cleanup(func() { server.Close() })

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return raftmsg.NodeAddr{Host: host, Port: uint16(port)}
}

func TestMigrationRunFullSuccess(t *testing.T) {
	srcStore := datastore.NewMemory()
	if _, err := srcStore.Execute([][]byte{[]byte("SET"), []byte("a"), []byte("va")}); err != nil {
		t.Fatalf("SET: %v", err)
	}
	if _, err := srcStore.Execute([][]byte{[]byte("SET"), []byte("b"), []byte("vb")}); err != nil {
		t.Fatalf("SET: %v", err)
	}

	destStore := datastore.NewMemory()
	destAddr := startImportServer(t, destStore)

	pool := nodelink.NewPool(2 * time.Second)
	committer := &fakeCommitter{}
	groups := func(id string) (raftmsg.ShardGroup, bool) {
		if id != "sg-1" {
			return raftmsg.ShardGroup{}, false
		}
		return raftmsg.ShardGroup{ID: id, Peers: []raftmsg.NodeAddr{destAddr}}, true
	}

	engine := NewEngine(srcStore, pool, groups, committer)
	client := &fakeClient{}
	req := &raftmsg.Request{
		Client: client,
		Migrate: raftmsg.MigrateKeysParams{
			ShardGroupID: "sg-1",
			Keys:         [][]byte{[]byte("a"), []byte("b"), []byte("missing")},
		},
	}

	engine.Run(req, 7)

	if client.err != nil {
		t.Fatalf("unexpected client error: %v", client.err)
	}
	if client.value != "OK" {
		t.Fatalf("client.value = %v, want OK", client.value)
	}

	if len(committer.keys) != 2 {
		t.Fatalf("committer.keys = %q, want 2 keys (a, b)", committer.keys)
	}
	got := map[string]bool{}
	for _, k := range committer.keys {
		got[string(k)] = true
	}
	if !got["a"] || !got["b"] {
		t.Errorf("committer.keys = %q, want {a, b}", committer.keys)
	}

	for _, want := range []struct{ key, value string }{{"a", "va"}, {"b", "vb"}} {
		v, ok, err := destStore.Dump([]byte(want.key))
		if err != nil || !ok {
			t.Fatalf("destStore.Dump(%q) = %q, %v, %v", want.key, v, ok, err)
		}
		if string(v) != want.value {
			t.Errorf("destStore[%q] = %q, want %q", want.key, v, want.value)
		}
	}
}

func TestMigrationRunNoKeysPresent(t *testing.T) {
	srcStore := datastore.NewMemory()
	destStore := datastore.NewMemory()
	destAddr := startImportServer(t, destStore)

	pool := nodelink.NewPool(2 * time.Second)
	committer := &fakeCommitter{}
	groups := func(id string) (raftmsg.ShardGroup, bool) {
		return raftmsg.ShardGroup{ID: id, Peers: []raftmsg.NodeAddr{destAddr}}, true
	}

	engine := NewEngine(srcStore, pool, groups, committer)
	client := &fakeClient{}
	req := &raftmsg.Request{
		Client: client,
		Migrate: raftmsg.MigrateKeysParams{
			ShardGroupID: "sg-1",
			Keys:         [][]byte{[]byte("ghost")},
		},
	}

	engine.Run(req, 1)

	if client.err != nil {
		t.Fatalf("unexpected error: %v", client.err)
	}
	if client.value != "OK" {
		t.Fatalf("value = %v, want OK", client.value)
	}
	if committer.client != nil {
		t.Error("commit should never be reached when nothing was captured")
	}
}

func TestMigrationRunUnknownShardGroup(t *testing.T) {
	srcStore := datastore.NewMemory()
	pool := nodelink.NewPool(time.Second)
	committer := &fakeCommitter{}
	groups := func(id string) (raftmsg.ShardGroup, bool) { return raftmsg.ShardGroup{}, false }

	engine := NewEngine(srcStore, pool, groups, committer)
	client := &fakeClient{}
	req := &raftmsg.Request{
		Client:  client,
		Migrate: raftmsg.MigrateKeysParams{ShardGroupID: "nope", Keys: [][]byte{[]byte("a")}},
	}

	engine.Run(req, 1)

	if client.err == nil {
		t.Fatal("expected error for unresolvable shard group")
	}
}

func TestMigrationRunNoPeersInGroup(t *testing.T) {
	srcStore := datastore.NewMemory()
	if _, err := srcStore.Execute([][]byte{[]byte("SET"), []byte("a"), []byte("va")}); err != nil {
		t.Fatalf("SET: %v", err)
	}
	pool := nodelink.NewPool(time.Second)
	committer := &fakeCommitter{}
	groups := func(id string) (raftmsg.ShardGroup, bool) {
		return raftmsg.ShardGroup{ID: id, Peers: nil}, true
	}

	engine := NewEngine(srcStore, pool, groups, committer)
	client := &fakeClient{}
	req := &raftmsg.Request{
		Client:  client,
		Migrate: raftmsg.MigrateKeysParams{ShardGroupID: "sg-1", Keys: [][]byte{[]byte("a")}},
	}

	engine.Run(req, 1)

	if client.err == nil {
		t.Fatal("expected error: shard group has no peers to transfer to")
	}
	if !strings.Contains(client.err.Error(), "no peers") {
		t.Errorf("error = %v, want a no-peers message", client.err)
	}
}

func TestChecksumDetectsTamper(t *testing.T) {
	sum1, err := Checksum([]byte("payload"))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	sum2, err := Checksum([]byte("payload!"))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if sum1 == sum2 {
		t.Error("different payloads produced the same checksum")
	}
}

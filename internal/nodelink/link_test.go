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

package nodelink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"flydb/internal/raftmsg"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := envelope{Kind: KindAppendEntries, Seq: 7, Body: json.RawMessage(`{"a":1}`)}
	if err := writeEnvelope(&buf, in); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	out, err := readEnvelope(&buf)
	if err != nil {
		t.Fatalf("readEnvelope: %v", err)
	}
	if out.Kind != in.Kind || out.Seq != in.Seq || string(out.Body) != string(in.Body) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func echoHandler(kind Kind, body json.RawMessage) (Kind, interface{}, error) {
	if kind == KindRequestVote {
		var req RequestVoteBody
		if err := json.Unmarshal(body, &req); err != nil {
			return 0, nil, err
		}
		return KindRequestVoteResp, RequestVoteRespBody{Term: req.Term, Granted: true}, nil
	}
	return 0, nil, fmt.Errorf("nodelink: unhandled kind %v", kind)
}

func startEchoServer(t *testing.T) raftmsg.NodeAddr {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	server := NewServer(listener, echoHandler)
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

func TestLinkCallRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	link := NewLink(addr, 2*time.Second)
	defer link.Close()

	raw, err := link.Call(KindRequestVote, RequestVoteBody{Term: 3, CandidateID: []byte("1")})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var resp RequestVoteRespBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Term != 3 || !resp.Granted {
		t.Errorf("resp = %+v, want Term=3 Granted=true", resp)
	}
}

func TestLinkCallUnknownKindReturnsRemoteError(t *testing.T) {
	addr := startEchoServer(t)
	link := NewLink(addr, 2*time.Second)
	defer link.Close()

	_, err := link.Call(KindAppendEntries, AppendEntriesBody{Term: 1})
	if err == nil {
		t.Fatal("expected error for an unhandled kind")
	}
}

func TestLinkCallAfterCloseFails(t *testing.T) {
	addr := startEchoServer(t)
	link := NewLink(addr, 2*time.Second)
	link.Close()

	if _, err := link.Call(KindRequestVote, RequestVoteBody{}); err != ErrLinkClosed {
		t.Errorf("Call after Close = %v, want ErrLinkClosed", err)
	}
}

func TestPoolGetReusesLinkForSameID(t *testing.T) {
	pool := NewPool(time.Second)
	addr := raftmsg.NodeAddr{Host: "127.0.0.1", Port: 9}

	a := pool.Get(1, addr)
	b := pool.Get(1, addr)
	if a != b {
		t.Error("Get(1, ...) twice should return the same Link")
	}

	if _, ok := pool.Lookup(1); !ok {
		t.Error("Lookup(1) should find the link created by Get")
	}
	if _, ok := pool.Lookup(2); ok {
		t.Error("Lookup(2) should not find a link that was never created")
	}

	pool.Remove(1)
	if _, ok := pool.Lookup(1); ok {
		t.Error("Lookup(1) should fail after Remove(1)")
	}
}

func TestPoolCloseAllClearsLinks(t *testing.T) {
	pool := NewPool(time.Second)
	pool.Get(1, raftmsg.NodeAddr{Host: "127.0.0.1", Port: 9})
	pool.Get(2, raftmsg.NodeAddr{Host: "127.0.0.1", Port: 10})

	pool.CloseAll()

	if _, ok := pool.Lookup(1); ok {
		t.Error("Lookup(1) should fail after CloseAll")
	}
	if _, ok := pool.Lookup(2); ok {
		t.Error("Lookup(2) should fail after CloseAll")
	}
}

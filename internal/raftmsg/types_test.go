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

package raftmsg

import "testing"

func TestParseNodeAddrRoundTrip(t *testing.T) {
	cases := []string{"127.0.0.1:9001", "localhost:1", "raft-2.internal:65535"}
	for _, s := range cases {
		addr, err := ParseNodeAddr(s)
		if err != nil {
			t.Fatalf("ParseNodeAddr(%q): %v", s, err)
		}
		if got := addr.String(); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestParseNodeAddrRejects(t *testing.T) {
	cases := []string{"", "noport", "host:", "host:0", "host:99999", "ho:st:9001"}
	for _, s := range cases {
		if _, err := ParseNodeAddr(s); err == nil {
			t.Errorf("ParseNodeAddr(%q) = nil error, want error", s)
		}
	}
}

func TestNodeIDValid(t *testing.T) {
	if NodeID(0).Valid() {
		t.Error("NodeID(0) should not be valid")
	}
	if !NodeID(1).Valid() {
		t.Error("NodeID(1) should be valid")
	}
}

func TestMigrationStatePresentKeys(t *testing.T) {
	state := &MigrationState{
		Keys: [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		KeysSerialized: [][]byte{
			[]byte("dump-a"),
			nil, // b was already gone at capture time
			[]byte("dump-c"),
		},
		NumSerialized: 2,
	}

	present := state.PresentKeys()
	if len(present) != 2 {
		t.Fatalf("len(PresentKeys()) = %d, want 2", len(present))
	}
	if string(present[0]) != "a" || string(present[1]) != "c" {
		t.Errorf("PresentKeys() = %q, want [a c]", present)
	}
}

func TestMigrationStatePresentKeysEmpty(t *testing.T) {
	state := &MigrationState{
		Keys:           [][]byte{[]byte("a")},
		KeysSerialized: [][]byte{nil},
	}
	if present := state.PresentKeys(); len(present) != 0 {
		t.Errorf("PresentKeys() = %q, want empty", present)
	}
}

func TestRequestTagString(t *testing.T) {
	cases := map[RequestTag]string{
		ReqAddNode:       "AddNode",
		ReqAppendEntries: "AppendEntries",
		ReqRequestVote:   "RequestVote",
		ReqRedisCommand:  "RedisCommand",
		ReqMigrateKeys:   "MigrateKeys",
		RequestTag(99):   "Unknown",
	}
	for tag, want := range cases {
		if got := tag.String(); got != want {
			t.Errorf("RequestTag(%d).String() = %q, want %q", tag, got, want)
		}
	}
}

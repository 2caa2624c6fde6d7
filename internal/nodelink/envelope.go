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
Package nodelink is the replication engine's own node-to-node wire
client: a pooled, reconnecting TCP link per peer carrying
RAFT.REQUESTVOTE, RAFT.APPENDENTRIES and RAFT.IMPORT calls, framed with
the same magic/version/type/length header internal/protocol uses for
client connections.

internal/consensus's Transport wraps a Pool of these Links to satisfy
hashicorp/raft's raft.Transport interface, so the Raft library drives
elections and replication entirely over this package's wire format
rather than the default net transport that ships with
github.com/hashicorp/raft.
*/
package nodelink

import (
	"encoding/json"
	"errors"
	"io"

	"flydb/internal/protocol"
)

// Kind identifies the RPC carried by an envelope.
type Kind byte

const (
	KindRequestVote Kind = iota + 1
	KindRequestVoteResp
	KindAppendEntries
	KindAppendEntriesResp
	KindInstallSnapshot
	KindInstallSnapshotResp
	KindTimeoutNow
	KindTimeoutNowResp
	KindImport
	KindImportResp
	KindErrorResp
)

// protocol.MessageType values reserved for node-link traffic, distinct
// from the client-facing message types protocol.go already defines.
const (
	msgTypeNodeLink protocol.MessageType = 0x40
)

// ErrLinkClosed is returned by Call once a Link has been closed.
var ErrLinkClosed = errors.New("nodelink: link closed")

// envelope is the JSON body written as a single protocol message's
// payload. Seq correlates a response to its request on links that
// multiplex; the pooled-connection Link below allocates a fresh
// connection per outstanding call so Seq is mostly a diagnostic aid,
// but it is still checked to catch a desynchronized peer early.
type envelope struct {
	Kind Kind            `json:"kind"`
	Seq  uint64          `json:"seq"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  string          `json:"err,omitempty"`
}

func writeEnvelope(w io.Writer, e envelope) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return protocol.WriteMessage(w, msgTypeNodeLink, body)
}

func readEnvelope(r io.Reader) (envelope, error) {
	msg, err := protocol.ReadMessage(r)
	if err != nil {
		return envelope{}, err
	}
	if msg.Header.Type != msgTypeNodeLink {
		return envelope{}, errors.New("nodelink: unexpected message type")
	}
	var e envelope
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return envelope{}, err
	}
	return e, nil
}

// RequestVoteBody mirrors raft.RequestVoteRequest's wire-relevant
// fields so internal/consensus can translate without this package
// importing hashicorp/raft.
type RequestVoteBody struct {
	Term               uint64 `json:"term"`
	CandidateID        []byte `json:"candidate_id"`
	LastLogIndex       uint64 `json:"last_log_index"`
	LastLogTerm        uint64 `json:"last_log_term"`
	LeadershipTransfer bool   `json:"leadership_transfer,omitempty"`
}

// RequestVoteRespBody is a RAFT.REQUESTVOTE reply.
type RequestVoteRespBody struct {
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
}

// LogEntryBody mirrors raft.Log's wire-relevant fields.
type LogEntryBody struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
	Type  byte   `json:"type"`
	Data  []byte `json:"data"`
}

// AppendEntriesBody mirrors raft.AppendEntriesRequest.
type AppendEntriesBody struct {
	Term              uint64         `json:"term"`
	Leader            []byte         `json:"leader"`
	PrevLogEntry      uint64         `json:"prev_log_entry"`
	PrevLogTerm       uint64         `json:"prev_log_term"`
	Entries           []LogEntryBody `json:"entries,omitempty"`
	LeaderCommitIndex uint64         `json:"leader_commit_index"`
}

// AppendEntriesRespBody is a RAFT.APPENDENTRIES reply.
type AppendEntriesRespBody struct {
	Term           uint64 `json:"term"`
	LastLog        uint64 `json:"last_log"`
	Success        bool   `json:"success"`
	NoRetryBackoff bool   `json:"no_retry_backoff"`
}

// InstallSnapshotBody mirrors raft.InstallSnapshotRequest's header;
// the snapshot bytes themselves stream as the remainder of the
// connection payload rather than being embedded in the envelope.
type InstallSnapshotBody struct {
	Term               uint64         `json:"term"`
	Leader             []byte         `json:"leader"`
	LastLogIndex       uint64         `json:"last_log_index"`
	LastLogTerm        uint64         `json:"last_log_term"`
	Configuration      []byte         `json:"configuration"`
	ConfigurationIndex uint64         `json:"configuration_index"`
	Size               int64          `json:"size"`
	Entries            []LogEntryBody `json:"entries,omitempty"`
}

// InstallSnapshotRespBody is an install-snapshot reply.
type InstallSnapshotRespBody struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
}

// TimeoutNowBody mirrors raft.TimeoutNowRequest (empty payload today,
// kept as a struct for forward compatibility).
type TimeoutNowBody struct{}

// TimeoutNowRespBody is a timeout-now reply.
type TimeoutNowRespBody struct{}

// ImportBody is a RAFT.IMPORT migration request: a batch of
// already-serialized key/value dumps to adopt locally. Serialized
// entries are compressed with CompressAlgo whenever it is non-empty
// (see internal/migration, which wires internal/compression in here).
type ImportBody struct {
	ShardGroupID string   `json:"shard_group_id"`
	Keys         [][]byte `json:"keys"`
	Serialized   [][]byte `json:"serialized"`
	CompressAlgo string   `json:"compress_algo,omitempty"`
	Checksum     [][]byte `json:"checksum,omitempty"`
}

// ImportRespBody is a RAFT.IMPORT reply.
type ImportRespBody struct {
	Imported int    `json:"imported"`
	Err      string `json:"err,omitempty"`
}

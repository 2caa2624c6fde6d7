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
Package migration implements cross-shard-group key migration in the
three phases the original MigrateKeys/transferKeys/
raftAppendRaftDeleteEntry sequence used: Capture (DUMP every key that
still exists locally), Transfer (ship the dumps to the destination
shard group over a RAFT.IMPORT call), and Commit (once the remote side
acknowledges, submit a DeleteUnlockKeys log entry so every node drops
and unlocks the migrated keys together).

A key with no local value at Capture time is simply skipped - it is
not an error, since two overlapping migrations or a stale key list can
both legitimately race a deletion.
*/
package migration

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"flydb/internal/compression"
	"flydb/internal/datastore"
	"flydb/internal/errors"
	"flydb/internal/logging"
	"flydb/internal/nodelink"
	"flydb/internal/raftmsg"
)

// Committer is the subset of the coordinator the migration engine
// needs: the ability to submit a DeleteUnlockKeys entry through the
// single-writer request path once transfer has succeeded.
type Committer interface {
	SubmitDeleteUnlockKeys(keys [][]byte, client raftmsg.BlockedClient) error
}

// GroupResolver looks up a shard group's current peer list by id, the
// external shard-group-directory collaborator spec §1 calls out as
// out of scope to implement here.
type GroupResolver func(id string) (raftmsg.ShardGroup, bool)

// Engine drives one migration request end to end.
type Engine struct {
	log        *logging.Logger
	store      datastore.Store
	pool       *nodelink.Pool
	groups     GroupResolver
	commit     Committer
	compressor *compression.Compressor
	nextNode   raftmsg.NodeID
}

// NewEngine creates a migration Engine. Captured dumps are compressed
// with zstd (DefaultConfig's algorithm, overridden here since the
// transfer payload is an opaque blob rather than structured rows)
// before they go out over RAFT.IMPORT.
func NewEngine(store datastore.Store, pool *nodelink.Pool, groups GroupResolver, commit Committer) *Engine {
	cfg := compression.DefaultConfig()
	cfg.Algorithm = compression.AlgorithmZstd
	cfg.MinSize = 0 // every transferred dump is compressed uniformly, never mixed with raw bytes in one batch
	return &Engine{
		log:        logging.NewLogger("migration"),
		store:      store,
		pool:       pool,
		groups:     groups,
		commit:     commit,
		compressor: compression.NewCompressor(cfg),
	}
}

// Run executes Capture -> Transfer -> Commit for req, replying to
// req.Client at whichever phase concludes the operation: immediately
// with OK if nothing needed migrating, with a transport error if the
// remote side couldn't be reached or rejected the import, or
// asynchronously (via the commit queue, once the DeleteUnlockKeys
// entry is applied) on full success.
func (e *Engine) Run(req *raftmsg.Request, term uint64) {
	group, ok := e.groups(req.Migrate.ShardGroupID)
	if !ok {
		if req.Client != nil {
			req.Client.ReplyError(fmt.Errorf("couldn't resolve shardgroup id"))
		}
		return
	}

	state := &raftmsg.MigrationState{
		ShardGroupID: req.Migrate.ShardGroupID,
		MigrateTerm:  term,
		Keys:         req.Migrate.Keys,
		Peers:        group.Peers,
	}

	if err := e.capture(state); err != nil {
		if req.Client != nil {
			req.Client.ReplyError(err)
		}
		return
	}

	if state.NumSerialized == 0 {
		if req.Client != nil {
			req.Client.Reply("OK")
		}
		return
	}

	if err := e.transfer(state); err != nil {
		if req.Client != nil {
			req.Client.ReplyError(err)
		}
		return
	}

	if err := e.commit.SubmitDeleteUnlockKeys(state.PresentKeys(), req.Client); err != nil {
		if req.Client != nil {
			req.Client.ReplyError(err)
		}
	}
}

// capture locks and DUMPs every key that still exists locally,
// leaving a hole in state.KeysSerialized (not an error) for any key
// already gone.
func (e *Engine) capture(state *raftmsg.MigrationState) error {
	state.KeysSerialized = make([][]byte, len(state.Keys))

	for i, key := range state.Keys {
		dump, ok, err := e.store.Dump(key)
		if err != nil {
			return fmt.Errorf("migration: dump %q: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := e.store.Lock(key); err != nil {
			return fmt.Errorf("migration: lock %q: %w", key, err)
		}
		state.KeysSerialized[i] = dump
		state.NumSerialized++
	}
	return nil
}

// transfer ships the captured dumps to every node in the destination
// shard group until one accepts them, matching the original's single
// outbound connection per migration (it does not fan out to every
// peer concurrently; the first reachable node that ack's is enough,
// since shard group members replicate the import amongst themselves).
func (e *Engine) transfer(state *raftmsg.MigrationState) error {
	if len(state.Peers) == 0 {
		return fmt.Errorf("migration: shard group %q has no peers", state.ShardGroupID)
	}

	keys := make([][]byte, 0, state.NumSerialized)
	serialized := make([][]byte, 0, state.NumSerialized)
	for i, s := range state.KeysSerialized {
		if s == nil {
			continue
		}
		keys = append(keys, state.Keys[i])
		serialized = append(serialized, s)
	}

	packed, algo, checksums, err := e.compressAll(serialized)
	if err != nil {
		return fmt.Errorf("migration: compress payload: %w", err)
	}

	body := nodelink.ImportBody{
		ShardGroupID: state.ShardGroupID,
		Keys:         keys,
		Serialized:   packed,
		CompressAlgo: algo,
		Checksum:     checksums,
	}

	var lastErr error
	for _, addr := range state.Peers {
		link := e.pool.Get(e.transientNodeID(), addr)
		raw, err := link.Call(nodelink.KindImport, body)
		if err != nil {
			lastErr = errors.MigrationTransportFailed()
			e.log.Warn("RAFT.IMPORT failed, trying next peer", "peer", addr, "migrate_term", state.MigrateTerm, "err", err)
			continue
		}
		var resp nodelink.ImportRespBody
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = errors.MigrationUnexpectedResponse()
			continue
		}
		if resp.Err != "" {
			lastErr = errors.MigrationRemoteError(resp.Err)
			continue
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return errors.MigrationTransportFailed()
}

// compressAll compresses each serialized dump and returns the
// configured algorithm name alongside a blake2b-256 checksum per
// entry, so ImportHandler can detect a corrupted transfer before it
// ever reaches datastore.Store.Restore.
func (e *Engine) compressAll(serialized [][]byte) (packed [][]byte, algo string, checksums [][]byte, err error) {
	packed = make([][]byte, len(serialized))
	checksums = make([][]byte, len(serialized))
	for i, blob := range serialized {
		sum, cerr := Checksum(blob)
		if cerr != nil {
			return nil, "", nil, cerr
		}
		checksums[i] = sum[:]
		out, cerr := e.compressor.Compress(blob)
		if cerr != nil {
			return nil, "", nil, cerr
		}
		packed[i] = out
	}
	return packed, e.compressor.Algorithm().String(), checksums, nil
}

// transientNodeID mints a throwaway key for the node-link pool when
// dialing a shard group peer that isn't a Raft voter in this cluster
// and so has no stable raftmsg.NodeID of its own. Each call gets a
// fresh id so transfer never reuses a pooled connection across
// unrelated peer addresses.
func (e *Engine) transientNodeID() raftmsg.NodeID {
	e.nextNode++
	return raftmsg.NodeID(1<<32) + e.nextNode
}

// Checksum returns a blake2b-256 digest of payload, used to verify a
// RAFT.IMPORT transfer landed intact on the receiving side before it
// acknowledges.
func Checksum(payload []byte) ([32]byte, error) {
	sum := blake2b.Sum256(payload)
	return sum, nil
}

// ImportHandler is run on the receiving side of a RAFT.IMPORT call
// (cmd/emberdb-server's node-link handler routes KindImport here
// before handing every other kind to consensus.Transport.Handle, since
// importing keys is this engine's own concern, not hashicorp/raft's).
func ImportHandler(store datastore.Store) func(body nodelink.ImportBody) (nodelink.ImportRespBody, error) {
	return func(body nodelink.ImportBody) (nodelink.ImportRespBody, error) {
		if len(body.Keys) != len(body.Serialized) {
			return nodelink.ImportRespBody{}, fmt.Errorf("migration: mismatched key/value counts")
		}
		algo, err := compression.ParseAlgorithm(body.CompressAlgo)
		if err != nil {
			return nodelink.ImportRespBody{}, fmt.Errorf("migration: %w", err)
		}
		decomp := compression.NewCompressor(compression.Config{Algorithm: algo})
		for i, key := range body.Keys {
			blob := body.Serialized[i]
			if algo != compression.AlgorithmNone {
				blob, err = decomp.Decompress(blob, algo)
				if err != nil {
					return nodelink.ImportRespBody{}, fmt.Errorf("migration: decompress %q: %w", key, err)
				}
			}
			if i < len(body.Checksum) {
				sum, err := Checksum(blob)
				if err != nil {
					return nodelink.ImportRespBody{}, err
				}
				if !bytes.Equal(sum[:], body.Checksum[i]) {
					return nodelink.ImportRespBody{}, fmt.Errorf("migration: checksum mismatch for %q", key)
				}
			}
			if err := store.Restore(key, blob); err != nil {
				return nodelink.ImportRespBody{}, fmt.Errorf("migration: restore %q: %w", key, err)
			}
		}
		return nodelink.ImportRespBody{Imported: len(body.Keys)}, nil
	}
}

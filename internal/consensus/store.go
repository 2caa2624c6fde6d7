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
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/raft"
	boltdb "github.com/hashicorp/raft-boltdb/v2"
)

// LogStores bundles the three persistence ports raft.NewRaft needs
// beyond the FSM: the replicated log itself, small pieces of durable
// state (current term, vote), and snapshots.
type LogStores struct {
	Log       raft.LogStore
	Stable    raft.StableStore
	Snapshots raft.SnapshotStore
	closer    func() error
}

// Close releases any file handles the stores opened.
func (s *LogStores) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// NewMemoryStores builds volatile, in-process stores, used for tests
// and for nodes that intentionally never persist across restarts.
func NewMemoryStores() *LogStores {
	return &LogStores{
		Log:       raft.NewInmemStore(),
		Stable:    raft.NewInmemStore(),
		Snapshots: raft.NewInmemSnapshotStore(),
	}
}

// NewBoltStores builds durable stores rooted at dataDir: a single
// raft-boltdb file for the log and stable store, plus Raft's own
// file-based snapshot store alongside it. This is the store pairing a
// production node should run with RaftDataDir set.
func NewBoltStores(dataDir string, retainSnapshots int, logOutput *os.File) (*LogStores, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("consensus: create raft data dir: %w", err)
	}

	boltPath := filepath.Join(dataDir, "raft-log.db")
	bstore, err := boltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("consensus: open bolt store: %w", err)
	}

	snapDir := filepath.Join(dataDir, "snapshots")
	if retainSnapshots <= 0 {
		retainSnapshots = 2
	}
	out := logOutput
	if out == nil {
		out = os.Stderr
	}
	snaps, err := raft.NewFileSnapshotStore(snapDir, retainSnapshots, out)
	if err != nil {
		bstore.Close()
		return nil, fmt.Errorf("consensus: open snapshot store: %w", err)
	}

	return &LogStores{
		Log:       bstore,
		Stable:    bstore,
		Snapshots: snaps,
		closer:    bstore.Close,
	}, nil
}

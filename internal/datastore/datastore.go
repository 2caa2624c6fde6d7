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
Package datastore is the boundary between the replication engine and
the host key/value store. The engine never touches keys directly: it
deserializes a committed CommandArray and hands each command's argv to
Store.Execute, and it drives migration through Store.Dump/Restore and
the per-key lock primitives, exactly as spec'd as external
collaborators the replication engine consumes rather than implements.

The in-memory Memory implementation here exists so the replication
packages are independently testable; a production binary wires a real
storage engine behind the same interface.
*/
package datastore

import (
	"fmt"
	"sync"
)

// Store is the data-store surface the replication engine depends on.
// Everything here is provided by the host process; this package does
// not implement a real storage engine.
type Store interface {
	// Execute runs one already-committed command (argv form, as
	// decoded from a codec.Command) against local state and returns
	// its reply or an error. Execute must be idempotent with respect
	// to log replay: the coordinator guarantees at-most-once
	// scheduling, but a process restart may re-apply the last
	// snapshot plus trailing log, so handlers for destructive
	// commands should be naturally idempotent (e.g. DEL, SET) rather
	// than relying on the caller to suppress duplicates.
	Execute(argv [][]byte) (interface{}, error)

	// Dump serializes the current value of key for transfer to
	// another node. The boolean reports whether the key existed.
	Dump(key []byte) ([]byte, bool, error)

	// Restore installs a previously-Dumped payload under key,
	// overwriting any existing value.
	Restore(key []byte, serialized []byte) error

	// Lock marks key as unavailable for local commands while a
	// migration is in flight; Unlock (or UnlockAndDelete) reverses
	// it.
	Lock(key []byte) error

	// UnlockAndDelete removes the lock placed by Lock and deletes
	// key, the effect of a committed DeleteUnlockKeys log entry at
	// the end of a successful migration.
	UnlockAndDelete(key []byte) error
}

// ErrKeyLocked is returned by Execute when a command targets a key
// currently locked for migration.
type ErrKeyLocked struct{ Key string }

func (e *ErrKeyLocked) Error() string {
	return fmt.Sprintf("datastore: key %q is locked for migration", e.Key)
}

// Memory is a minimal, mutex-guarded in-memory Store used by the
// replication engine's own tests and by standalone/demo binaries.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	locked map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		locked: make(map[string]struct{}),
	}
}

// Execute supports the small command set the replication engine's
// own tests exercise: SET, GET, DEL. A real deployment's command
// table is far larger; the replication engine is agnostic to it.
func (m *Memory) Execute(argv [][]byte) (interface{}, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("datastore: empty command")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := string(argv[0])
	switch cmd {
	case "SET", "set":
		if len(argv) != 3 {
			return nil, fmt.Errorf("datastore: SET requires key and value")
		}
		key := string(argv[1])
		if _, locked := m.locked[key]; locked {
			return nil, &ErrKeyLocked{Key: key}
		}
		m.values[key] = append([]byte(nil), argv[2]...)
		return "OK", nil
	case "GET", "get":
		if len(argv) != 2 {
			return nil, fmt.Errorf("datastore: GET requires key")
		}
		v, ok := m.values[string(argv[1])]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "DEL", "del":
		if len(argv) != 2 {
			return nil, fmt.Errorf("datastore: DEL requires key")
		}
		key := string(argv[1])
		if _, locked := m.locked[key]; locked {
			return nil, &ErrKeyLocked{Key: key}
		}
		_, existed := m.values[key]
		delete(m.values, key)
		if existed {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("datastore: unknown command %q", cmd)
	}
}

// Dump returns a copy of the raw bytes stored under key.
func (m *Memory) Dump(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Restore installs serialized bytes under key verbatim.
func (m *Memory) Restore(key []byte, serialized []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[string(key)] = append([]byte(nil), serialized...)
	return nil
}

// Lock marks key as migration-locked.
func (m *Memory) Lock(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[string(key)] = struct{}{}
	return nil
}

// UnlockAndDelete clears the migration lock on key and deletes it.
func (m *Memory) UnlockAndDelete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	delete(m.locked, k)
	delete(m.values, k)
	return nil
}

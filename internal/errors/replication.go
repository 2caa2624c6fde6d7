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

package errors

// Replication errors (7000-7999): the CategoryReplication band covers
// the RAFT command surface's error kinds (§7 of the replication spec).
const (
	ErrCodeReplication        ErrorCode = 7000
	ErrCodeNoLeader           ErrorCode = 7001
	ErrCodeNotLeader          ErrorCode = 7002
	ErrCodeEntryLost          ErrorCode = 7003
	ErrCodeMigrationTransport ErrorCode = 7004
	ErrCodeMigrationRemote    ErrorCode = 7005
	ErrCodeInvalidMessage     ErrorCode = 7006
	ErrCodeNodeExists         ErrorCode = 7007
	ErrCodeInvalidNodeID      ErrorCode = 7008
	ErrCodeInvalidAddr        ErrorCode = 7009
	ErrCodeConsensus          ErrorCode = 7010
)

// CategoryReplication is the category for all replication-engine errors.
const CategoryReplication Category = "REPLICATION"

// NoLeader is returned for RAFT commands received while no leader is
// known. Its Message is exactly "-NOLEADER", and internal/server
// replies with that Message alone rather than the prefixed Error().
func NoLeader() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeNoLeader,
		Category: CategoryReplication,
		Message:  "-NOLEADER",
	}
}

// LeaderIs is returned to redirect a client to the current leader.
// Its Message is exactly "LEADERIS host:port", which internal/server
// replies with alone.
func LeaderIs(addr string) *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeNotLeader,
		Category: CategoryReplication,
		Message:  "LEADERIS " + addr,
	}
}

// EntryLost is returned when a pending commit's submitted entry was
// truncated by a new leader or term change.
func EntryLost() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeEntryLost,
		Category: CategoryReplication,
		Message:  "entry lost, retry",
	}
}

// MigrationTransportFailed reports a dropped connection during
// RAFT.IMPORT transfer.
func MigrationTransportFailed() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeMigrationTransport,
		Category: CategoryReplication,
		Message:  "Migrate failed importing keys into remote cluster, try again",
	}
}

// MigrationUnexpectedResponse reports a malformed RAFT.IMPORT reply.
func MigrationUnexpectedResponse() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeMigrationTransport,
		Category: CategoryReplication,
		Message:  "received unexpected response from remote cluster, see logs",
	}
}

// MigrationRemoteError wraps an error message the remote cluster
// replied with.
func MigrationRemoteError(detail string) *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeMigrationRemote,
		Category: CategoryReplication,
		Message:  detail,
	}
}

// InvalidMessage is returned when colon-delimited header parsing
// fails arity or format checks (§4.7).
func InvalidMessage() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeInvalidMessage,
		Category: CategoryReplication,
		Message:  "invalid message",
	}
}

// NodeExists is returned by RAFT.ADDNODE when the node id is already
// a cluster member.
func NodeExists() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeNodeExists,
		Category: CategoryReplication,
		Message:  "node id exists",
	}
}

// InvalidNodeID is returned for a non-positive node id.
func InvalidNodeID() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeInvalidNodeID,
		Category: CategoryReplication,
		Message:  "invalid node id",
	}
}

// InvalidAddr is returned for a malformed host:port address.
func InvalidAddr() *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeInvalidAddr,
		Category: CategoryReplication,
		Message:  "invalid node address",
	}
}

// ConsensusError wraps an error surfaced by the consensus library
// (e.g. raft.ErrNotLeader returned from raft_recv_entry).
func ConsensusError(cause error) *FlyDBError {
	return &FlyDBError{
		Code:     ErrCodeConsensus,
		Category: CategoryReplication,
		Message:  "consensus error",
		Cause:    cause,
	}
}

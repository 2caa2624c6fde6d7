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
Package errors provides SQLSTATE mappings for ODBC/JDBC compatibility.

SQLSTATE is a 5-character code defined by SQL standards (ISO/IEC 9075)
that provides standardized error codes across database systems.

Format: CCXXX where:
  - CC = Class (2 characters)
  - XXX = Subclass (3 characters)

Every FlyDBError, including the replication engine's own 7000-7999
band (replication.go), projects onto one of these so a driver talking
ODBC/JDBC to the embedding data store sees a standard class even for
errors this engine invented (a missing Raft leader looks like a
connection exception; a consensus-library failure looks like an
internal error).
*/
package errors

// SQLSTATE represents a standard SQL state code.
type SQLSTATE string

// Standard SQLSTATE codes this package actually maps to below.
const (
	SQLStateSuccess SQLSTATE = "00000"

	// Connection Exception (08xxx)
	SQLStateConnectionError    SQLSTATE = "08000"
	SQLStateConnectionFailure  SQLSTATE = "08001"
	SQLStateConnectionLinkFail SQLSTATE = "08S01"

	// Data Exception (22xxx)
	SQLStateDataException SQLSTATE = "22000"

	// Integrity Constraint Violation (23xxx)
	SQLStateIntegrityConstraint SQLSTATE = "23000"

	// Invalid Authorization (28xxx)
	SQLStateAuthError SQLSTATE = "28000"

	// Syntax Error or Access Rule Violation (42xxx)
	SQLStateSyntaxError SQLSTATE = "42000"

	// CLI-specific Condition (HYxxx) - ODBC specific; also the
	// catch-all default ToSQLSTATE falls back to.
	SQLStateCLIError SQLSTATE = "HY000"

	// Internal Error (XX)
	SQLStateInternalError SQLSTATE = "XX000"
)

// sqlstateMap maps FlyDB error codes to SQLSTATE codes.
var sqlstateMap = map[ErrorCode]SQLSTATE{
	ErrCodeSyntax:     SQLStateSyntaxError,
	ErrCodeExecution:  SQLStateCLIError,
	ErrCodeConnection: SQLStateConnectionError,
	ErrCodeAuth:       SQLStateAuthError,
	ErrCodeStorage:    SQLStateInternalError,
	ErrCodeValidation: SQLStateDataException,

	// Replication band (internal/errors/replication.go).
	ErrCodeReplication:        SQLStateCLIError,
	ErrCodeNoLeader:           SQLStateConnectionError,
	ErrCodeNotLeader:          SQLStateConnectionError,
	ErrCodeEntryLost:          SQLStateConnectionLinkFail,
	ErrCodeMigrationTransport: SQLStateConnectionFailure,
	ErrCodeMigrationRemote:    SQLStateInternalError,
	ErrCodeInvalidMessage:     SQLStateSyntaxError,
	ErrCodeNodeExists:         SQLStateIntegrityConstraint,
	ErrCodeInvalidNodeID:      SQLStateDataException,
	ErrCodeInvalidAddr:        SQLStateDataException,
	ErrCodeConsensus:          SQLStateInternalError,
}

// ToSQLSTATE converts a FlyDB error code to a SQLSTATE code.
func ToSQLSTATE(code ErrorCode) SQLSTATE {
	if state, ok := sqlstateMap[code]; ok {
		return state
	}
	return SQLStateCLIError
}

// GetSQLSTATE returns the SQLSTATE for a FlyDBError.
func GetSQLSTATE(err error) SQLSTATE {
	if e, ok := err.(*FlyDBError); ok {
		return ToSQLSTATE(e.Code)
	}
	return SQLStateCLIError
}

// SQLSTATEClass returns the 2-character class of a SQLSTATE.
func SQLSTATEClass(state SQLSTATE) string {
	if len(state) >= 2 {
		return string(state[:2])
	}
	return "HY"
}

// IsSuccessSQLSTATE returns true if the SQLSTATE indicates success.
func IsSuccessSQLSTATE(state SQLSTATE) bool {
	return SQLSTATEClass(state) == "00"
}

// IsErrorSQLSTATE returns true if the SQLSTATE indicates an error
// (i.e. not success and not a warning/no-data condition).
func IsErrorSQLSTATE(state SQLSTATE) bool {
	class := SQLSTATEClass(state)
	return class != "00" && class != "01" && class != "02"
}

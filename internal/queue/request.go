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
Package queue holds the two FIFOs the single-threaded coordinator
drains: the request queue (work waiting to be handed to the consensus
library) and the commit queue (work waiting for its consensus entry to
become committed). Both are safe for concurrent producers and a single
consumer, matching the original data store's uv_async-signalled queue
feeding one event loop.
*/
package queue

import (
	"github.com/google/uuid"

	"flydb/internal/raftmsg"
)

// RequestQueue is a many-producer, single-consumer FIFO of
// raftmsg.Request. Any goroutine handling a client connection may
// Push; only the coordinator goroutine may receive from C.
type RequestQueue struct {
	ch chan *raftmsg.Request
}

// NewRequestQueue creates a queue with the given buffer capacity. A
// full queue blocks producers, applying natural backpressure the same
// way the original's fixed-size pending array did.
func NewRequestQueue(capacity int) *RequestQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RequestQueue{ch: make(chan *raftmsg.Request, capacity)}
}

// Push enqueues req, blocking if the queue is full.
func (q *RequestQueue) Push(req *raftmsg.Request) {
	q.ch <- req
}

// TryPush enqueues req without blocking, reporting false if the queue
// is full.
func (q *RequestQueue) TryPush(req *raftmsg.Request) bool {
	select {
	case q.ch <- req:
		return true
	default:
		return false
	}
}

// C exposes the receive side for the coordinator's select loop.
func (q *RequestQueue) C() <-chan *raftmsg.Request { return q.ch }

// NewCorrelationID mints a request-scoped id that ties a request's log
// lines together across the request queue, the commit queue and
// FSM.Apply. The commit queue itself matches entries by EntryID, not
// by this id.
func NewCorrelationID() string {
	return uuid.NewString()
}

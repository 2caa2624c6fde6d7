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
	"encoding/json"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"flydb/internal/logging"
)

// Handler processes one inbound envelope and returns the body (and
// Kind) to reply with, or an error to send back as KindErrorResp.
type Handler func(kind Kind, body json.RawMessage) (respKind Kind, respBody interface{}, err error)

// Server accepts inbound node-link connections and dispatches each
// envelope to a Handler. One Server backs both the consensus
// Transport's Consumer() and the migration engine's RAFT.IMPORT
// endpoint, multiplexed on Kind the same way the original data
// store's single listener multiplexed RAFT RPCs and client commands
// on the same port.
type Server struct {
	log      *logging.Logger
	listener net.Listener
	handler  Handler

	wg     sync.WaitGroup
	group  *errgroup.Group
	closed chan struct{}
}

// NewServer wraps an already-bound listener. Serve must be called to
// start accepting connections.
func NewServer(listener net.Listener, handler Handler) *Server {
	return &Server{
		log:      logging.NewLogger("nodelink"),
		listener: listener,
		handler:  handler,
		closed:   make(chan struct{}),
	}
}

// Serve accepts connections until the listener is closed, handling
// each on its own goroutine via an errgroup so Close can wait for
// in-flight connections to drain.
func (s *Server) Serve() error {
	group := &errgroup.Group{}
	s.group = group

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				group.Wait()
				return nil
			default:
				return err
			}
		}
		group.Go(func() error {
			s.serveConn(conn)
			return nil
		})
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := readEnvelope(conn)
		if err != nil {
			return
		}

		respKind, respBody, err := s.handler(req.Kind, req.Body)
		var reply envelope
		reply.Seq = req.Seq
		if err != nil {
			reply.Kind = KindErrorResp
			reply.Err = err.Error()
		} else {
			raw, merr := json.Marshal(respBody)
			if merr != nil {
				reply.Kind = KindErrorResp
				reply.Err = merr.Error()
			} else {
				reply.Kind = respKind
				reply.Body = raw
			}
		}

		if err := writeEnvelope(conn, reply); err != nil {
			return
		}
	}
}

// Close stops accepting new connections and waits for in-flight ones
// to finish.
func (s *Server) Close() error {
	close(s.closed)
	err := s.listener.Close()
	if s.group != nil {
		s.group.Wait()
	}
	return err
}

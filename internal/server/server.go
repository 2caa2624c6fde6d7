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
Package server accepts client connections for the RAFT command
surface (RAFT, RAFT.ADDNODE, RAFT.REQUESTVOTE, RAFT.APPENDENTRIES):
one command per request, framed with internal/protocol's header so it
can share a listener port with the host data store's own client
protocol if the embedding process wants that. RAFT.IMPORT is not part
of this surface - it is a node-to-node RPC carried over
internal/nodelink's own listener, handled by internal/consensus and
internal/migration.
*/
package server

import (
	"encoding/json"
	"net"
	"sync"

	"flydb/internal/commands"
	"flydb/internal/errors"
	"flydb/internal/logging"
	"flydb/internal/protocol"
)

// Message types reserved for the RAFT command surface on a shared
// client listener, distinct from both internal/protocol's own generic
// types (Error/Ping/Pong) and internal/nodelink's node-to-node types.
const (
	MsgRaftCommand protocol.MessageType = 0x30
	MsgRaftReply   protocol.MessageType = 0x31
)

// replyBody is what a RAFT command reply is framed as: either a
// value or an error message, never both.
type replyBody struct {
	Value interface{} `json:"value,omitempty"`
	Err   string      `json:"err,omitempty"`
}

// Server accepts client connections and feeds each command to a
// commands.Dispatcher.
type Server struct {
	log        *logging.Logger
	listener   net.Listener
	dispatcher *commands.Dispatcher

	wg     sync.WaitGroup
	closed chan struct{}
}

// New wraps an already-bound listener.
func New(listener net.Listener, dispatcher *commands.Dispatcher) *Server {
	return &Server{
		log:        logging.NewLogger("server"),
		listener:   listener,
		dispatcher: dispatcher,
		closed:     make(chan struct{}),
	}
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				s.wg.Wait()
				return nil
			default:
				s.log.Error("accept failed", "err", err)
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			return
		}
		if msg.Header.Type != MsgRaftCommand {
			writeReply(conn, replyBody{Err: "invalid message type"})
			continue
		}

		var argv [][]byte
		if err := json.Unmarshal(msg.Payload, &argv); err != nil {
			writeReply(conn, replyBody{Err: "invalid message"})
			continue
		}

		client := &connClient{conn: conn, done: make(chan struct{})}
		s.dispatcher.Dispatch(argv, client)
		<-client.done
	}
}

func writeReply(conn net.Conn, body replyBody) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return protocol.WriteMessage(conn, MsgRaftReply, raw)
}

// Close stops accepting connections and waits for in-flight ones to
// finish.
func (s *Server) Close() error {
	close(s.closed)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// connClient implements raftmsg.BlockedClient over one connection's
// synchronous request/reply cycle: Dispatch hands this to a command
// handler, which may reply immediately (parse errors) or only once
// the coordinator resolves the request asynchronously, hence the
// done channel blocking serveConn's read loop until exactly one reply
// has been written.
type connClient struct {
	conn net.Conn
	once sync.Once
	done chan struct{}
}

func (c *connClient) Reply(v interface{}) {
	c.once.Do(func() {
		writeReply(c.conn, replyBody{Value: v})
		close(c.done)
	})
}

func (c *connClient) ReplyError(err error) {
	c.once.Do(func() {
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
			// Leader redirects are replied as their bare message text.
			switch errors.GetCode(err) {
			case errors.ErrCodeNoLeader, errors.ErrCodeNotLeader:
				msg = err.(*errors.FlyDBError).Message
			}
		}
		writeReply(c.conn, replyBody{Err: msg})
		close(c.done)
	})
}

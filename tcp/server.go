// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tcp

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/govoltron/reactor/diagstats"
	"github.com/govoltron/reactor/endpoint"
	"github.com/govoltron/reactor/logging"
	"github.com/govoltron/reactor/loop"
)

// Server owns one Acceptor on a base loop, a pool of worker loops, and the
// registry of connections currently alive. Its wiring mirrors the
// acceptor-hands-off-to-worker-pool pattern: the acceptor loop never
// touches connection I/O directly once a connection has been handed to a
// worker loop.
type Server struct {
	baseLoop *loop.EventLoop
	log      logging.Logger

	name string
	addr endpoint.Endpoint

	acceptor *Acceptor
	pool     *loop.LoopPool

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMark   int

	numThreads int
	nextConnID int

	connections map[string]*Connection

	started atomic.Bool
}

// NewServer constructs a Server named name, listening at addr once Start
// is called, driven by baseLoop (the acceptor's own loop).
func NewServer(baseLoop *loop.EventLoop, log logging.Logger, name string, addr endpoint.Endpoint, reusePort bool) (*Server, error) {
	log = logging.OrNoop(log)
	acceptor, err := NewAcceptor(baseLoop, log, addr, reusePort)
	if err != nil {
		return nil, err
	}
	s := &Server{
		baseLoop:        baseLoop,
		log:             log,
		name:            name,
		addr:            addr,
		acceptor:        acceptor,
		pool:            loop.NewLoopPool(log, baseLoop),
		connectionCb:    defaultConnectionCallback,
		messageCb:       defaultMessageCallback,
		writeCompleteCb: func(*Connection) {},
		highWaterMark:   DefaultHighWaterMark,
		connections:     make(map[string]*Connection),
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

// SetThreadNum configures how many worker loops the pool spawns at Start.
// Zero (the default) runs every connection on the base/acceptor loop.
// Must be called before Start.
func (s *Server) SetThreadNum(n int) { s.numThreads = n }

// SetConnectionCallback sets the callback propagated to every Connection.
func (s *Server) SetConnectionCallback(cb ConnectionCallback) { s.connectionCb = cb }

// SetMessageCallback sets the callback propagated to every Connection.
func (s *Server) SetMessageCallback(cb MessageCallback) { s.messageCb = cb }

// SetWriteCompleteCallback sets the callback propagated to every Connection.
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCb = cb }

// SetHighWaterMark sets the byte threshold propagated to every Connection.
func (s *Server) SetHighWaterMark(n int) { s.highWaterMark = n }

// Start spawns the worker pool (if configured) and begins listening.
// Idempotent: a second call is a no-op. Must run on the base loop's
// goroutine.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.pool.Start(s.numThreads, nil)
	s.log.Infof("tcp: server %s starting on %s", s.name, s.addr)
	return s.acceptor.Listen(1024)
}

func (s *Server) newConnection(sock Socket, peer endpoint.Endpoint) {
	connLoop := s.pool.GetNextLoop()

	s.nextConnID++
	name := fmt.Sprintf("%s-%s#%d", s.name, s.addr.IPPort(), s.nextConnID)

	local, err := sock.GetSockName()
	if err != nil {
		s.log.Errorf("tcp: %s: getsockname: %v", name, err)
		local = s.addr
	}

	conn := NewConnection(connLoop, s.log, name, sock, local, peer)
	conn.SetConnectionCallback(s.connectionCb)
	conn.SetMessageCallback(s.messageCb)
	conn.SetWriteCompleteCallback(s.writeCompleteCb)
	conn.SetHighWaterMark(s.highWaterMark)
	conn.SetCloseCallback(s.removeConnection)

	s.connections[name] = conn
	connLoop.RunInLoop(conn.ConnectEstablished)
}

// removeConnection drops conn from the registry and schedules its final
// teardown, round-tripping back through the acceptor/base loop the way
// the registry itself is only ever touched from there.
func (s *Server) removeConnection(conn *Connection) {
	s.baseLoop.RunInLoop(func() {
		delete(s.connections, conn.Name())
		conn.Loop().QueueInLoop(conn.connectDestroyed)
	})
}

// Close stops accepting, destroys every live connection, and joins the
// worker pool, aggregating whatever teardown errors occur rather than
// stopping at the first one. Must run on the base loop's goroutine.
func (s *Server) Close() error {
	var err error

	for _, conn := range s.connections {
		c := conn
		c.Loop().RunInLoop(c.connectDestroyed)
	}
	s.connections = make(map[string]*Connection)

	if closeErr := s.acceptor.Close(); closeErr != nil {
		err = multierr.Append(err, closeErr)
	}
	err = multierr.Append(err, s.pool.Stop())
	return err
}

// ConnectionCount returns the number of connections currently registered.
// Safe only from the base loop's goroutine.
func (s *Server) ConnectionCount() int { return len(s.connections) }

// Snapshot implements diagstats.Source: a per-loop connection count, base
// loop first (its ID is 0) followed by each worker loop in pool order.
// Safe only from the base loop's goroutine, same as ConnectionCount.
func (s *Server) Snapshot() []diagstats.LoopStats {
	counts := make(map[*loop.EventLoop]int)
	for _, conn := range s.connections {
		counts[conn.Loop()]++
	}

	loops := append([]*loop.EventLoop{s.baseLoop}, s.pool.Loops()...)
	out := make([]diagstats.LoopStats, len(loops))
	for i, l := range loops {
		out[i] = diagstats.LoopStats{ID: i, Connections: counts[l]}
	}
	return out
}

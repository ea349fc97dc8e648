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
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/endpoint"
	"github.com/govoltron/reactor/logging"
	"github.com/govoltron/reactor/loop"
	"github.com/govoltron/reactor/timestamp"
)

// NewConnectionCallback fires once per accepted connection, on the
// acceptor loop, with the freshly-accepted socket and the peer endpoint.
type NewConnectionCallback func(sock Socket, peer endpoint.Endpoint)

// Acceptor owns the listening socket and its Channel on the base loop. It
// has no knowledge of the worker pool; TcpServer supplies the callback
// that hands each accepted connection off to one.
type Acceptor struct {
	loop *loop.EventLoop
	log  logging.Logger

	sock Socket
	ch   *loop.Channel

	// spareFD is a pre-opened, otherwise-unused descriptor. When accept(2)
	// fails with EMFILE, the process has hit its descriptor limit and
	// can't even open a socket to reject the pending connection: closing
	// this spare first frees one slot, letting the accept-then-close
	// trick below run, after which the spare is reopened.
	spareFD int

	newConnectionCb NewConnectionCallback
	listening       bool
}

// NewAcceptor creates a listening socket bound to ep on l's goroutine-pinned
// loop (the base/acceptor loop), with SO_REUSEADDR and, if reusePort,
// SO_REUSEPORT set before bind.
func NewAcceptor(l *loop.EventLoop, log logging.Logger, ep endpoint.Endpoint, reusePort bool) (*Acceptor, error) {
	log = logging.OrNoop(log)

	sock, err := NewTCPSocket(ep.IP().To4() == nil)
	if err != nil {
		return nil, err
	}
	if err := sock.SetReuseAddr(true); err != nil {
		return nil, err
	}
	if reusePort {
		if err := sock.SetReusePort(true); err != nil {
			return nil, err
		}
	}
	if err := sock.BindAddress(ep); err != nil {
		return nil, err
	}

	spare, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	a := &Acceptor{
		loop:            l,
		log:             log,
		sock:            sock,
		spareFD:         spare,
		newConnectionCb: func(Socket, endpoint.Endpoint) {},
	}
	a.ch = loop.NewChannel(l, sock.FD())
	a.ch.OnRead = a.handleRead
	return a, nil
}

// SetNewConnectionCallback sets the hook invoked per accepted connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) { a.newConnectionCb = cb }

// Listen marks the socket listening and enables read interest. Must be
// called from the acceptor's loop.
func (a *Acceptor) Listen(backlog int) error {
	a.listening = true
	if err := a.sock.Listen(backlog); err != nil {
		return err
	}
	a.ch.EnableReading()
	return nil
}

func (a *Acceptor) handleRead(receiveTime timestamp.Timestamp) {
	for {
		connSock, peer, err := a.sock.Accept()
		if err != nil {
			a.handleAcceptError(err)
			return
		}
		a.newConnectionCb(connSock, peer)
	}
}

func (a *Acceptor) handleAcceptError(err error) {
	switch err {
	case unix.EAGAIN, unix.EWOULDBLOCK:
		return
	case unix.EMFILE, unix.ENFILE:
		a.log.Errorf("tcp: acceptor: descriptor limit hit, dropping oldest pending connection: %v", err)
		if a.spareFD >= 0 {
			_ = unix.Close(a.spareFD)
		}
		fd, _, acceptErr := unix.Accept(a.sock.FD())
		if acceptErr == nil {
			_ = unix.Close(fd)
		}
		spare, openErr := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if openErr != nil {
			a.log.Errorf("tcp: acceptor: reopen spare descriptor: %v", openErr)
			a.spareFD = -1
			return
		}
		a.spareFD = spare
	default:
		a.log.Errorf("tcp: acceptor: accept: %v", err)
	}
}

// Close closes the listening socket, its channel, and the spare
// descriptor. Must be called from the acceptor's loop.
func (a *Acceptor) Close() error {
	a.ch.DisableAll()
	a.ch.Remove()
	if a.spareFD >= 0 {
		_ = unix.Close(a.spareFD)
	}
	return a.sock.Close()
}

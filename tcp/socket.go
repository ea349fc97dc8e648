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

// Package tcp implements the non-blocking listening and connected socket
// wrapper, the accept loop, the per-connection state machine, and the
// server that composes them with a reactor pool.
package tcp

import (
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/endpoint"
)

// Socket wraps a single non-blocking, close-on-exec file descriptor with
// the small set of socket(7)/tcp(7) option setters and calls every
// listening or connected TCP socket in this package needs. It exists as
// its own type, rather than scattered unix.* calls in Acceptor and
// Connection, so the descriptor's lifecycle and option set stay in one
// place.
type Socket struct {
	fd int
}

// NewTCPSocket creates a non-blocking, close-on-exec IPv4/IPv6 TCP socket.
func NewTCPSocket(ipv6 bool) (Socket, error) {
	domain := unix.AF_INET
	if ipv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return Socket{}, err
	}
	return Socket{fd: fd}, nil
}

// FromFD wraps an already-open descriptor (e.g. one returned by accept(2)).
func FromFD(fd int) Socket { return Socket{fd: fd} }

// FD returns the underlying descriptor.
func (s Socket) FD() int { return s.fd }

// SetReuseAddr sets SO_REUSEADDR.
func (s Socket) SetReuseAddr(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort sets SO_REUSEPORT, letting multiple acceptor sockets share
// one address across processes or (less usefully here) goroutines.
func (s Socket) SetReusePort(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetKeepAlive sets SO_KEEPALIVE.
func (s Socket) SetKeepAlive(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

// SetTCPNoDelay sets TCP_NODELAY, disabling Nagle's algorithm so small
// writes go out promptly instead of waiting to coalesce.
func (s Socket) SetTCPNoDelay(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// BindAddress binds the socket to ep.
func (s Socket) BindAddress(ep endpoint.Endpoint) error {
	return unix.Bind(s.fd, ep.Sockaddr())
}

// Listen marks the socket as a listening socket with the given backlog.
func (s Socket) Listen(backlog int) error {
	return unix.Listen(s.fd, backlog)
}

// Accept accepts one pending connection, returning it as a Socket plus the
// peer's Endpoint.
func (s Socket) Accept() (Socket, endpoint.Endpoint, error) {
	connFD, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return Socket{}, endpoint.Endpoint{}, err
	}
	peer, err := endpoint.FromSockaddr(sa)
	if err != nil {
		_ = unix.Close(connFD)
		return Socket{}, endpoint.Endpoint{}, err
	}
	return Socket{fd: connFD}, peer, nil
}

// ShutdownWrite half-closes the socket's send side, the Go equivalent of
// muduo's Socket::shutdownWrite.
func (s Socket) ShutdownWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// GetSockName returns the local Endpoint this socket is bound to.
func (s Socket) GetSockName() (endpoint.Endpoint, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return endpoint.Endpoint{}, err
	}
	return endpoint.FromSockaddr(sa)
}

// GetPeerName returns the remote Endpoint this connected socket talks to.
func (s Socket) GetPeerName() (endpoint.Endpoint, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return endpoint.Endpoint{}, err
	}
	return endpoint.FromSockaddr(sa)
}

// GetSocketError reads and clears SO_ERROR, the pending asynchronous error
// recorded against the socket (e.g. a failed connect or a reset seen on a
// prior syscall).
func (s Socket) GetSocketError() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// Close closes the descriptor.
func (s Socket) Close() error {
	return unix.Close(s.fd)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

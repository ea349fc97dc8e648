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

// Package endpoint carries the (host, port) boundary value the rest of the
// reactor passes around instead of threading net.Addr everywhere.
package endpoint

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Endpoint is a resolved IPv4/IPv6 host+port pair.
type Endpoint struct {
	ip   net.IP
	port uint16
}

// New builds an Endpoint from a host and a port. An empty host binds to all
// interfaces (the zero IP).
func New(host string, port uint16) Endpoint {
	ip := net.ParseIP(host)
	if host == "" {
		ip = net.IPv4zero
	}
	return Endpoint{ip: ip, port: port}
}

// FromSockaddr converts an accept(2)/getsockname(2) result into an Endpoint.
func FromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return Endpoint{ip: ip, port: uint16(a.Port)}, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return Endpoint{ip: ip, port: uint16(a.Port)}, nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint: unsupported sockaddr type %T", sa)
	}
}

// Sockaddr converts the Endpoint to a bind(2)/connect(2)-ready unix.Sockaddr.
func (e Endpoint) Sockaddr() unix.Sockaddr {
	if v4 := e.ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: int(e.port)}
		copy(sa.Addr[:], v4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(e.port)}
	copy(sa.Addr[:], e.ip.To16())
	return sa
}

// IP returns the host portion.
func (e Endpoint) IP() net.IP { return e.ip }

// Port returns the port portion.
func (e Endpoint) Port() uint16 { return e.port }

// IPPort renders "host:port", the form used in connection names and logs.
func (e Endpoint) IPPort() string {
	host := "0.0.0.0"
	if e.ip != nil {
		host = e.ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(e.port)))
}

// String implements fmt.Stringer as IPPort.
func (e Endpoint) String() string { return e.IPPort() }

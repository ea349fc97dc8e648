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
	"net"
	"testing"

	"github.com/govoltron/reactor/endpoint"
)

func TestSocketBindListenAccept(t *testing.T) {
	sock, err := NewTCPSocket(false)
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer sock.Close()

	if err := sock.SetReuseAddr(true); err != nil {
		t.Fatalf("SetReuseAddr: %v", err)
	}
	ep := endpoint.New("127.0.0.1", 0)
	if err := sock.BindAddress(ep); err != nil {
		t.Fatalf("BindAddress: %v", err)
	}
	if err := sock.Listen(16); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	bound, err := sock.GetSockName()
	if err != nil {
		t.Fatalf("GetSockName: %v", err)
	}
	if bound.Port() == 0 {
		t.Fatal("bound port is 0 after Listen")
	}

	dialDone := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", bound.IPPort())
		if err == nil {
			conn.Close()
		}
		dialDone <- err
	}()

	// Accept is non-blocking; Accept4 may return EAGAIN before the dial
	// lands, so retry briefly rather than asserting success on the first
	// call.
	var accepted Socket
	for i := 0; i < 1000; i++ {
		accepted, _, err = sock.Accept()
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer accepted.Close()

	if err := <-dialDone; err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func TestSocketTCPNoDelayAndKeepAlive(t *testing.T) {
	sock, err := NewTCPSocket(false)
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer sock.Close()

	if err := sock.SetTCPNoDelay(true); err != nil {
		t.Fatalf("SetTCPNoDelay: %v", err)
	}
	if err := sock.SetKeepAlive(true); err != nil {
		t.Fatalf("SetKeepAlive: %v", err)
	}
}

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
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/endpoint"
	"github.com/govoltron/reactor/loop"
	"github.com/govoltron/reactor/timestamp"
)

func mustEchoServer(t *testing.T, threadNum int) (*Server, *loop.LoopThread, endpoint.Endpoint) {
	t.Helper()

	thread := loop.NewLoopThread(nil, nil)
	base := thread.StartLoop()

	ep := endpoint.New("127.0.0.1", 0)
	srv, err := NewServer(base, nil, "echotest", ep, false)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetThreadNum(threadNum)
	srv.SetMessageCallback(func(conn *Connection, buf *buffer.Buffer, _ timestamp.Timestamp) {
		conn.Send(buf.RetrieveAllAsBytes())
	})

	started := make(chan error, 1)
	base.RunInLoop(func() { started <- srv.Start() })
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}

	var bound endpoint.Endpoint
	done := make(chan struct{})
	base.RunInLoop(func() {
		bound, _ = srv.acceptor.sock.GetSockName()
		close(done)
	})
	<-done

	return srv, thread, bound
}

func TestEchoServerRoundTrip(t *testing.T) {
	srv, thread, ep := mustEchoServer(t, 2)
	defer thread.Stop()

	conn, err := net.Dial("tcp", ep.IPPort())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello reactor")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(payload))
	if _, err := readFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echoed %q, want %q", got, payload)
	}

	_ = srv
}

func TestEchoServerManyConcurrentConnections(t *testing.T) {
	_, thread, ep := mustEchoServer(t, 4)
	defer thread.Stop()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", ep.IPPort())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			msg := []byte("conn-" + strconv.Itoa(i))
			if _, err := conn.Write(msg); err != nil {
				errs <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			got := make([]byte, len(msg))
			if _, err := readFull(conn, got); err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, msg) {
				errs <- errString("mismatch for " + string(msg))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type errString string

func (e errString) Error() string { return string(e) }

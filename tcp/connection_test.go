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
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/endpoint"
	"github.com/govoltron/reactor/loop"
	"github.com/govoltron/reactor/timestamp"
)

// socketpairConn builds a Connection over one end of a non-blocking unix
// socketpair, driven by a freshly started EventLoop, and returns the raw
// peer fd for the test to read/write directly.
func socketpairConn(t *testing.T) (*Connection, int, *loop.LoopThread, func()) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatal(err)
	}

	thread := loop.NewLoopThread(nil, nil)
	l := thread.StartLoop()

	ep := endpoint.New("127.0.0.1", 0)
	var conn *Connection
	done := make(chan struct{})
	l.RunInLoop(func() {
		conn = NewConnection(l, nil, "test-conn", FromFD(fds[0]), ep, ep)
		conn.ConnectEstablished()
		close(done)
	})
	<-done

	cleanup := func() {
		thread.Stop()
		unix.Close(fds[1])
	}
	return conn, fds[1], thread, cleanup
}

func TestConnectionStartsConnected(t *testing.T) {
	conn, _, _, cleanup := socketpairConn(t)
	defer cleanup()

	if !conn.Connected() {
		t.Fatalf("state = %v, want connected", conn.State())
	}
}

func TestConnectionSendDeliversToPeer(t *testing.T) {
	conn, peerFD, _, cleanup := socketpairConn(t)
	defer cleanup()

	payload := []byte("hello from the loop")
	conn.Send(payload)

	buf := make([]byte, len(payload))
	deadline := time.Now().Add(2 * time.Second)
	total := 0
	for total < len(buf) && time.Now().Before(deadline) {
		unix.SetNonblock(peerFD, false)
		n, err := unix.Read(peerFD, buf[total:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		total += n
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("peer got %q, want %q", buf, payload)
	}
}

func TestConnectionMessageCallbackFires(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatal(err)
	}

	thread := loop.NewLoopThread(nil, nil)
	l := thread.StartLoop()
	defer func() {
		thread.Stop()
		unix.Close(fds[1])
	}()

	ep := endpoint.New("127.0.0.1", 0)
	received := make(chan string, 1)
	done := make(chan struct{})
	l.RunInLoop(func() {
		conn := NewConnection(l, nil, "test-conn", FromFD(fds[0]), ep, ep)
		conn.SetMessageCallback(func(c *Connection, buf *buffer.Buffer, _ timestamp.Timestamp) {
			received <- buf.RetrieveAllAsString()
		})
		conn.ConnectEstablished()
		close(done)
	})
	<-done

	if _, err := unix.Write(fds[1], []byte("ping")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got != "ping" {
			t.Fatalf("message callback got %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message callback never fired")
	}
}

func TestConnectionSendWhileNotConnectedIsNoop(t *testing.T) {
	conn, peerFD, _, cleanup := socketpairConn(t)
	defer cleanup()

	conn.Loop().RunInLoop(func() { conn.handleClose() })
	time.Sleep(20 * time.Millisecond)
	if conn.Connected() {
		t.Fatal("expected connection to be disconnected after handleClose")
	}

	conn.Send([]byte("should not arrive"))

	unix.SetNonblock(peerFD, true)
	buf := make([]byte, 32)
	time.Sleep(20 * time.Millisecond)
	n, err := unix.Read(peerFD, buf)
	if err == nil && n > 0 {
		t.Fatalf("peer unexpectedly received %d bytes after Send on disconnected conn", n)
	}
}

func TestConnectionHighWaterMarkFiresOnceOnCrossing(t *testing.T) {
	conn, _, _, cleanup := socketpairConn(t)
	defer cleanup()

	conn.SetHighWaterMark(16)
	var crossings int
	conn.SetHighWaterMarkCallback(func(*Connection, int) { crossings++ })

	// Drive the real sendInLoop buffering path instead of poking
	// outputBuf/highWaterMarkCb directly: a socketpair's kernel send
	// buffer easily swallows a few bytes in one direct write, so force
	// the "already has output queued" branch by marking the channel
	// writing first; every sendInLoop call after that appends to
	// outputBuf instead of attempting another direct write.
	conn.Loop().RunInLoop(func() {
		conn.ch.EnableWriting()
		conn.sendInLoop(make([]byte, 10))
		conn.sendInLoop(make([]byte, 10))
	})
	time.Sleep(20 * time.Millisecond)
	if crossings != 1 {
		t.Fatalf("crossings = %d, want 1", crossings)
	}
}

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

	"go.uber.org/atomic"

	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/endpoint"
	"github.com/govoltron/reactor/logging"
	"github.com/govoltron/reactor/loop"
	"github.com/govoltron/reactor/timestamp"
)

// State is a Connection's position in its four-state lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultHighWaterMark is the output-buffer size, in bytes, above which
// HighWaterMarkCallback fires once per crossing.
const DefaultHighWaterMark = 64 * 1024 * 1024

// Connection is one established TCP connection, driven entirely from its
// owning EventLoop's goroutine except for Send/Shutdown/ForceClose, which
// may be called from any goroutine and hop over to the loop.
type Connection struct {
	loop *loop.EventLoop
	log  logging.Logger

	name string
	sock Socket
	ch   *loop.Channel

	localAddr, peerAddr endpoint.Endpoint

	state atomic.Int32

	inputBuf  *buffer.Buffer
	outputBuf *buffer.Buffer

	highWaterMark int

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback
	closeCb         CloseCallback

	context interface{}
}

// NewConnection constructs a Connection bound to l, wired to sock (already
// accepted and non-blocking), named name, with the given local/peer
// endpoints. The connection starts in StateConnecting; call
// ConnectEstablished once it is registered, from l's own goroutine.
func NewConnection(l *loop.EventLoop, log logging.Logger, name string, sock Socket, localAddr, peerAddr endpoint.Endpoint) *Connection {
	log = logging.OrNoop(log)
	c := &Connection{
		loop:            l,
		log:             log,
		name:            name,
		sock:            sock,
		localAddr:       localAddr,
		peerAddr:        peerAddr,
		inputBuf:        buffer.New(),
		outputBuf:       buffer.New(),
		highWaterMark:   DefaultHighWaterMark,
		connectionCb:    defaultConnectionCallback,
		messageCb:       defaultMessageCallback,
		writeCompleteCb: func(*Connection) {},
		highWaterMarkCb: func(*Connection, int) {},
		closeCb:         func(*Connection) {},
	}
	c.state.Store(int32(StateConnecting))
	c.ch = loop.NewChannel(l, sock.FD())
	c.ch.OnRead = c.handleRead
	c.ch.OnWrite = c.handleWrite
	c.ch.OnClose = c.handleClose
	c.ch.OnError = c.handleError
	return c
}

// Name returns the connection's registry name, "<serverName>-<ipPort>#<id>".
func (c *Connection) Name() string { return c.name }

// Loop returns the EventLoop this connection is pinned to.
func (c *Connection) Loop() *loop.EventLoop { return c.loop }

// LocalAddr returns the local endpoint.
func (c *Connection) LocalAddr() endpoint.Endpoint { return c.localAddr }

// PeerAddr returns the remote endpoint.
func (c *Connection) PeerAddr() endpoint.Endpoint { return c.peerAddr }

// State returns the connection's current state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Connected reports whether the connection is in StateConnected.
func (c *Connection) Connected() bool { return c.State() == StateConnected }

// SetContext attaches an arbitrary application value to the connection.
func (c *Connection) SetContext(ctx interface{}) { c.context = ctx }

// Context returns the value last passed to SetContext.
func (c *Connection) Context() interface{} { return c.context }

// SetHighWaterMark overrides DefaultHighWaterMark.
func (c *Connection) SetHighWaterMark(n int) { c.highWaterMark = n }

// SetConnectionCallback sets the callback fired on establish/destroy.
func (c *Connection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCb = cb }

// SetMessageCallback sets the callback fired on new input data.
func (c *Connection) SetMessageCallback(cb MessageCallback) { c.messageCb = cb }

// SetWriteCompleteCallback sets the callback fired once sent data has been
// fully written to the kernel.
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCb = cb }

// SetHighWaterMarkCallback sets the callback fired when the output buffer
// crosses the high-water mark going up.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { c.highWaterMarkCb = cb }

// SetCloseCallback sets the callback fired when the connection goes down.
func (c *Connection) SetCloseCallback(cb CloseCallback) { c.closeCb = cb }

// ConnectEstablished transitions Connecting -> Connected, enables read
// interest, and invokes the connection callback. Must run on the
// connection's own loop.
func (c *Connection) ConnectEstablished() {
	c.state.Store(int32(StateConnected))
	c.ch.Tie(func() (interface{}, bool) { return c, true })
	c.ch.EnableReading()
	c.connectionCb(c)
}

// connectDestroyed transitions to Disconnected, disables all interest,
// removes the channel from the poller, and closes the socket. Must run on
// the connection's own loop.
func (c *Connection) connectDestroyed() {
	if c.State() == StateConnected {
		c.state.Store(int32(StateDisconnected))
		c.ch.DisableAll()
		c.connectionCb(c)
	}
	c.ch.Remove()
	if err := c.sock.Close(); err != nil {
		c.log.Errorf("tcp: %s: close: %v", c.name, err)
	}
}

// Send queues data for writing. Safe from any goroutine; hops onto the
// connection's loop if called elsewhere.
func (c *Connection) Send(data []byte) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	c.loop.QueueInLoop(func() { c.sendInLoop(owned) })
}

func (c *Connection) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		c.log.Errorf("tcp: %s: send on disconnected connection ignored", c.name)
		return
	}

	var nwrote int
	var writeErr error
	faultError := false

	// Nothing already queued: try a direct write first so the common case
	// of a fully-accepted small write never touches the output buffer or
	// registers write interest.
	if !c.ch.IsWriting() && c.outputBuf.ReadableBytes() == 0 {
		n, err := unix.Write(c.sock.FD(), data)
		switch {
		case err == nil:
			nwrote = n
			if n == len(data) {
				c.loop.QueueInLoop(func() { c.writeCompleteCb(c) })
			}
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			nwrote = 0
		default:
			nwrote = 0
			writeErr = err
			c.log.Errorf("tcp: %s: write error: %v", c.name, writeErr)
			if err == unix.EPIPE || err == unix.ECONNRESET {
				faultError = true
			}
		}
	}

	if !faultError && nwrote < len(data) {
		remaining := data[nwrote:]
		oldLen := c.outputBuf.ReadableBytes()
		newLen := oldLen + len(remaining)
		if newLen >= c.highWaterMark && oldLen < c.highWaterMark {
			c.loop.QueueInLoop(func() { c.highWaterMarkCb(c, newLen) })
		}
		c.outputBuf.Append(remaining)
		if !c.ch.IsWriting() {
			c.ch.EnableWriting()
		}
	}
}

// Shutdown half-closes the connection's write side once any queued output
// has drained. Safe from any goroutine.
func (c *Connection) Shutdown() {
	if c.State() != StateConnected {
		return
	}
	c.state.Store(int32(StateDisconnecting))
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *Connection) shutdownInLoop() {
	if !c.ch.IsWriting() {
		if err := c.sock.ShutdownWrite(); err != nil {
			c.log.Errorf("tcp: %s: shutdown write: %v", c.name, err)
		}
	}
}

// ForceClose tears the connection down immediately, regardless of
// pending output. Safe from any goroutine.
func (c *Connection) ForceClose() {
	if c.State() == StateConnected || c.State() == StateDisconnecting {
		c.state.Store(int32(StateDisconnecting))
		c.loop.QueueInLoop(func() { c.handleClose() })
	}
}

func (c *Connection) handleRead(receiveTime timestamp.Timestamp) {
	n, err := c.inputBuf.ReadFromFD(c.sock.FD())
	switch {
	case n > 0:
		c.messageCb(c, c.inputBuf, receiveTime)
	case n == 0:
		c.handleClose()
	default:
		if err == buffer.ErrWouldBlock {
			return
		}
		c.log.Errorf("tcp: %s: read: %v", c.name, err)
		c.handleError()
	}
}

func (c *Connection) handleWrite() {
	if !c.ch.IsWriting() {
		return
	}
	n, err := c.outputBuf.WriteToFD(c.sock.FD())
	if err != nil {
		if err == buffer.ErrWouldBlock {
			return
		}
		c.log.Errorf("tcp: %s: write: %v", c.name, err)
		return
	}
	c.outputBuf.Retrieve(n)
	if c.outputBuf.ReadableBytes() == 0 {
		c.ch.DisableWriting()
		c.loop.QueueInLoop(func() { c.writeCompleteCb(c) })
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *Connection) handleClose() {
	if c.State() == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))
	c.ch.DisableAll()
	c.connectionCb(c)
	c.closeCb(c)
}

func (c *Connection) handleError() {
	err := c.sock.GetSocketError()
	c.log.Errorf("tcp: %s: socket error: %v", c.name, err)
}

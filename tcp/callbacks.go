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
	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/timestamp"
)

// ConnectionCallback fires once when a connection is established and again
// when it is about to be destroyed; check Connection.Connected to tell
// which.
type ConnectionCallback func(conn *Connection)

// MessageCallback fires whenever new bytes have landed in the connection's
// input buffer. The callback is responsible for retiring whatever it
// consumes via buf.Retrieve*.
type MessageCallback func(conn *Connection, buf *buffer.Buffer, receiveTime timestamp.Timestamp)

// WriteCompleteCallback fires once data passed to Send has been fully
// written to the kernel: right after Send when its direct write takes all
// of it, otherwise once the output buffer drains to empty.
type WriteCompleteCallback func(conn *Connection)

// HighWaterMarkCallback fires once per crossing when the output buffer's
// size passes the configured high-water mark going up, not on every Send
// while it stays above the mark.
type HighWaterMarkCallback func(conn *Connection, bufferSize int)

// CloseCallback fires when a connection goes down (peer close or
// ForceClose), after its channel interest is disabled; TcpServer uses it to
// remove the connection from its registry. The descriptor itself is closed
// later, by connectDestroyed.
type CloseCallback func(conn *Connection)

func defaultConnectionCallback(conn *Connection) {}

func defaultMessageCallback(conn *Connection, buf *buffer.Buffer, receiveTime timestamp.Timestamp) {
	buf.RetrieveAll()
}

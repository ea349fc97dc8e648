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

// Package buffer implements the growable byte container every TcpConnection
// uses for its input and output sides.
//
// Layout:
//
//	[0, reader)       consumed prepend/header area
//	[reader, writer)  readable payload
//	[writer, cap)     writable tail
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	// PrependSize is the fixed headroom reserved at the front of every
	// Buffer so application code can prepend a length/header without
	// copying the payload.
	PrependSize = 8

	// InitialSize is the default payload capacity a new Buffer is given,
	// on top of PrependSize.
	InitialSize = 1024

	// extraBufSize is the stack-resident overflow area ReadFromFD scatters
	// into when the buffer's own writable tail isn't big enough for one
	// read(2)/readv(2) call.
	extraBufSize = 65536
)

// Buffer is a growable byte container with reader/writer cursors and
// prepend headroom. The zero value is not usable; use New.
type Buffer struct {
	buf    []byte
	reader int
	writer int
}

// New returns a Buffer with the default initial payload capacity.
func New() *Buffer {
	return NewSize(InitialSize)
}

// NewSize returns a Buffer whose writable tail initially holds at least
// initialSize bytes, in addition to the fixed prepend reserve.
func NewSize(initialSize int) *Buffer {
	return &Buffer{
		buf:    make([]byte, PrependSize+initialSize),
		reader: PrependSize,
		writer: PrependSize,
	}
}

// ReadableBytes returns the length of the readable region.
func (b *Buffer) ReadableBytes() int { return b.writer - b.reader }

// WritableBytes returns the length of the writable tail.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writer }

// PrependableBytes returns the length of the consumed prepend area.
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns the readable region without consuming it. The returned
// slice aliases the Buffer's storage and is only valid until the next
// mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.reader:b.writer] }

// Retrieve consumes n bytes from the front of the readable region. If n is
// at least ReadableBytes, it behaves like RetrieveAll.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.reader += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll resets both cursors back to the prepend floor, discarding any
// unread data.
func (b *Buffer) RetrieveAll() {
	b.reader = PrependSize
	b.writer = PrependSize
}

// RetrieveAllAsString consumes and returns every readable byte as a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString consumes and returns n readable bytes as a string.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.reader : b.reader+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsBytes consumes and returns every readable byte as a fresh
// copy (safe to retain past the next mutating call).
func (b *Buffer) RetrieveAllAsBytes() []byte {
	n := b.ReadableBytes()
	out := make([]byte, n)
	copy(out, b.buf[b.reader:b.writer])
	b.Retrieve(n)
	return out
}

// EnsureWritable grows or compacts the buffer so at least n more bytes can
// be appended without reallocating mid-append.
//
// If writable+prependable can already fit n bytes once the consumed
// prepend area is reclaimed (sliding the readable region down to the
// PrependSize floor), it compacts in place. Otherwise it grows the backing
// array to writer+n bytes. Either way the PrependSize floor is preserved.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() >= n+PrependSize {
		readable := b.ReadableBytes()
		copy(b.buf[PrependSize:], b.buf[b.reader:b.writer])
		b.reader = PrependSize
		b.writer = b.reader + readable
		return
	}
	grown := make([]byte, b.writer+n)
	copy(grown, b.buf)
	b.buf = grown
}

// Append copies data onto the writable tail, growing the buffer first if
// needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	b.writer += copy(b.buf[b.writer:], data)
}

// AppendString is Append for a string, avoiding a caller-side conversion.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// ErrWouldBlock is returned by ReadFromFD/WriteToFD when the descriptor has
// no data ready and is non-blocking; it is not logged or retried by the
// buffer itself.
var ErrWouldBlock = errors.New("buffer: operation would block")

// ReadFromFD performs a single scatter-read from fd into the buffer's
// writable tail plus a 64KiB stack extra-buffer, appending any overflow.
// One syscall usually suffices even for bursts, while steady-state traffic
// never touches the extra-buffer's backing growth path.
//
// It returns the number of bytes read. A negative n combined with a non-nil
// err signals EAGAIN/EWOULDBLOCK (ErrWouldBlock) or another errno.
func (b *Buffer) ReadFromFD(fd int) (n int, err error) {
	var extra [extraBufSize]byte
	writable := b.WritableBytes()

	iov := make([][]byte, 1, 2)
	iov[0] = b.buf[b.writer:len(b.buf)]
	if writable < extraBufSize {
		iov = append(iov, extra[:])
	}

	nread, rerr := unix.Readv(fd, iov)
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return -1, ErrWouldBlock
		}
		return -1, rerr
	}
	switch {
	case nread <= writable:
		b.writer += nread
	default:
		b.writer = len(b.buf)
		b.Append(extra[:nread-writable])
	}
	return nread, nil
}

// WriteToFD issues a single write(2) of the readable region to fd. Partial
// writes are the caller's concern: retire what was sent with Retrieve.
func (b *Buffer) WriteToFD(fd int) (n int, err error) {
	nwritten, werr := unix.Write(fd, b.Peek())
	if werr != nil {
		if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
			return -1, ErrWouldBlock
		}
		return -1, werr
	}
	return nwritten, nil
}

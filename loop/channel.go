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

package loop

import (
	"sync"

	"github.com/govoltron/reactor/timestamp"
)

// Interest is the readiness mask a Channel asks its Poller to watch for.
type Interest uint32

const (
	// InterestNone means the Channel is registered but not watching
	// anything; UpdateChannel deregisters it from the poller entirely.
	InterestNone Interest = 0
	// InterestRead watches for read-readiness (and priority data).
	InterestRead Interest = 1 << 0
	// InterestWrite watches for write-readiness.
	InterestWrite Interest = 1 << 1
)

// status tracks a Channel's registration bookkeeping inside its Poller:
// new/added/deleted.
type status int

const (
	statusNew status = iota
	statusAdded
	statusDeleted
)

// ReadCallback fires on read-readiness, carrying the poll-return timestamp.
type ReadCallback func(receiveTime timestamp.Timestamp)

// EventCallback is the shape shared by write/close/error callbacks.
type EventCallback func()

// Channel binds one descriptor's interest mask and readiness callbacks to
// an owning EventLoop. It does not own the descriptor: closing it is the
// owner's (TcpConnection's, Acceptor's) job.
type Channel struct {
	loop *EventLoop
	fd   int

	interest Interest
	revents  Interest
	status   status

	mu  sync.Mutex
	tie func() (interface{}, bool) // upgrade hook installed by Tie; nil means untied

	OnRead  ReadCallback
	OnWrite EventCallback
	OnClose EventCallback
	OnError EventCallback
}

// NewChannel creates a Channel for fd on loop. The Channel starts out
// watching nothing; call EnableReading/EnableWriting to arm it.
func NewChannel(l *EventLoop, fd int) *Channel {
	return &Channel{loop: l, fd: fd, status: statusNew}
}

// FD returns the underlying descriptor.
func (c *Channel) FD() int { return c.fd }

// Interest returns the currently registered interest mask.
func (c *Channel) Interest() Interest { return c.interest }

// SetRevents stores the poller's returned readiness mask for the next
// HandleEvent dispatch. Only the poller implementation calls this.
func (c *Channel) SetRevents(r Interest) { c.revents = r }

func (c *Channel) setStatus(s status) { c.status = s }
func (c *Channel) getStatus() status  { return c.status }

// IsNoneEvent reports whether the Channel currently watches nothing.
func (c *Channel) IsNoneEvent() bool { return c.interest == InterestNone }

// IsWriting reports whether write-readiness is currently armed.
func (c *Channel) IsWriting() bool { return c.interest&InterestWrite != 0 }

// IsReading reports whether read-readiness is currently armed.
func (c *Channel) IsReading() bool { return c.interest&InterestRead != 0 }

// EnableReading arms read-readiness and reconciles the owning loop's
// poller registration.
func (c *Channel) EnableReading() {
	c.interest |= InterestRead
	c.update()
}

// DisableReading disarms read-readiness.
func (c *Channel) DisableReading() {
	c.interest &^= InterestRead
	c.update()
}

// EnableWriting arms write-readiness.
func (c *Channel) EnableWriting() {
	c.interest |= InterestWrite
	c.update()
}

// DisableWriting disarms write-readiness.
func (c *Channel) DisableWriting() {
	c.interest &^= InterestWrite
	c.update()
}

// DisableAll disarms every interest.
func (c *Channel) DisableAll() {
	c.interest = InterestNone
	c.update()
}

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// Remove erases the Channel from its owning loop's poller entirely. The
// Channel must have no armed interest left (DisableAll first).
func (c *Channel) Remove() {
	c.loop.removeChannel(c)
}

// Tie installs a weak pin: upgrade is called once per HandleEvent to
// obtain a strong reference to the Channel's logical owner (a
// *tcp.Connection). If upgrade returns ok==false, the owner is gone and
// dispatch is skipped entirely. Tie exists because readiness can outlive
// the owner's last strong reference; dispatching into destroyed storage is
// forbidden.
func (c *Channel) Tie(upgrade func() (interface{}, bool)) {
	c.mu.Lock()
	c.tie = upgrade
	c.mu.Unlock()
}

// HandleEvent runs the callbacks implied by the last SetRevents call, in
// the fixed order close -> error -> read -> write. Multiple callbacks may
// fire in one dispatch.
func (c *Channel) HandleEvent(receiveTime timestamp.Timestamp) {
	c.mu.Lock()
	tie := c.tie
	c.mu.Unlock()

	if tie == nil {
		c.handleEventWithGuard(receiveTime)
		return
	}
	if _, ok := tie(); ok {
		c.handleEventWithGuard(receiveTime)
	}
}

func (c *Channel) handleEventWithGuard(receiveTime timestamp.Timestamp) {
	if c.revents&interestHangup != 0 && c.revents&InterestRead == 0 {
		if c.OnClose != nil {
			c.OnClose()
		}
	}
	if c.revents&interestError != 0 {
		if c.OnError != nil {
			c.OnError()
		}
	}
	if c.revents&(InterestRead|interestPriority) != 0 {
		if c.OnRead != nil {
			c.OnRead(receiveTime)
		}
	}
	if c.revents&InterestWrite != 0 {
		if c.OnWrite != nil {
			c.OnWrite()
		}
	}
}

// interestHangup, interestPriority and interestError are synthetic bits the
// platform pollers fold their HUP/PRI/ERR flags into before calling
// SetRevents; they are not valid in a registered Interest mask.
const (
	interestPriority Interest = 1 << 8
	interestHangup   Interest = 1 << 9
	interestError    Interest = 1 << 10
)

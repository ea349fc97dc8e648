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
	"time"

	"github.com/govoltron/reactor/timestamp"
)

// rawEvent is what a platform backend reports per ready descriptor.
type rawEvent struct {
	fd   int
	mask Interest
}

// backend is the raw syscall surface a Poller drives: epoll on Linux,
// kqueue on BSD/Darwin. Swapping the backend (or substituting an
// edge-triggered or poll(2)-based one) never touches Poller, Channel or
// EventLoop.
type backend interface {
	add(fd int, interest Interest) error
	modify(fd int, interest Interest) error
	remove(fd int) error
	wait(timeoutMs, capHint int) ([]rawEvent, error)
	close() error
}

const initialEventCap = 16

// Poller is the readiness demultiplexer: it tracks which Channels are
// registered, forwards interest changes to its backend, and blocks in
// Poll until readiness events arrive.
//
// Poller is not safe for concurrent use; callers (EventLoop) only ever
// touch it from the owning loop's goroutine.
type Poller struct {
	channels  map[int]*Channel
	backend   backend
	capEvents int
}

// NewPoller opens the platform's native backend (epoll or kqueue).
func NewPoller() (*Poller, error) {
	b, err := newBackend()
	if err != nil {
		return nil, err
	}
	return &Poller{
		channels:  make(map[int]*Channel),
		backend:   b,
		capEvents: initialEventCap,
	}, nil
}

// UpdateChannel reconciles ch's current interest mask with the backend,
// per the new/added/deleted status state machine.
func (p *Poller) UpdateChannel(ch *Channel) error {
	switch ch.getStatus() {
	case statusNew, statusDeleted:
		wasNew := ch.getStatus() == statusNew
		if wasNew {
			p.channels[ch.FD()] = ch
		}
		ch.setStatus(statusAdded)
		return p.backend.add(ch.FD(), ch.Interest())
	default: // statusAdded
		if ch.IsNoneEvent() {
			if err := p.backend.remove(ch.FD()); err != nil {
				return err
			}
			ch.setStatus(statusDeleted)
			return nil
		}
		return p.backend.modify(ch.FD(), ch.Interest())
	}
}

// RemoveChannel erases ch from the descriptor map and, if it was
// registered with the backend, deregisters it there too.
func (p *Poller) RemoveChannel(ch *Channel) error {
	delete(p.channels, ch.FD())
	if ch.getStatus() == statusAdded {
		if err := p.backend.remove(ch.FD()); err != nil {
			return err
		}
	}
	ch.setStatus(statusNew)
	return nil
}

// HasChannel reports whether ch is the Channel currently tracked for its
// descriptor.
func (p *Poller) HasChannel(ch *Channel) bool {
	tracked, ok := p.channels[ch.FD()]
	return ok && tracked == ch
}

// Poll blocks up to timeout for readiness, appending every ready Channel
// to active (which the caller is expected to have cleared already) and
// returning the time the wait returned.
func (p *Poller) Poll(timeout time.Duration, active *[]*Channel) (timestamp.Timestamp, error) {
	timeoutMs := int(timeout / time.Millisecond)
	events, err := p.backend.wait(timeoutMs, p.capEvents)
	now := timestamp.Now()
	if err != nil {
		return now, err
	}
	for _, ev := range events {
		if ch, ok := p.channels[ev.fd]; ok {
			ch.SetRevents(ev.mask)
			*active = append(*active, ch)
		}
	}
	if len(events) > 0 && len(events) == p.capEvents {
		p.capEvents *= 2
	}
	return now, nil
}

// Close releases the backend's own descriptor (epoll fd / kqueue fd).
func (p *Poller) Close() error {
	return p.backend.close()
}

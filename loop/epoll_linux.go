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

//go:build linux

package loop

import "golang.org/x/sys/unix"

// epollBackend is the level-triggered epoll(7) readiness demultiplexer.
type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
}

func newBackend() (backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: fd, events: make([]unix.EpollEvent, initialEventCap)}, nil
}

func toEpollEvents(i Interest) uint32 {
	var e uint32
	if i&InterestRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if i&InterestWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (b *epollBackend) add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (b *epollBackend) remove(fd int) error {
	// Linux ignores the event argument for EPOLL_CTL_DEL, but kernels
	// before 2.6.9 required a non-nil pointer; pass one for portability.
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

func (b *epollBackend) wait(timeoutMs, capHint int) ([]rawEvent, error) {
	if capHint > len(b.events) {
		b.events = make([]unix.EpollEvent, capHint)
	}
	for {
		n, err := unix.EpollWait(b.epfd, b.events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		out := make([]rawEvent, n)
		for i := 0; i < n; i++ {
			out[i] = rawEvent{fd: int(b.events[i].Fd), mask: fromEpollEvents(b.events[i].Events)}
		}
		return out, nil
	}
}

func fromEpollEvents(e uint32) Interest {
	var m Interest
	if e&unix.EPOLLHUP != 0 {
		m |= interestHangup
	}
	if e&unix.EPOLLERR != 0 {
		m |= interestError
	}
	if e&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		m |= InterestRead
	}
	if e&unix.EPOLLPRI != 0 {
		m |= interestPriority
	}
	if e&unix.EPOLLOUT != 0 {
		m |= InterestWrite
	}
	return m
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}

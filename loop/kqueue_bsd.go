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

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package loop

import "golang.org/x/sys/unix"

// kqueueBackend is the kqueue(2) readiness demultiplexer used on
// Darwin/BSD. Read and write interest are tracked per-fd and diffed
// against what's currently registered, since kqueue has no single combined
// "modify interest mask" call the way epoll_ctl(MOD) does.
type kqueueBackend struct {
	kq      int
	events  []unix.Kevent_t
	current map[int]Interest
}

func newBackend() (backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueBackend{
		kq:      fd,
		events:  make([]unix.Kevent_t, initialEventCap),
		current: make(map[int]Interest),
	}, nil
}

func (b *kqueueBackend) apply(fd int, want Interest) error {
	have := b.current[fd]
	var changes []unix.Kevent_t

	if want&InterestRead != 0 && have&InterestRead == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE))
	} else if want&InterestRead == 0 && have&InterestRead != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if want&InterestWrite != 0 && have&InterestWrite == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE))
	} else if want&InterestWrite == 0 && have&InterestWrite != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}

	if len(changes) > 0 {
		if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
			return err
		}
	}
	if want == InterestNone {
		delete(b.current, fd)
	} else {
		b.current[fd] = want
	}
	return nil
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (b *kqueueBackend) add(fd int, interest Interest) error    { return b.apply(fd, interest) }
func (b *kqueueBackend) modify(fd int, interest Interest) error { return b.apply(fd, interest) }
func (b *kqueueBackend) remove(fd int) error                    { return b.apply(fd, InterestNone) }

func (b *kqueueBackend) wait(timeoutMs, capHint int) ([]rawEvent, error) {
	if capHint > len(b.events) {
		b.events = make([]unix.Kevent_t, capHint)
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}
	for {
		n, err := unix.Kevent(b.kq, nil, b.events, ts)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		byFD := make(map[int]Interest, n)
		for i := 0; i < n; i++ {
			ev := b.events[i]
			fd := int(ev.Ident)
			var m Interest
			if ev.Flags&unix.EV_ERROR != 0 {
				m |= interestError
			}
			switch ev.Filter {
			case unix.EVFILT_READ:
				m |= InterestRead
				if ev.Flags&unix.EV_EOF != 0 {
					m |= interestHangup
				}
			case unix.EVFILT_WRITE:
				m |= InterestWrite
			}
			byFD[fd] |= m
		}
		out := make([]rawEvent, 0, len(byFD))
		for fd, mask := range byFD {
			out = append(out, rawEvent{fd: fd, mask: mask})
		}
		return out, nil
	}
}

func (b *kqueueBackend) close() error {
	return unix.Close(b.kq)
}

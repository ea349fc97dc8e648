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

//go:build !linux

package wakeup

import "golang.org/x/sys/unix"

// pipeWaker is the self-pipe fallback for platforms without eventfd
// (kqueue BSDs, Darwin).
type pipeWaker struct {
	r, w int
}

// New returns the platform's native Waker: a non-blocking self-pipe on
// BSD/Darwin, which have no eventfd equivalent.
func New() (Waker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	}
	return &pipeWaker{r: fds[0], w: fds[1]}, nil
}

func (w *pipeWaker) FD() int { return w.r }

func (w *pipeWaker) Wake() error {
	_, err := unix.Write(w.w, []byte{1})
	if err == unix.EAGAIN {
		// Pipe buffer already holds an unread token; the pending wakeup
		// already covers this call.
		return nil
	}
	return err
}

func (w *pipeWaker) Drain() error {
	var buf [64]byte
	for {
		_, err := unix.Read(w.r, buf[:])
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (w *pipeWaker) Close() error {
	_ = unix.Close(w.w)
	return unix.Close(w.r)
}

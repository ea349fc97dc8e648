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

package wakeup

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventfdWaker is a counter-based eventfd(2) wakeup, non-blocking and
// close-on-exec.
type eventfdWaker struct {
	fd int
}

// New returns the platform's native Waker: eventfd on Linux.
func New() (Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &eventfdWaker{fd: fd}, nil
}

func (w *eventfdWaker) FD() int { return w.fd }

func (w *eventfdWaker) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err == unix.EAGAIN {
		// The eventfd counter is already non-zero: a wakeup is already
		// pending, so this write's purpose is already satisfied.
		return nil
	}
	return err
}

func (w *eventfdWaker) Drain() error {
	var buf [8]byte
	_, err := unix.Read(w.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (w *eventfdWaker) Close() error {
	return unix.Close(w.fd)
}

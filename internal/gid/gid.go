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

// Package gid identifies the calling goroutine. Each EventLoop pins its
// run loop to one goroutine (and, via runtime.LockOSThread, one OS
// thread) for its entire lifetime, so goroutine identity stands in for
// "current OS thread" checks without reaching for a platform-specific
// gettid(2) syscall wrapper.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns an identifier unique to the calling goroutine for as
// long as it is alive.
func Current() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// Format is "goroutine 123 [running]:\n..."
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

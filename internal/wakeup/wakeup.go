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

// Package wakeup provides the cross-thread "write makes it read-ready"
// primitive one EventLoop uses to force another loop out of its poll wait.
// The value written is opaque; only the write-to-read edge matters.
package wakeup

// Waker is a readable file descriptor that becomes ready exactly because
// something called Wake, and whose readiness Drain clears.
type Waker interface {
	// FD is the descriptor to register for read-readiness with the poller.
	FD() int

	// Wake makes FD become (or stay) readable. Safe to call from any
	// goroutine, any number of times.
	Wake() error

	// Drain consumes whatever Wake enqueued so FD stops being readable
	// until the next Wake. Called from the owning loop's read callback.
	Drain() error

	// Close releases the underlying descriptor.
	Close() error
}

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

	"github.com/govoltron/reactor/logging"
)

// ThreadInitCallback runs once on a LoopThread's goroutine, before the loop
// starts polling, so callers can attach Channels or otherwise configure the
// loop ahead of its first iteration.
type ThreadInitCallback func(*EventLoop)

// LoopThread owns one goroutine running one EventLoop. It publishes the
// EventLoop pointer only once the loop goroutine is past construction and
// any init callback, so StartLoop never hands back a half-built loop.
type LoopThread struct {
	log    logging.Logger
	initCb ThreadInitCallback

	mu      sync.Mutex
	cond    *sync.Cond
	loop    *EventLoop
	started bool
	done    chan struct{}
}

// NewLoopThread constructs a LoopThread; it does not start the goroutine
// until StartLoop is called.
func NewLoopThread(log logging.Logger, initCb ThreadInitCallback) *LoopThread {
	t := &LoopThread{
		log:    logging.OrNoop(log),
		initCb: initCb,
		done:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the loop goroutine if not already running and blocks
// until the EventLoop is constructed and ready, returning it.
func (t *LoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		l := t.loop
		t.mu.Unlock()
		return l
	}
	t.started = true
	t.mu.Unlock()

	go t.runLoop()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	l := t.loop
	t.mu.Unlock()
	return l
}

func (t *LoopThread) runLoop() {
	l := New(t.log)
	if t.initCb != nil {
		t.initCb(l)
	}

	t.mu.Lock()
	t.loop = l
	t.cond.Signal()
	t.mu.Unlock()

	l.Loop(true)
	close(t.done)
}

// Stop asks the owned loop to quit, waits for its goroutine to exit, and
// releases the loop's own resources (waker, poller backend).
func (t *LoopThread) Stop() error {
	t.mu.Lock()
	l := t.loop
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	l.Quit()
	<-t.done
	if err := l.Close(); err != nil {
		t.log.Errorf("loop: close loop thread resources: %v", err)
		return err
	}
	return nil
}

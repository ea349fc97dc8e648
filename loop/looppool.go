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
	"go.uber.org/multierr"

	"github.com/govoltron/reactor/logging"
)

// LoopPool manages the worker reactors a TcpServer hands connections to in
// round-robin order. With zero worker threads configured, it degenerates
// to handing every connection back to the base loop (the acceptor's own),
// matching the single-reactor configuration.
type LoopPool struct {
	log      logging.Logger
	baseLoop *EventLoop

	threads []*LoopThread
	loops   []*EventLoop
	next    int

	started bool
}

// NewLoopPool builds a pool anchored on baseLoop, the acceptor's loop.
func NewLoopPool(log logging.Logger, baseLoop *EventLoop) *LoopPool {
	return &LoopPool{log: logging.OrNoop(log), baseLoop: baseLoop}
}

// Start spawns numThreads worker LoopThreads, running initCb (if non-nil)
// on each before it begins polling. Must be called from the base loop's
// goroutine, and only once.
func (p *LoopPool) Start(numThreads int, initCb ThreadInitCallback) {
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < numThreads; i++ {
		t := NewLoopThread(p.log, initCb)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}

	if numThreads == 0 && initCb != nil {
		initCb(p.baseLoop)
	}
}

// GetNextLoop returns the next worker loop in round-robin order, or the
// base loop if the pool has no worker threads. Only called from the
// acceptor's own loop, so no locking is needed around next.
func (p *LoopPool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	l := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return l
}

// Loops returns every worker loop currently in the pool (not including the
// base loop), for callers that need to broadcast to all of them.
func (p *LoopPool) Loops() []*EventLoop {
	return p.loops
}

// Stop tears down every worker LoopThread, joining each in turn, and
// aggregates whatever teardown errors occur rather than stopping at the
// first one.
func (p *LoopPool) Stop() error {
	var err error
	for _, t := range p.threads {
		err = multierr.Append(err, t.Stop())
	}
	return err
}

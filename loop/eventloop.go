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

// Package loop implements the per-thread reactor: Channel binds a
// descriptor's interest and callbacks, Poller demultiplexes readiness, and
// EventLoop ties both together with a cross-goroutine task queue and
// wakeup primitive. LoopThread/LoopPool compose many of these into the
// multi-reactor pattern.
package loop

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/govoltron/reactor/internal/gid"
	"github.com/govoltron/reactor/internal/wakeup"
	"github.com/govoltron/reactor/logging"
	"github.com/govoltron/reactor/timestamp"
)

// pollTimeout is the default blocking-wait ceiling passed to Poll on every
// iteration; it bounds how promptly Quit (called from a different
// goroutine, if the wakeup write is somehow lost) is noticed in the worst
// case.
const pollTimeout = 10 * time.Second

// Task is a unit of work submitted to run on an EventLoop's own goroutine.
type Task func()

// EventLoop is a per-goroutine (and, via LockOSThread, per-OS-thread)
// scheduler: one Poller, one wakeup descriptor, a pending-task queue, and
// the Channels it currently manages. An EventLoop must only be driven by
// the goroutine that calls Loop; every other method besides Loop/Quit/
// RunInLoop/QueueInLoop/IsInLoopThread is only safe from that goroutine.
type EventLoop struct {
	log logging.Logger

	ownerGID uint64

	poller *Poller
	waker  wakeup.Waker
	wakeCh *Channel

	looping atomic.Bool
	quit    atomic.Bool

	mu            sync.Mutex
	pendingTasks  []Task
	executingTask atomic.Bool

	lastPoll timestamp.Timestamp

	activeChannels []*Channel
}

// New creates an EventLoop bound to the calling goroutine. It must be
// constructed on the goroutine that will call Loop.
func New(log logging.Logger) *EventLoop {
	log = logging.OrNoop(log)

	poller, err := NewPoller()
	if err != nil {
		log.Fatalf("loop: create poller: %v", err)
	}
	waker, err := wakeup.New()
	if err != nil {
		log.Fatalf("loop: create wakeup descriptor: %v", err)
	}

	l := &EventLoop{
		log:      log,
		ownerGID: gid.Current(),
		poller:   poller,
		waker:    waker,
	}
	l.wakeCh = NewChannel(l, waker.FD())
	l.wakeCh.OnRead = func(timestamp.Timestamp) {
		if err := l.waker.Drain(); err != nil {
			l.log.Errorf("loop: drain wakeup descriptor: %v", err)
		}
	}
	l.wakeCh.EnableReading()
	return l
}

// Loop runs the scheduler on the calling goroutine until Quit is
// observed. lockOSThread, when true, pins the goroutine to its current OS
// thread for the duration, so that goroutine identity (internal/gid) is
// also true OS-thread identity, matching the one-loop-per-thread model.
func (l *EventLoop) Loop(lockOSThread bool) {
	if lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	l.looping.Store(true)
	l.quit.Store(false)
	l.log.Infof("loop: starting")

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		now, err := l.poller.Poll(pollTimeout, &l.activeChannels)
		l.lastPoll = now
		if err != nil {
			l.log.Errorf("loop: poll: %v", err)
			continue
		}
		for _, ch := range l.activeChannels {
			ch.HandleEvent(l.lastPoll)
		}
		l.drainPendingTasks()
	}

	l.log.Infof("loop: stopped")
	l.looping.Store(false)
}

// PollReturnTime is the timestamp of the most recent Poll return.
func (l *EventLoop) PollReturnTime() timestamp.Timestamp { return l.lastPoll }

// Quit asks the loop to stop after finishing its current iteration. Safe
// to call from any goroutine; if called from elsewhere, it wakes the loop
// so it notices the flag without waiting out the full poll timeout.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes task on the loop's goroutine: inline if the caller is
// already that goroutine, otherwise handed off via QueueInLoop.
func (l *EventLoop) RunInLoop(task Task) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the pending queue and wakes the loop if the
// caller isn't its goroutine, or if the loop is mid-drain of a previous
// batch (so task doesn't wait for the loop to block in Poll again before
// running).
func (l *EventLoop) QueueInLoop(task Task) {
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.executingTask.Load() {
		l.wakeup()
	}
}

// drainPendingTasks swaps the pending queue into a local slice before
// running it, so tasks can enqueue further tasks (for the next iteration)
// without holding the mutex across arbitrary callback execution.
func (l *EventLoop) drainPendingTasks() {
	l.mu.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.mu.Unlock()

	l.executingTask.Store(true)
	for _, t := range tasks {
		t()
	}
	l.executingTask.Store(false)
}

func (l *EventLoop) wakeup() {
	if err := l.waker.Wake(); err != nil {
		l.log.Errorf("loop: wakeup: %v", err)
	}
}

// UpdateChannel registers or re-registers ch's current interest with the
// poller. Must be called from the loop's own goroutine.
func (l *EventLoop) UpdateChannel(ch *Channel) {
	l.assertInLoop("UpdateChannel")
	if err := l.poller.UpdateChannel(ch); err != nil {
		l.log.Errorf("loop: update channel fd=%d: %v", ch.FD(), err)
	}
}

// updateChannel is the hook Channel.update calls.
func (l *EventLoop) updateChannel(ch *Channel) { l.UpdateChannel(ch) }

// RemoveChannel deregisters ch. Must be called from the loop's own
// goroutine.
func (l *EventLoop) RemoveChannel(ch *Channel) {
	l.assertInLoop("RemoveChannel")
	if err := l.poller.RemoveChannel(ch); err != nil {
		l.log.Errorf("loop: remove channel fd=%d: %v", ch.FD(), err)
	}
}

func (l *EventLoop) removeChannel(ch *Channel) { l.RemoveChannel(ch) }

// HasChannel reports whether ch is currently tracked by this loop's
// poller.
func (l *EventLoop) HasChannel(ch *Channel) bool {
	return l.poller.HasChannel(ch)
}

// IsInLoopThread reports whether the calling goroutine is the one driving
// Loop.
func (l *EventLoop) IsInLoopThread() bool {
	return gid.Current() == l.ownerGID
}

func (l *EventLoop) assertInLoop(op string) {
	if !l.IsInLoopThread() {
		l.log.Errorf("loop: %s called off the loop's own goroutine", op)
	}
}

// Close releases the wakeup descriptor and the poller backend. Call after
// Loop has returned.
func (l *EventLoop) Close() error {
	l.wakeCh.DisableAll()
	l.wakeCh.Remove()
	var err error
	err = multierr.Append(err, l.waker.Close())
	err = multierr.Append(err, l.poller.Close())
	return err
}

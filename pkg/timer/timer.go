// Copyright (c) 2018 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package timer implements an ordered set of armed deadlines driven by
// an external loop.
//
// The embedding loop asks the Core for the soonest deadline (NextAt), sleeps
// until then (or until some other event arrives) and calls Dispatch with the
// current monotonic time. Dispatch fires every timer whose deadline has
// passed, in deadline order. Timers armed for the same deadline fire in the
// order in which they were armed.
//
// Core is not safe for concurrent use. It is meant to be owned by a single
// event loop goroutine.
package timer

import (
	"container/heap"
	"time"
)

// Func is a timer callback. The timer is already disarmed when the callback
// runs, so the callback may re-arm it.
type Func func(t *Timer)

// Clock returns the current monotonic time in nanoseconds.
type Clock func() int64

// Core holds all armed timers.
type Core struct {
	clock  Clock
	armed  timerHeap
	seqNum uint64
}

// Timer is a single deadline with a callback.
type Timer struct {
	core  *Core
	fn    Func
	at    int64
	seq   uint64
	index int // position in the heap, -1 when disarmed

	// Name is used only for logging/debugging.
	Name string
}

// NewCore returns an empty timer core using the given clock.
// A nil clock falls back to MonotonicClock().
func NewCore(clock Clock) *Core {
	if clock == nil {
		clock = MonotonicClock()
	}
	return &Core{clock: clock}
}

// MonotonicClock returns a Clock counting nanoseconds since its creation.
func MonotonicClock() Clock {
	start := time.Now()
	return func() int64 {
		return int64(time.Since(start))
	}
}

// Now returns the current time of the core clock.
func (c *Core) Now() int64 {
	return c.clock()
}

// NewTimer creates a disarmed timer bound to this core.
func (c *Core) NewTimer(name string, fn Func) *Timer {
	return &Timer{core: c, fn: fn, index: -1, Name: name}
}

// Len returns the number of armed timers.
func (c *Core) Len() int {
	return len(c.armed)
}

// NextAt returns the soonest deadline among armed timers.
// The second return value is false if no timer is armed.
func (c *Core) NextAt() (int64, bool) {
	if len(c.armed) == 0 {
		return 0, false
	}
	return c.armed[0].at, true
}

// Dispatch fires every timer with deadline <= now, in deadline order.
// Timers re-armed by callbacks with deadline <= now fire within the same
// Dispatch call.
func (c *Core) Dispatch(now int64) {
	for len(c.armed) > 0 && c.armed[0].at <= now {
		t := heap.Pop(&c.armed).(*Timer)
		if t.fn != nil {
			t.fn(t)
		}
	}
}

// ArmAt (re)arms the timer to fire at the absolute time nsec.
func (t *Timer) ArmAt(nsec int64) {
	c := t.core
	if t.index >= 0 {
		heap.Remove(&c.armed, t.index)
	}
	c.seqNum++
	t.at = nsec
	t.seq = c.seqNum
	heap.Push(&c.armed, t)
}

// ArmIn (re)arms the timer to fire after d from now.
func (t *Timer) ArmIn(d time.Duration) {
	t.ArmAt(t.core.Now() + int64(d))
}

// Disarm removes the timer from the core. No-op if the timer is not armed.
func (t *Timer) Disarm() {
	if t.index < 0 {
		return
	}
	heap.Remove(&t.core.armed, t.index)
}

// IsArmed returns true if the timer is waiting to fire.
func (t *Timer) IsArmed() bool {
	return t.index >= 0
}

// At returns the deadline of an armed timer.
func (t *Timer) At() int64 {
	return t.at
}

// Remaining returns the time left until the timer fires, or 0 if the timer
// is not armed or already overdue.
func (t *Timer) Remaining() time.Duration {
	if !t.IsArmed() {
		return 0
	}
	left := t.at - t.core.Now()
	if left < 0 {
		return 0
	}
	return time.Duration(left)
}

// timerHeap orders timers by deadline, then by arming sequence.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

/*
 * // Copyright (c) 2018 Cisco and/or its affiliates.
 * //
 * // Licensed under the Apache License, Version 2.0 (the "License");
 * // you may not use this file except in compliance with the License.
 * // You may obtain a copy of the License at:
 * //
 * //     http://www.apache.org/licenses/LICENSE-2.0
 * //
 * // Unless required by applicable law or agreed to in writing, software
 * // distributed under the License is distributed on an "AS IS" BASIS,
 * // WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * // See the License for the specific language governing permissions and
 * // limitations under the License.
 */

package core

import (
	"context"
	"time"

	"github.com/opensync/osw/pkg/timer"
)

// MockLoop is a mock implementation of the event loop with a manual clock.
// Posted functions and timers run only when the test calls Run or Advance,
// on the test goroutine.
type MockLoop struct {
	now    int64
	timers *timer.Core
	posted []func()
}

// NewMockLoop is a constructor for MockLoop. The clock starts at a
// non-zero time so that zero can be used as "not set" by the code under test.
func NewMockLoop() *MockLoop {
	l := &MockLoop{now: int64(time.Hour)}
	l.timers = timer.NewCore(func() int64 { return l.now })
	return l
}

// Post queues fn until the next Run.
func (l *MockLoop) Post(fn func()) error {
	l.posted = append(l.posted, fn)
	return nil
}

// Call runs fn right away.
func (l *MockLoop) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// Timers returns the timer core driven by the manual clock.
func (l *MockLoop) Timers() *timer.Core {
	return l.timers
}

// Now returns the manual clock.
func (l *MockLoop) Now() int64 {
	return l.now
}

// IsLoopGoroutine returns true, the mock runs everything on the test goroutine.
func (l *MockLoop) IsLoopGoroutine() bool {
	return true
}

// Run executes posted functions (including those they post) and dispatches
// expired timers.
func (l *MockLoop) Run() {
	for len(l.posted) > 0 {
		posted := l.posted
		l.posted = nil
		for _, fn := range posted {
			fn()
		}
	}
	l.timers.Dispatch(l.now)
}

// Advance moves the clock forward by d, firing timers in deadline order.
func (l *MockLoop) Advance(d time.Duration) {
	l.AdvanceTo(l.now + int64(d))
}

// AdvanceTo moves the clock to the given time, firing timers in deadline
// order. Time never goes backwards.
func (l *MockLoop) AdvanceTo(nsec int64) {
	l.Run()
	for {
		next, armed := l.timers.NextAt()
		if !armed || next > nsec {
			break
		}
		if next > l.now {
			l.now = next
		}
		l.Run()
	}
	if nsec > l.now {
		l.now = nsec
	}
	l.Run()
}

// AdvanceToNextTimer moves the clock to the earliest armed timer and fires
// it. Returns false if no timer is armed.
func (l *MockLoop) AdvanceToNextTimer() bool {
	l.Run()
	next, armed := l.timers.NextAt()
	if !armed {
		return false
	}
	l.AdvanceTo(next)
	return true
}

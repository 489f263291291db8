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

package rq

import (
	"strings"
	"time"

	"github.com/opensync/osw/pkg/timer"
)

// Runnable is implemented by every task body. Run must eventually lead to
// Task.Complete being called, either from within Run or later from another
// event handled by the loop.
type Runnable interface {
	Run(t *Task)
}

// Cancelable is implemented by task bodies that support graceful teardown.
// The body is still expected to call Task.Complete.
type Cancelable interface {
	Cancel(t *Task)
}

// Killable is implemented by task bodies that need to release resources
// when they are forcefully terminated. The task is completed right after
// Kill returns.
type Killable interface {
	Kill(t *Task)
}

// Droppable is implemented by task bodies that own work of their own
// which must be released when the task is cancelled or killed before it
// ever ran. Drop is called right before the task completes.
type Droppable interface {
	Drop(t *Task)
}

// RunFunc adapts a plain function to Runnable.
type RunFunc func(t *Task)

// Run calls f(t).
func (f RunFunc) Run(t *Task) {
	f(t)
}

// Flags describe the transient state of a task.
type Flags uint8

const (
	// Queued is set while the task waits in the pending list.
	Queued Flags = 1 << iota
	// Running is set while the task occupies a running slot.
	Running
	// Cancelled is set once a graceful cancellation was requested.
	Cancelled
	// Killed is set when the task was forcefully terminated.
	Killed
	// Completed is set when the task finished (in any way).
	Completed
	// TimedOut is set when the run timeout elapsed.
	TimedOut
	// CancelTimedOut is set when the task was force-completed because
	// it did not complete within the cancel timeout.
	CancelTimedOut
)

var flagNames = []string{
	"queued", "running", "cancelled", "killed", "completed", "timed-out", "cancel-timed-out",
}

// String returns a comma-separated list of set flags.
func (f Flags) String() string {
	var names []string
	for i, name := range flagNames {
		if f&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// Task is a unit of work executed by a Queue.
type Task struct {
	// Name is used for logging.
	Name string

	// RunTimeout, if non-zero, cancels the task when it does not complete
	// within the given time after it started running.
	RunTimeout time.Duration

	// CancelTimeout, if non-zero, force-completes a cancelled task that
	// does not complete within the given time.
	CancelTimeout time.Duration

	// CompletedFn is called every time the task completes.
	CompletedFn func(t *Task)

	impl  Runnable
	q     *Queue
	flags Flags

	timers      *timer.Core
	runTimer    *timer.Timer
	cancelTimer *timer.Timer
}

// NewTask creates a new task executing the given body.
func NewTask(name string, impl Runnable) *Task {
	return &Task{Name: name, impl: impl}
}

// Impl returns the body of the task.
func (t *Task) Impl() Runnable {
	return t.impl
}

// Queue returns the queue owning the task, nil if the task is not queued
// or running.
func (t *Task) Queue() *Queue {
	return t.q
}

// Flags returns the current task flags.
func (t *Task) Flags() Flags {
	return t.flags
}

// Is returns true if all the given flags are set.
func (t *Task) Is(f Flags) bool {
	return t.flags&f == f
}

// IsCompleted returns true once the task has completed.
func (t *Task) IsCompleted() bool {
	return t.Is(Completed)
}

// String returns a short human-readable description.
func (t *Task) String() string {
	return t.Name + "[" + t.flags.String() + "]"
}

// Complete marks the task as completed, removes it from its queue and
// calls CompletedFn. No-op if the task is not owned by a queue.
func (t *Task) Complete() {
	q := t.q
	if q == nil {
		return
	}

	t.disarmTimers()
	q.remove(t)
	t.q = nil
	t.flags = (t.flags &^ (Queued | Running)) | Completed

	if t.CompletedFn != nil {
		t.CompletedFn(t)
	}
	q.kick()
}

// Cancel requests graceful teardown. A pending task is dropped and
// completed right away without running. A running task has its Cancel
// handler invoked and the cancel timeout armed. No-op for completed tasks
// and for tasks that were already cancelled.
func (t *Task) Cancel() {
	if t.q == nil || t.Is(Cancelled) {
		return
	}
	t.flags |= Cancelled

	if !t.Is(Running) {
		t.drop()
		t.Complete()
		return
	}

	if t.CancelTimeout > 0 && t.timers != nil {
		t.cancelTimer.ArmIn(t.CancelTimeout)
	}
	if c, ok := t.impl.(Cancelable); ok {
		c.Cancel(t)
	}
}

// Kill terminates the task immediately. The Kill handler is only invoked
// for a running task, a pending one is dropped instead.
func (t *Task) Kill() {
	if t.q == nil {
		return
	}
	t.flags |= Killed

	if t.Is(Running) {
		if k, ok := t.impl.(Killable); ok {
			k.Kill(t)
		}
	} else {
		t.drop()
	}
	t.Complete()
}

func (t *Task) drop() {
	if d, ok := t.impl.(Droppable); ok {
		d.Drop(t)
	}
}

// start moves the task into the running state and invokes its body.
func (t *Task) start() {
	t.flags = (t.flags &^ Queued) | Running
	if t.RunTimeout > 0 && t.timers != nil {
		t.runTimer.ArmIn(t.RunTimeout)
	}
	t.impl.Run(t)
}

// bindTimers makes sure the task timers belong to the given core.
func (t *Task) bindTimers(core *timer.Core) {
	if core == nil || t.timers == core {
		return
	}
	t.timers = core
	t.runTimer = core.NewTimer(t.Name+"/run-timeout", func(*timer.Timer) {
		t.flags |= TimedOut
		t.Cancel()
	})
	t.cancelTimer = core.NewTimer(t.Name+"/cancel-timeout", func(*timer.Timer) {
		t.flags |= CancelTimedOut
		t.Complete()
	})
}

func (t *Task) disarmTimers() {
	if t.timers == nil {
		return
	}
	t.runTimer.Disarm()
	t.cancelTimer.Disarm()
}

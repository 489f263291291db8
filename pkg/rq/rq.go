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

// Package rq implements a run-queue: a bounded-concurrency scheduler of
// asynchronous tasks.
//
// A Queue keeps two ordered lists, pending and running. Added tasks wait in
// pending (FIFO) until a running slot is free and the queue is not stopped.
// A running task signals its end by calling Task.Complete, either from within
// its Run handler or later, when some other event handled by the owning loop
// resumes it. Tasks can be cancelled (gracefully, with an optional timeout) or
// killed (immediately).
//
// When both lists become empty the queue calls its EmptyFn, once per drain.
//
// Like the timer core, queues and tasks are not safe for concurrent use and
// belong to a single event loop.
package rq

import (
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/timer"
)

var (
	// ErrDoubleEnqueue is returned when a task already owned by a queue
	// is added again (to the same or another queue) before it completed.
	ErrDoubleEnqueue = errors.New("task is already owned by a run-queue")

	// ErrNotRunnable is returned when a task without a body is added.
	ErrNotRunnable = errors.New("task has no run handler")

	// ErrCompleted is returned when a task that already completed is added.
	// Tasks run at most once, create a new one to repeat the work.
	ErrCompleted = errors.New("task has already completed")
)

// Queue is a run-queue.
type Queue struct {
	// Name is used for logging.
	Name string

	// MaxRunning limits the number of tasks running at once, 0 = unlimited.
	MaxRunning int

	// EmptyFn is called when the last task leaves the queue.
	EmptyFn func(q *Queue)

	timers  *timer.Core
	pending []*Task
	running []*Task
	stopped bool
	drained bool
	busy    int
}

// New creates an empty queue. Run and cancel timeouts of tasks are
// armed in the given timer core; with a nil core timeouts are ignored.
func New(name string, timers *timer.Core) *Queue {
	return &Queue{
		Name:    name,
		timers:  timers,
		drained: true,
	}
}

// Add transfers the ownership of the task to the queue. The task is
// appended to the pending list and started as soon as the queue is not
// stopped and a running slot is free (possibly before Add returns).
func (q *Queue) Add(t *Task) error {
	if t == nil || t.impl == nil {
		return ErrNotRunnable
	}
	if t.q != nil {
		return errors.Wrapf(ErrDoubleEnqueue, "task %s owned by queue %s", t.Name, t.q.Name)
	}
	if t.IsCompleted() {
		return errors.Wrapf(ErrCompleted, "task %s", t.Name)
	}

	t.bindTimers(q.timers)
	t.q = q
	t.flags = Queued
	q.pending = append(q.pending, t)
	q.drained = false
	q.kick()
	return nil
}

// Stop pauses the promotion of pending tasks. Running tasks are not affected.
func (q *Queue) Stop() {
	q.stopped = true
}

// Resume re-enables promotion of pending tasks.
func (q *Queue) Resume() {
	q.stopped = false
	q.kick()
}

// CancelPending completes every pending task without running it.
func (q *Queue) CancelPending() {
	q.batch(q.cancelPending)
}

// CancelRunning requests graceful teardown of every running task.
func (q *Queue) CancelRunning() {
	q.batch(q.cancelRunning)
}

// Cancel cancels pending tasks first, then the running ones.
func (q *Queue) Cancel() {
	q.batch(func() {
		q.cancelPending()
		q.cancelRunning()
	})
}

// Kill terminates all tasks immediately.
func (q *Queue) Kill() {
	q.batch(func() {
		pending := q.pending
		q.pending = nil
		for _, t := range pending {
			t.Kill()
		}
		for _, t := range q.snapshotRunning() {
			t.Kill()
		}
	})
}

// IsEmpty returns true if no task is pending or running.
func (q *Queue) IsEmpty() bool {
	return len(q.pending) == 0 && len(q.running) == 0
}

// IsStopped returns true if the promotion of pending tasks is paused.
func (q *Queue) IsStopped() bool {
	return q.stopped
}

// PendingLen returns the number of pending tasks.
func (q *Queue) PendingLen() int {
	return len(q.pending)
}

// RunningLen returns the number of running tasks.
func (q *Queue) RunningLen() int {
	return len(q.running)
}

// Tasks returns all owned tasks, running first.
func (q *Queue) Tasks() []*Task {
	tasks := make([]*Task, 0, len(q.running)+len(q.pending))
	tasks = append(tasks, q.running...)
	return append(tasks, q.pending...)
}

func (q *Queue) cancelPending() {
	pending := q.pending
	q.pending = nil
	for _, t := range pending {
		t.Cancel()
	}
}

func (q *Queue) cancelRunning() {
	for _, t := range q.snapshotRunning() {
		t.Cancel()
	}
}

func (q *Queue) snapshotRunning() []*Task {
	return append([]*Task(nil), q.running...)
}

// batch defers promotion and the empty notification until fn returns.
func (q *Queue) batch(fn func()) {
	q.busy++
	fn()
	q.busy--
	q.kick()
}

// kick promotes pending tasks into free running slots and reports
// the drain. Re-entrant calls (from tasks completing synchronously) are
// folded into the outermost one.
func (q *Queue) kick() {
	if q.busy > 0 {
		return
	}
	q.busy++
	for q.canPromote() {
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running = append(q.running, t)
		t.start()
	}
	q.busy--

	if !q.drained && q.IsEmpty() {
		q.drained = true
		if q.EmptyFn != nil {
			q.EmptyFn(q)
		}
	}
}

func (q *Queue) canPromote() bool {
	if q.stopped || len(q.pending) == 0 {
		return false
	}
	return q.MaxRunning <= 0 || len(q.running) < q.MaxRunning
}

func (q *Queue) remove(t *Task) {
	q.pending = removeTask(q.pending, t)
	q.running = removeTask(q.running, t)
}

func removeTask(list []*Task, t *Task) []*Task {
	for i, item := range list {
		if item == t {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}

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
	"github.com/opensync/osw/pkg/timer"
)

// Nested is a task that runs a whole sub-queue. The sub-queue stays stopped
// until the task starts; the task completes once the sub-queue drains.
type Nested struct {
	Task  *Task
	Queue *Queue
}

// NewNested creates a nested task with an empty, stopped sub-queue.
// Fill the sub-queue with Nested.Queue.Add before adding Nested.Task
// to the parent queue.
func NewNested(name string, timers *timer.Core) *Nested {
	n := &Nested{Queue: New(name, timers)}
	n.Task = NewTask(name, n)
	n.Queue.Stop()
	n.Queue.EmptyFn = func(*Queue) {
		n.finish()
	}
	return n
}

// Run resumes the sub-queue.
func (n *Nested) Run(t *Task) {
	n.Queue.Resume()
	if n.Queue.IsEmpty() {
		n.finish()
	}
}

// Cancel propagates graceful cancellation into the sub-queue.
func (n *Nested) Cancel(t *Task) {
	n.Queue.Cancel()
}

// Kill propagates termination into the sub-queue.
func (n *Nested) Kill(t *Task) {
	n.Queue.Kill()
}

// Drop empties the sub-queue of a nested task that never ran. Its tasks
// complete without running.
func (n *Nested) Drop(t *Task) {
	if t.Is(Killed) {
		n.Queue.Kill()
	} else {
		n.Queue.Cancel()
	}
}

func (n *Nested) finish() {
	n.Queue.Stop()
	if n.Task.Is(Running) {
		n.Task.Complete()
	}
}

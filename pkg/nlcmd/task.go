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

package nlcmd

import (
	"github.com/opensync/osw/pkg/rq"
)

// Task runs a single command exchange as a run-queue task.
type Task struct {
	Task *rq.Task
	Cmd  *Cmd
	Msg  Message
}

// NewTask creates a task sending msg through ch when it runs.
func NewTask(name string, ch Channel, msg Message) *Task {
	ct := &Task{Cmd: New(name, ch), Msg: msg}
	ct.Task = rq.NewTask(name, ct)
	ct.Cmd.CompletedFn = func(*Cmd) {
		ct.Task.Complete()
	}
	return ct
}

// Run sends the message.
func (ct *Task) Run(t *rq.Task) {
	ct.Cmd.SetMsg(ct.Msg)
}

// Cancel stops waiting for the reply.
func (ct *Task) Cancel(t *rq.Task) {
	ct.Cmd.Reset()
	t.Complete()
}

// Failed returns true unless the exchange was acknowledged.
func (ct *Task) Failed() bool {
	return ct.Cmd.Status() != StatusAcked
}

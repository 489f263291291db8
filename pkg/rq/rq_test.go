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
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/timer"
)

type testBody struct {
	runs    int
	cancels int
	kills   int

	completeOnRun    bool
	completeOnCancel bool
	onRun            func(t *Task)
}

func (b *testBody) Run(t *Task) {
	b.runs++
	if b.onRun != nil {
		b.onRun(t)
	}
	if b.completeOnRun {
		t.Complete()
	}
}

func (b *testBody) Cancel(t *Task) {
	b.cancels++
	if b.completeOnCancel {
		t.Complete()
	}
}

func (b *testBody) Kill(t *Task) {
	b.kills++
}

type testClock struct {
	now int64
}

func (c *testClock) get() int64 {
	return c.now
}

func (c *testClock) advance(core *timer.Core, d time.Duration) {
	c.now += int64(d)
	core.Dispatch(c.now)
}

func TestDrainWithLimitedConcurrency(t *testing.T) {
	RegisterTestingT(t)

	const (
		numTasks   = 10
		maxRunning = 3
	)

	q := New("drain", nil)
	q.MaxRunning = maxRunning
	emptyCount := 0
	q.EmptyFn = func(*Queue) { emptyCount++ }

	var (
		running    []*Task
		maxSeen    int
		completed  int
		startOrder []string
	)
	for i := 0; i < numTasks; i++ {
		body := &testBody{}
		body.onRun = func(t *Task) {
			running = append(running, t)
			startOrder = append(startOrder, t.Name)
			if q.RunningLen() > maxSeen {
				maxSeen = q.RunningLen()
			}
		}
		task := NewTask(fmt.Sprintf("t%d", i), body)
		task.CompletedFn = func(*Task) { completed++ }
		Expect(q.Add(task)).To(Succeed())
	}
	Expect(q.RunningLen()).To(Equal(maxRunning))
	Expect(q.PendingLen()).To(Equal(numTasks - maxRunning))

	for len(running) > 0 {
		task := running[0]
		running = running[1:]
		Expect(task.Is(Running)).To(BeTrue())
		task.Complete()
		Expect(task.IsCompleted()).To(BeTrue())
		Expect(q.RunningLen()).To(BeNumerically("<=", maxRunning))
	}

	Expect(maxSeen).To(Equal(maxRunning))
	Expect(completed).To(Equal(numTasks))
	Expect(emptyCount).To(Equal(1))
	Expect(q.IsEmpty()).To(BeTrue())

	// FIFO start order
	for i, name := range startOrder {
		Expect(name).To(Equal(fmt.Sprintf("t%d", i)))
	}

	// a second drain is reported again
	Expect(q.Add(NewTask("again", &testBody{completeOnRun: true}))).To(Succeed())
	Expect(emptyCount).To(Equal(2))
}

func TestSynchronousCompletion(t *testing.T) {
	RegisterTestingT(t)

	q := New("sync", nil)
	emptyCount := 0
	q.EmptyFn = func(*Queue) { emptyCount++ }

	q.Stop()
	bodies := []*testBody{{completeOnRun: true}, {completeOnRun: true}, {completeOnRun: true}}
	for i, b := range bodies {
		Expect(q.Add(NewTask(fmt.Sprintf("t%d", i), b))).To(Succeed())
	}
	Expect(q.PendingLen()).To(Equal(3))
	Expect(emptyCount).To(BeZero())

	q.Resume()
	for _, b := range bodies {
		Expect(b.runs).To(Equal(1))
	}
	Expect(emptyCount).To(Equal(1))
	Expect(q.IsEmpty()).To(BeTrue())

	// resume of a drained queue does not report the drain again
	q.Resume()
	Expect(emptyCount).To(Equal(1))
}

func TestDoubleEnqueue(t *testing.T) {
	RegisterTestingT(t)

	a := New("a", nil)
	b := New("b", nil)
	body := &testBody{}
	task := NewTask("task", body)

	Expect(a.Add(task)).To(Succeed())
	err := b.Add(task)
	Expect(err).To(HaveOccurred())
	Expect(errors.Cause(err)).To(Equal(ErrDoubleEnqueue))
	Expect(errors.Cause(a.Add(task))).To(Equal(ErrDoubleEnqueue))
	Expect(body.runs).To(Equal(1))
	Expect(task.Queue()).To(Equal(a))
	Expect(b.IsEmpty()).To(BeTrue())

	// a completed task stays completed
	task.Complete()
	Expect(errors.Cause(b.Add(task))).To(Equal(ErrCompleted))
	Expect(body.runs).To(Equal(1))
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(task.Queue()).To(BeNil())
	Expect(b.IsEmpty()).To(BeTrue())

	Expect(a.Add(nil)).To(Equal(ErrNotRunnable))
	Expect(a.Add(&Task{Name: "empty"})).To(Equal(ErrNotRunnable))
}

func TestCancelIdempotence(t *testing.T) {
	RegisterTestingT(t)

	q := New("cancel", nil)
	body := &testBody{}
	task := NewTask("task", body)
	completedCount := 0
	task.CompletedFn = func(*Task) { completedCount++ }

	Expect(q.Add(task)).To(Succeed())
	task.Cancel()
	task.Cancel()
	Expect(body.cancels).To(Equal(1))
	Expect(task.Is(Cancelled)).To(BeTrue())
	Expect(task.IsCompleted()).To(BeFalse())

	task.Complete()
	Expect(completedCount).To(Equal(1))

	task.Cancel()
	task.Complete()
	task.Kill()
	Expect(body.cancels).To(Equal(1))
	Expect(body.kills).To(BeZero())
	Expect(completedCount).To(Equal(1))

	// cancelling a task that completed on its own never reaches the handler
	other := &testBody{completeOnRun: true}
	otherTask := NewTask("other", other)
	Expect(q.Add(otherTask)).To(Succeed())
	otherTask.Cancel()
	Expect(other.cancels).To(BeZero())
}

func TestCancelPendingAndRunning(t *testing.T) {
	RegisterTestingT(t)

	q := New("cancel", nil)
	q.MaxRunning = 1
	emptyCount := 0
	q.EmptyFn = func(*Queue) { emptyCount++ }

	first := &testBody{completeOnCancel: true}
	second := &testBody{}
	third := &testBody{}
	t1 := NewTask("t1", first)
	t2 := NewTask("t2", second)
	t3 := NewTask("t3", third)
	for _, task := range []*Task{t1, t2, t3} {
		Expect(q.Add(task)).To(Succeed())
	}

	q.CancelPending()
	Expect(second.runs).To(BeZero())
	Expect(third.runs).To(BeZero())
	Expect(t2.Is(Completed | Cancelled)).To(BeTrue())
	Expect(t3.Is(Completed | Cancelled)).To(BeTrue())
	Expect(t1.Is(Running)).To(BeTrue())
	Expect(emptyCount).To(BeZero())

	q.CancelRunning()
	Expect(first.cancels).To(Equal(1))
	Expect(t1.Is(Completed | Cancelled)).To(BeTrue())
	Expect(emptyCount).To(Equal(1))
}

func TestCancelWholeQueue(t *testing.T) {
	RegisterTestingT(t)

	q := New("cancel", nil)
	q.MaxRunning = 1
	emptyCount := 0
	q.EmptyFn = func(*Queue) { emptyCount++ }

	running := &testBody{completeOnCancel: true}
	pending := &testBody{}
	Expect(q.Add(NewTask("running", running))).To(Succeed())
	Expect(q.Add(NewTask("pending", pending))).To(Succeed())

	q.Cancel()
	Expect(running.cancels).To(Equal(1))
	Expect(pending.runs).To(BeZero())
	Expect(q.IsEmpty()).To(BeTrue())
	Expect(emptyCount).To(Equal(1))
}

func TestStopResume(t *testing.T) {
	RegisterTestingT(t)

	q := New("stop", nil)
	a := &testBody{}
	b := &testBody{}
	ta := NewTask("a", a)
	Expect(q.Add(ta)).To(Succeed())
	Expect(a.runs).To(Equal(1))

	q.Stop()
	Expect(q.IsStopped()).To(BeTrue())
	tb := NewTask("b", b)
	Expect(q.Add(tb)).To(Succeed())
	Expect(b.runs).To(BeZero())
	Expect(tb.Is(Queued)).To(BeTrue())

	// running task is not affected by stop
	ta.Complete()
	Expect(b.runs).To(BeZero())

	q.Resume()
	Expect(b.runs).To(Equal(1))
	Expect(tb.Is(Running)).To(BeTrue())
	Expect(q.Tasks()).To(Equal([]*Task{tb}))
}

func TestKill(t *testing.T) {
	RegisterTestingT(t)

	q := New("kill", nil)
	q.MaxRunning = 1
	emptyCount := 0
	q.EmptyFn = func(*Queue) { emptyCount++ }

	running := &testBody{}
	pending := &testBody{}
	tr := NewTask("running", running)
	tp := NewTask("pending", pending)
	Expect(q.Add(tr)).To(Succeed())
	Expect(q.Add(tp)).To(Succeed())

	q.Kill()
	Expect(running.kills).To(Equal(1))
	Expect(running.cancels).To(BeZero())
	Expect(pending.kills).To(BeZero())
	Expect(pending.runs).To(BeZero())
	Expect(tr.Is(Completed | Killed)).To(BeTrue())
	Expect(tp.Is(Completed | Killed)).To(BeTrue())
	Expect(emptyCount).To(Equal(1))
}

func TestTimeouts(t *testing.T) {
	RegisterTestingT(t)

	clock := &testClock{}
	core := timer.NewCore(clock.get)
	q := New("timeouts", core)

	body := &testBody{}
	task := NewTask("slow", body)
	task.RunTimeout = 100 * time.Millisecond
	task.CancelTimeout = 50 * time.Millisecond
	Expect(q.Add(task)).To(Succeed())

	clock.advance(core, 99*time.Millisecond)
	Expect(body.cancels).To(BeZero())

	clock.advance(core, time.Millisecond)
	Expect(body.cancels).To(Equal(1))
	Expect(body.kills).To(BeZero())
	Expect(task.Is(TimedOut | Cancelled)).To(BeTrue())
	Expect(task.IsCompleted()).To(BeFalse())

	clock.advance(core, 50*time.Millisecond)
	Expect(task.Is(Completed | CancelTimedOut)).To(BeTrue())
	Expect(q.IsEmpty()).To(BeTrue())
	Expect(core.Len()).To(BeZero())

	// completing in time leaves no timer behind
	fast := NewTask("fast", &testBody{})
	fast.RunTimeout = time.Second
	Expect(q.Add(fast)).To(Succeed())
	Expect(core.Len()).To(Equal(1))
	fast.Complete()
	Expect(core.Len()).To(BeZero())
	Expect(fast.Is(TimedOut)).To(BeFalse())
}

func TestFlagsString(t *testing.T) {
	RegisterTestingT(t)

	Expect((Completed | Cancelled).String()).To(Equal("cancelled,completed"))
	Expect(Flags(0).String()).To(BeEmpty())
}

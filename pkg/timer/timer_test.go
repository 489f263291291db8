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

package timer

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

type manualClock struct {
	now int64
}

func (c *manualClock) clock() int64 {
	return c.now
}

func TestDispatchOrder(t *testing.T) {
	RegisterTestingT(t)

	mc := &manualClock{}
	core := NewCore(mc.clock)

	var fired []string
	record := func(tm *Timer) { fired = append(fired, tm.Name) }

	t300 := core.NewTimer("300", record)
	t100 := core.NewTimer("100", record)
	t200 := core.NewTimer("200", record)
	t300.ArmAt(300)
	t100.ArmAt(100)
	t200.ArmAt(200)

	next, ok := core.NextAt()
	Expect(ok).To(BeTrue())
	Expect(next).To(BeEquivalentTo(100))

	core.Dispatch(250)
	Expect(fired).To(Equal([]string{"100", "200"}))
	Expect(t300.IsArmed()).To(BeTrue())
	Expect(t100.IsArmed()).To(BeFalse())
	Expect(t200.IsArmed()).To(BeFalse())

	next, ok = core.NextAt()
	Expect(ok).To(BeTrue())
	Expect(next).To(BeEquivalentTo(300))
}

func TestTiesFireInArmOrder(t *testing.T) {
	RegisterTestingT(t)

	core := NewCore((&manualClock{}).clock)

	var fired []string
	record := func(tm *Timer) { fired = append(fired, tm.Name) }

	a := core.NewTimer("a", record)
	b := core.NewTimer("b", record)
	c := core.NewTimer("c", record)
	b.ArmAt(10)
	a.ArmAt(10)
	c.ArmAt(10)
	// re-arming moves the timer behind the others with the same deadline
	b.ArmAt(10)

	core.Dispatch(10)
	Expect(fired).To(Equal([]string{"a", "c", "b"}))
	Expect(core.Len()).To(BeZero())
}

func TestDisarmAndRearm(t *testing.T) {
	RegisterTestingT(t)

	mc := &manualClock{now: 1000}
	core := NewCore(mc.clock)

	count := 0
	tm := core.NewTimer("t", func(*Timer) { count++ })

	// disarm of a disarmed timer is a no-op
	tm.Disarm()
	Expect(tm.IsArmed()).To(BeFalse())

	tm.ArmIn(50 * time.Nanosecond)
	Expect(tm.At()).To(BeEquivalentTo(1050))
	Expect(tm.Remaining()).To(Equal(50 * time.Nanosecond))

	tm.ArmAt(2000)
	Expect(core.Len()).To(Equal(1))
	core.Dispatch(1500)
	Expect(count).To(BeZero())

	tm.Disarm()
	_, ok := core.NextAt()
	Expect(ok).To(BeFalse())
	core.Dispatch(5000)
	Expect(count).To(BeZero())
	Expect(tm.Remaining()).To(BeZero())
}

func TestCallbackMayRearm(t *testing.T) {
	RegisterTestingT(t)

	mc := &manualClock{}
	core := NewCore(mc.clock)

	var at []int64
	var tm *Timer
	tm = core.NewTimer("periodic", func(t *Timer) {
		Expect(t.IsArmed()).To(BeFalse())
		at = append(at, t.At())
		if len(at) < 3 {
			t.ArmAt(t.At() + 100)
		}
	})
	tm.ArmAt(100)

	core.Dispatch(150)
	Expect(at).To(Equal([]int64{100}))
	Expect(tm.IsArmed()).To(BeTrue())

	// both remaining deadlines are overdue, they fire within one dispatch
	core.Dispatch(1000)
	Expect(at).To(Equal([]int64{100, 200, 300}))
	Expect(tm.IsArmed()).To(BeFalse())
}

func TestEmptyCore(t *testing.T) {
	RegisterTestingT(t)

	core := NewCore(nil)
	_, ok := core.NextAt()
	Expect(ok).To(BeFalse())
	core.Dispatch(core.Now())
	Expect(core.Len()).To(BeZero())
}

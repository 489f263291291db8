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

package confsync

import (
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	coremock "github.com/opensync/osw/mock/core"
)

func newTestWatchdog(loop *coremock.MockLoop, fatals *[]error) *Watchdog {
	return NewWatchdog(logging.ForPlugin("watchdog-test"), loop.Timers(), DefaultConfig().Watchdog,
		func(err error) { *fatals = append(*fatals, err) })
}

func TestWatchdogSettledness(t *testing.T) {
	RegisterTestingT(t)

	loop := coremock.NewMockLoop()
	var fatals []error
	w := newTestWatchdog(loop, &fatals)
	Expect(w.IsSettled()).To(BeTrue())

	// only IDLE and WAITING matter
	w.changed(Requesting)
	Expect(w.IsSettled()).To(BeTrue())
	w.changed(Waiting)
	Expect(w.IsSettled()).To(BeFalse())
	w.changed(Verifying)
	Expect(w.IsSettled()).To(BeFalse())
	w.changed(Idle)
	Expect(w.IsSettled()).To(BeTrue())
	Expect(fatals).To(BeEmpty())
}

func TestWatchdogNotSettled(t *testing.T) {
	RegisterTestingT(t)

	loop := coremock.NewMockLoop()
	var fatals []error
	w := newTestWatchdog(loop, &fatals)

	w.changed(Waiting)
	loop.Advance(2 * time.Minute)
	Expect(w.unsettledFor()).To(Equal(2 * time.Minute))
	w.changed(Idle)
	loop.Advance(10 * time.Minute)
	Expect(fatals).To(BeEmpty())

	w.changed(Waiting)
	loop.Advance(3 * time.Minute)
	Expect(fatals).To(HaveLen(1))
	Expect(errors.Cause(fatals[0])).To(Equal(ErrNotSettled))
}

func TestWatchdogFlickering(t *testing.T) {
	RegisterTestingT(t)

	loop := coremock.NewMockLoop()
	var fatals []error
	w := newTestWatchdog(loop, &fatals)

	loop.Advance(10 * time.Second)
	cycle := func() {
		w.changed(Waiting)
		loop.Advance(50 * time.Second)
		w.changed(Idle)
		loop.Advance(10 * time.Second)
	}
	for i := 0; i < 4; i++ {
		cycle()
	}
	// less than the whole window was observed
	Expect(fatals).To(BeEmpty())

	cycle()
	Expect(fatals).To(HaveLen(1))
	Expect(errors.Cause(fatals[0])).To(Equal(ErrFlickering))
}

func TestWatchdogMostlySettled(t *testing.T) {
	RegisterTestingT(t)

	loop := coremock.NewMockLoop()
	var fatals []error
	w := newTestWatchdog(loop, &fatals)

	for i := 0; i < 20; i++ {
		w.changed(Waiting)
		loop.Advance(20 * time.Second)
		w.changed(Idle)
		loop.Advance(40 * time.Second)
	}
	Expect(fatals).To(BeEmpty())
	Expect(len(w.intervals)).To(BeNumerically("<=", 12))
}

func TestWatchdogAttach(t *testing.T) {
	RegisterTestingT(t)

	config := testConfig()
	config.RunTimeout = 0
	f := newFixture(config)
	f.drv.Async = true
	var fatals []error
	w := newTestWatchdog(f.loop, &fatals)
	w.Attach(f.engine)

	ssid := "desired"
	f.setSSID("wl0", &ssid)
	f.start()
	Expect(w.IsSettled()).To(BeFalse())

	f.loop.Advance(3 * time.Minute)
	Expect(fatals).To(HaveLen(1))

	f.drv.CompletePending()
	f.loop.Run()
	Expect(w.IsSettled()).To(BeTrue())

	w.Detach()
	Expect(f.engine.UnregisterChangedFn(w.handle)).ToNot(Succeed())
}

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

package mux_test

import (
	"net"
	"testing"

	"github.com/ligato/cn-infra/logging"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	mockcore "github.com/opensync/osw/mock/core"
	mockdrv "github.com/opensync/osw/mock/driver"
	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

type testEnv struct {
	loop  *mockcore.MockLoop
	state *state.Registry
	mux   *mux.Mux
	drvA  *mockdrv.MockDriver
	drvB  *mockdrv.MockDriver
}

func newTestEnv() *testEnv {
	env := &testEnv{
		loop:  mockcore.NewMockLoop(),
		state: state.NewRegistry(logging.ForPlugin("state")),
		drvA:  mockdrv.NewMockDriver("drv-a"),
		drvB:  mockdrv.NewMockDriver("drv-b"),
	}
	env.mux = mux.NewMux(logging.ForPlugin("mux-test"), env.state, env.loop.Timers())
	Expect(env.mux.RegisterDriver(env.drvA)).To(Succeed())
	Expect(env.mux.RegisterDriver(env.drvB)).To(Succeed())
	Expect(env.mux.Start()).To(Succeed())

	env.drvA.AddPhy("phy0", "wl0")
	env.drvA.AddPhy("phy1", "wl1")
	env.drvB.AddPhy("phy2", "wl2")
	return env
}

func TestRegisterDriver(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	Expect(env.mux.DriverNames()).To(Equal([]string{"drv-a", "drv-b"}))
	err := env.mux.RegisterDriver(mockdrv.NewMockDriver("drv-a"))
	Expect(errors.Cause(err)).To(Equal(mux.ErrDriverExists))

	Expect(env.mux.PhyDriverName("phy1")).To(Equal("drv-a"))
	Expect(env.mux.PhyDriverName("phy2")).To(Equal("drv-b"))
	Expect(env.state.PhyDriver("phy2")).To(Equal("drv-b"))

	Expect(env.drvB.Reporter.ReportPhyGone("drv-b", "phy2")).To(Succeed())
	Expect(env.mux.PhyDriverName("phy2")).To(BeEmpty())
	Expect(env.state.Phy("phy2")).To(BeNil())
}

func TestRequestConfigSplitsPerDriver(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	tree := env.state.LiveTree()
	tree.Phy("phy0").Changed = true
	tree.Phy("phy0").TxChainmask = 3
	tree.Phy("phy2").Changed = true

	task, err := env.mux.RequestConfig(tree)
	Expect(err).ToNot(HaveOccurred())

	var completed bool
	task.CompletedFn = func(*rq.Task) { completed = true }
	q := rq.New("test", env.loop.Timers())
	Expect(q.Add(task)).To(Succeed())
	Expect(completed).To(BeTrue())

	Expect(env.drvA.Requests).To(HaveLen(1))
	Expect(env.drvA.Requests[0].Len()).To(Equal(1))
	Expect(env.drvA.Requests[0].Phy("phy0")).ToNot(BeNil())
	Expect(env.drvB.Requests).To(HaveLen(1))
	Expect(env.drvB.Requests[0].Phy("phy2")).ToNot(BeNil())

	// the mock applied the change
	Expect(env.state.Phy("phy0").TxChainmask).To(Equal(3))
}

func TestRequestConfigAsync(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.drvA.Async = true
	env.drvB.Async = true

	tree := env.state.LiveTree()
	for _, phy := range tree.Phys() {
		phy.Changed = true
	}
	task, err := env.mux.RequestConfig(tree)
	Expect(err).ToNot(HaveOccurred())

	q := rq.New("test", env.loop.Timers())
	Expect(q.Add(task)).To(Succeed())
	Expect(task.Is(rq.Running)).To(BeTrue())

	env.drvA.CompletePending()
	Expect(task.IsCompleted()).To(BeFalse())
	env.drvB.CompletePending()
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(q.IsEmpty()).To(BeTrue())
}

func TestRequestConfigNothingChanged(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	task, err := env.mux.RequestConfig(env.state.LiveTree())
	Expect(err).ToNot(HaveOccurred())
	q := rq.New("test", env.loop.Timers())
	Expect(q.Add(task)).To(Succeed())
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(env.drvA.Requests).To(BeEmpty())
}

func TestRequestConfigUnknownPhy(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	tree := model.NewPhyTree()
	phy := model.NewPhy("phy9")
	phy.Changed = true
	Expect(tree.Add(phy)).To(Succeed())

	_, err := env.mux.RequestConfig(tree)
	Expect(errors.Cause(err)).To(Equal(mux.ErrNoDriver))
}

func TestFrameTxSchedule(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	var results []error
	done := func(err error) { results = append(results, err) }

	Expect(env.mux.FrameTxSchedule("phy0", "wl0", []byte{1}, done)).To(Succeed())
	Expect(env.mux.FrameTxSchedule("phy0", "wl0", []byte{2}, done)).To(Succeed())
	Expect(env.mux.FrameTxSchedule("phy2", "wl2", []byte{3}, done)).To(Succeed())

	// one frame at a time per phy
	Expect(env.drvA.Frames).To(HaveLen(1))
	Expect(env.drvB.Frames).To(HaveLen(1))

	env.drvA.CompleteFrames(nil)
	Expect(env.drvA.Frames).To(HaveLen(2))
	Expect(env.drvA.Frames[1].Data).To(Equal([]byte{2}))
	env.drvA.CompleteFrames(nil)
	Expect(results).To(HaveLen(2))

	err := env.mux.FrameTxSchedule("phy9", "wl0", []byte{1}, done)
	Expect(errors.Cause(err)).To(Equal(mux.ErrNoDriver))

	// synchronous failure completes the frame right away
	env.drvB.FrameTxErr = errors.New("tx failed")
	env.drvB.CompleteFrames(nil)
	Expect(env.mux.FrameTxSchedule("phy2", "wl2", []byte{4}, done)).To(Succeed())
	Expect(results).To(HaveLen(4))
	Expect(results[3]).To(HaveOccurred())
}

func TestStaDeauthViaFrame(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	sta, _ := net.ParseMAC("aa:bb:cc:00:00:01")
	Expect(env.mux.RequestStaDeauth("phy0", "wl0", sta, mux.ReasonUnspecified)).To(Succeed())

	Expect(env.drvA.Frames).To(HaveLen(1))
	frame := env.drvA.Frames[0].Data
	Expect(len(frame)).To(BeNumerically(">=", 26))
	Expect(frame[0]).To(Equal(byte(0xc0)))
	dst, err := mux.FrameDestination(frame)
	Expect(err).ToNot(HaveOccurred())
	Expect(dst.String()).To(Equal("aa:bb:cc:00:00:01"))
	Expect(net.HardwareAddr(frame[10:16]).String()).To(Equal("02:00:00:00:00:01"))
	Expect(frame[24:26]).To(Equal([]byte{1, 0}))
	Expect(mux.IsDeauthFrame(frame)).To(BeTrue())
	Expect(mux.IsDeauthFrame([]byte{1})).To(BeFalse())

	err = env.mux.RequestStaDeauth("phy0", "wl9", sta, mux.ReasonUnspecified)
	Expect(errors.Cause(err)).To(Equal(mux.ErrUnknownVif))
}

func TestStaDeauthNative(t *testing.T) {
	RegisterTestingT(t)

	loop := mockcore.NewMockLoop()
	reg := state.NewRegistry(logging.ForPlugin("state"))
	m := mux.NewMux(logging.ForPlugin("mux-test"), reg, loop.Timers())
	drv := &mockdrv.DeauthDriver{MockDriver: mockdrv.NewMockDriver("native")}
	Expect(m.RegisterDriver(drv)).To(Succeed())
	Expect(m.Start()).To(Succeed())
	drv.AddPhy("phy0", "wl0")

	sta, _ := net.ParseMAC("aa:bb:cc:00:00:01")
	Expect(m.RequestStaDeauth("phy0", "wl0", sta, mux.ReasonDisassocLowAck)).To(Succeed())
	Expect(drv.Deauths).To(HaveLen(1))
	Expect(drv.Deauths[0].Reason).To(Equal(mux.ReasonDisassocLowAck))
	Expect(drv.Frames).To(BeEmpty())
}

func TestBuildDeauthFrameInvalid(t *testing.T) {
	RegisterTestingT(t)

	_, err := mux.BuildDeauthFrame(nil, nil, mux.ReasonUnspecified)
	Expect(err).To(HaveOccurred())
	_, err = mux.FrameDestination([]byte{1, 2, 3})
	Expect(err).To(HaveOccurred())
}

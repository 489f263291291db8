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

package dummy

import (
	"net"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	coremock "github.com/opensync/osw/mock/core"
	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/plugins/conf"
	"github.com/opensync/osw/plugins/confsync"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

const physYAML = `
phys:
  - name: phy0
    enabled: true
    tx_chainmask: 3
    vifs:
      - name: wl0
        type: ap
        enabled: true
        mac: "02:00:00:00:00:01"
        ap:
          ssid: home
        stations:
          - mac: "AA:BB:CC:00:00:01"
            stats:
              rx_bytes: 10
      - name: wl1
        type: ap
        enabled: false
        stuck: true
  - name: phy1
    enabled: false
    stuck: true
    vifs:
      - name: wl2
        type: sta
        enabled: true
        broken: true
`

type testEnv struct {
	loop     *coremock.MockLoop
	registry *state.Registry
	mux      *mux.Mux
	drv      *Driver
	queue    *rq.Queue
}

func newTestEnv(delay time.Duration) *testEnv {
	log := logging.ForPlugin("dummy-test")
	phys, err := ParsePhys([]byte(physYAML))
	Expect(err).ToNot(HaveOccurred())

	env := &testEnv{loop: coremock.NewMockLoop()}
	env.registry = state.NewRegistry(log)
	env.mux = mux.NewMux(log, env.registry, env.loop.Timers())
	env.drv = NewDriver("dummy", log, env.loop.Timers(), phys)
	env.drv.ApplyDelay = delay
	Expect(env.mux.RegisterDriver(env.drv)).To(Succeed())
	Expect(env.mux.Start()).To(Succeed())
	env.queue = rq.New("test", env.loop.Timers())
	return env
}

// request sends the live tree with the given changes applied.
func (env *testEnv) request(change func(tree *model.PhyTree)) *rq.Task {
	tree := env.registry.LiveTree()
	change(tree)
	task, err := env.drv.RequestConfig(tree)
	Expect(err).ToNot(HaveOccurred())
	Expect(env.queue.Add(task)).To(Succeed())
	return task
}

func markChanged(tree *model.PhyTree, phyName, vifName string) *model.Vif {
	phy := tree.Phy(phyName)
	phy.Changed = true
	vif := phy.Vif(vifName)
	vif.Changed = true
	return vif
}

func TestStartReportsPhys(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(0)
	Expect(env.registry.IsSettled()).To(BeTrue())
	Expect(env.registry.LiveTree().Len()).To(Equal(2))
	Expect(env.registry.PhyDriver("phy0")).To(Equal("dummy"))
	Expect(env.mux.PhyDriverName("phy1")).To(Equal("dummy"))

	Expect(env.registry.Vif("phy0", "wl0").Status).To(Equal(model.VifStatusEnabled))
	Expect(env.registry.Vif("phy0", "wl1").Status).To(Equal(model.VifStatusDisabled))
	Expect(env.registry.Vif("phy1", "wl2").Status).To(Equal(model.VifStatusBroken))

	sta := env.registry.Sta("phy0", "wl0", "aa:bb:cc:00:00:01")
	Expect(sta).ToNot(BeNil())
	Expect(sta.Stats.RxBytes).To(BeEquivalentTo(10))
}

func TestApplyAfterDelay(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(time.Second)
	task := env.request(func(tree *model.PhyTree) {
		markChanged(tree, "phy0", "wl0").AP.SSID = "guest"
		tree.Phy("phy0").TxChainmask = 15
	})
	Expect(task.Is(rq.Running)).To(BeTrue())
	Expect(env.registry.Vif("phy0", "wl0").AP.SSID).To(Equal("home"))

	env.loop.Advance(time.Second)
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(env.registry.Vif("phy0", "wl0").AP.SSID).To(Equal("guest"))
	Expect(env.registry.Phy("phy0").TxChainmask).To(Equal(15))
}

func TestDisableDropsStations(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(0)
	task := env.request(func(tree *model.PhyTree) {
		markChanged(tree, "phy0", "wl0").Enabled = false
	})
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(env.registry.Vif("phy0", "wl0").Status).To(Equal(model.VifStatusDisabled))
	Expect(env.registry.Stations("phy0", "wl0")).To(BeEmpty())

	env.request(func(tree *model.PhyTree) {
		markChanged(tree, "phy0", "wl0").Enabled = true
	})
	Expect(env.registry.Stations("phy0", "wl0")).To(HaveLen(1))
}

func TestStuckObjectsIgnoreRequests(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(0)
	task := env.request(func(tree *model.PhyTree) {
		markChanged(tree, "phy0", "wl1").Enabled = true
		tree.Phy("phy1").Changed = true
		tree.Phy("phy1").Enabled = true
	})
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(env.registry.Vif("phy0", "wl1").Status).To(Equal(model.VifStatusDisabled))
	Expect(env.registry.Phy("phy1").Enabled).To(BeFalse())
}

func TestRemovedVif(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(0)
	env.request(func(tree *model.PhyTree) {
		tree.Phy("phy0").Changed = true
		tree.Phy("phy0").RemoveVif("wl0")
	})
	Expect(env.registry.Vif("phy0", "wl0")).To(BeNil())
	Expect(env.registry.Sta("phy0", "wl0", "aa:bb:cc:00:00:01")).To(BeNil())
	Expect(env.registry.Vif("phy0", "wl1")).ToNot(BeNil())
}

func TestCancelDropsRequest(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(time.Second)
	task := env.request(func(tree *model.PhyTree) {
		markChanged(tree, "phy0", "wl0").AP.SSID = "guest"
	})
	task.Cancel()
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(task.Is(rq.Cancelled)).To(BeTrue())

	env.loop.Advance(2 * time.Second)
	Expect(env.registry.Vif("phy0", "wl0").AP.SSID).To(Equal("home"))
	Expect(env.queue.IsEmpty()).To(BeTrue())
}

func TestDeauth(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv(0)
	sta, _ := net.ParseMAC("aa:bb:cc:00:00:01")

	// dummy disconnects natively
	Expect(env.mux.RequestStaDeauth("phy0", "wl0", sta, mux.ReasonUnspecified)).To(Succeed())
	Expect(env.registry.Stations("phy0", "wl0")).To(BeEmpty())

	// reconnect by re-enabling and kick the station out with a raw frame
	env.request(func(tree *model.PhyTree) { markChanged(tree, "phy0", "wl0").Enabled = false })
	env.request(func(tree *model.PhyTree) { markChanged(tree, "phy0", "wl0").Enabled = true })
	Expect(env.registry.Stations("phy0", "wl0")).To(HaveLen(1))

	bssid, _ := net.ParseMAC("02:00:00:00:00:01")
	frame, err := mux.BuildDeauthFrame(bssid, sta, mux.ReasonDisassocLowAck)
	Expect(err).ToNot(HaveOccurred())
	var txErr error = errors.New("not done")
	Expect(env.mux.FrameTxSchedule("phy0", "wl0", frame, func(err error) { txErr = err })).To(Succeed())
	Expect(txErr).To(BeNil())
	Expect(env.registry.Stations("phy0", "wl0")).To(BeEmpty())

	err = env.drv.FrameTx("phy9", "wl0", frame, nil)
	Expect(errors.Cause(err)).To(Equal(mux.ErrNoDriver))
}

func TestStationTraffic(t *testing.T) {
	RegisterTestingT(t)

	log := logging.ForPlugin("dummy-test")
	phys, err := ParsePhys([]byte(physYAML))
	Expect(err).ToNot(HaveOccurred())
	loop := coremock.NewMockLoop()
	registry := state.NewRegistry(log)
	drv := NewDriver("dummy", log, loop.Timers(), phys)
	drv.StatsInterval = 10 * time.Second
	Expect(drv.Start(registry)).To(Succeed())

	var changed int
	Expect(registry.RegisterObserver(&state.Funcs{
		Name:         "test",
		StaChangedFn: func(vif *model.Vif, sta *model.Station) { changed++ },
	})).To(Succeed())

	loop.Advance(30 * time.Second)
	Expect(changed).To(Equal(3))
	sta := registry.Sta("phy0", "wl0", "aa:bb:cc:00:00:01")
	Expect(sta.Stats.RxPackets).To(BeEquivalentTo(3))
	Expect(sta.Stats.RxBytes).To(BeEquivalentTo(10 + 3*1500))

	drv.Stop()
	loop.Advance(time.Minute)
	Expect(changed).To(Equal(3))
}

func TestRequestBeforeStart(t *testing.T) {
	RegisterTestingT(t)

	loop := coremock.NewMockLoop()
	drv := NewDriver("dummy", logging.ForPlugin("dummy-test"), loop.Timers(), nil)
	_, err := drv.RequestConfig(model.NewPhyTree())
	Expect(err).To(Equal(ErrNotStarted))
}

func TestParsePhysErrors(t *testing.T) {
	RegisterTestingT(t)

	_, err := ParsePhys([]byte("phys:\n  - name: phy0\n  - name: phy0\n"))
	Expect(errors.Cause(err)).To(Equal(model.ErrDuplicateName))

	_, err = ParsePhys([]byte("phys:\n  - enabled: true\n"))
	Expect(err).To(HaveOccurred())

	_, err = ParsePhys([]byte("phys:\n  - name: phy0\n    vifs:\n      - name: wl0\n        stations:\n          - mac: bogus\n"))
	Expect(err).To(HaveOccurred())

	_, err = LoadPhys("/nonexistent/phys.yaml")
	Expect(err).To(HaveOccurred())
}

// TestConfsyncConverges runs the whole chain: desired config, confsync,
// mux and the dummy driver.
func TestConfsyncConverges(t *testing.T) {
	RegisterTestingT(t)

	log := logging.ForPlugin("dummy-test")
	env := newTestEnv(500 * time.Millisecond)
	builder := conf.NewBuilder(log, env.registry.LiveTree)
	file := conf.NewFileMutator(log)
	Expect(builder.RegisterMutator(conf.FileMutatorName, conf.Tail, file.Mutate)).To(Succeed())

	config := confsync.DefaultConfig()
	config.DeferGrace = 0
	engine := confsync.NewEngine(log, env.loop.Timers(), env.registry, builder, env.mux, config)
	engine.Start()
	env.loop.Run()
	Expect(engine.State()).To(Equal(confsync.Idle))

	desired, err := conf.ParseDesiredConfig([]byte("phys:\n  - name: phy0\n    vifs:\n      - name: wl0\n        ap:\n          ssid: office\n"))
	Expect(err).ToNot(HaveOccurred())
	file.Set(desired)
	builder.Invalidate()
	env.loop.Run()
	Expect(engine.State()).To(Equal(confsync.Waiting))

	env.loop.Advance(500 * time.Millisecond)
	Expect(engine.State()).To(Equal(confsync.Idle))
	Expect(env.registry.Vif("phy0", "wl0").AP.SSID).To(Equal("office"))

	// stuck vifs keep the engine busy retrying
	desired, err = conf.ParseDesiredConfig([]byte("phys:\n  - name: phy0\n    vifs:\n      - name: wl1\n        enabled: true\n"))
	Expect(err).ToNot(HaveOccurred())
	file.Set(desired)
	builder.Invalidate()
	env.loop.Advance(time.Minute)
	Expect(engine.IsSettled()).To(BeFalse())
	var stuck *confsync.Attempt
	for _, a := range engine.Attempts() {
		if a.Device == "phy0/wl1" {
			stuck = a
		}
	}
	Expect(stuck).ToNot(BeNil())
	Expect(stuck.Attempts).To(BeNumerically(">", 1))
	Expect(stuck.Diff).To(ContainElement("enabled"))

	engine.Stop()
}

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

package nl80211

import (
	"net"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	coremock "github.com/opensync/osw/mock/core"
	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/nlcmd"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

func wiphyMsg(w *wiphyInfo) genetlink.Message {
	m, err := encode(unix.NL80211_CMD_NEW_WIPHY, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.NL80211_ATTR_WIPHY, w.index)
		if w.name != "" {
			ae.String(unix.NL80211_ATTR_WIPHY_NAME, w.name)
		}
		if w.antennaTx != 0 {
			ae.Uint32(unix.NL80211_ATTR_WIPHY_ANTENNA_TX, w.antennaTx)
		}
		if w.antennaRx != 0 {
			ae.Uint32(unix.NL80211_ATTR_WIPHY_ANTENNA_RX, w.antennaRx)
		}
	})
	Expect(err).ToNot(HaveOccurred())
	return m
}

func ifaceMsg(ifi *ifaceInfo) genetlink.Message {
	m, err := encode(unix.NL80211_CMD_NEW_INTERFACE, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.NL80211_ATTR_WIPHY, ifi.wiphy)
		ae.Uint32(unix.NL80211_ATTR_IFTYPE, ifi.iftype)
		if ifi.name != "" {
			ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(ifi.index))
			ae.String(unix.NL80211_ATTR_IFNAME, ifi.name)
		}
		if ifi.mac != nil {
			ae.Bytes(unix.NL80211_ATTR_MAC, ifi.mac)
		}
		if ifi.ssid != "" {
			ae.Bytes(unix.NL80211_ATTR_SSID, []byte(ifi.ssid))
		}
		if ifi.freqMHz != 0 {
			ae.Uint32(unix.NL80211_ATTR_WIPHY_FREQ, ifi.freqMHz)
		}
		if ifi.txPowerMBm != 0 {
			ae.Uint32(unix.NL80211_ATTR_WIPHY_TX_POWER_LEVEL, ifi.txPowerMBm)
		}
	})
	Expect(err).ToNot(HaveOccurred())
	return m
}

func stationMsg(sta *stationInfo) genetlink.Message {
	m, err := encode(unix.NL80211_CMD_NEW_STATION, func(ae *netlink.AttributeEncoder) {
		ae.Bytes(unix.NL80211_ATTR_MAC, sta.mac)
		ae.Nested(unix.NL80211_ATTR_STA_INFO, func(nae *netlink.AttributeEncoder) error {
			nae.Uint32(unix.NL80211_STA_INFO_CONNECTED_TIME, sta.connectedTime)
			nae.Uint64(unix.NL80211_STA_INFO_RX_BYTES64, sta.stats.RxBytes)
			nae.Uint64(unix.NL80211_STA_INFO_TX_BYTES64, sta.stats.TxBytes)
			return nil
		})
	})
	Expect(err).ToNot(HaveOccurred())
	return m
}

// fakeKernel answers nl80211 commands from its tables. Replies are posted
// to the loop, the way GenlChannel delivers them.
type fakeKernel struct {
	loop     *coremock.MockLoop
	wiphys   []*wiphyInfo
	ifaces   []*ifaceInfo
	stations map[uint32][]*stationInfo
	frameErr error

	sent   []uint8
	frames [][]byte
}

func (k *fakeKernel) Send(msg nlcmd.Message, reply nlcmd.ReplyFunc) error {
	var (
		resp []genetlink.Message
		err  error
	)
	switch m := msg.(type) {
	case nlcmd.DumpRequest:
		k.sent = append(k.sent, m.Message.Header.Command)
		resp = k.dump(m.Message)
	case genetlink.Message:
		k.sent = append(k.sent, m.Header.Command)
		err = k.do(m)
	default:
		return errors.Errorf("unexpected message %T", msg)
	}
	return k.loop.Post(func() { reply(resp, err) })
}

func (k *fakeKernel) dump(m genetlink.Message) []genetlink.Message {
	var msgs []genetlink.Message
	switch m.Header.Command {
	case unix.NL80211_CMD_GET_WIPHY:
		for _, w := range k.wiphys {
			msgs = append(msgs, wiphyMsg(w))
		}
	case unix.NL80211_CMD_GET_INTERFACE:
		for _, ifi := range k.ifaces {
			msgs = append(msgs, ifaceMsg(ifi))
		}
	case unix.NL80211_CMD_GET_STATION:
		attrs := decode(m)
		for _, sta := range k.stations[nlenc.Uint32(attrs[unix.NL80211_ATTR_IFINDEX])] {
			msgs = append(msgs, stationMsg(sta))
		}
	}
	return msgs
}

func (k *fakeKernel) do(m genetlink.Message) error {
	attrs := decode(m)
	switch m.Header.Command {
	case unix.NL80211_CMD_SET_WIPHY:
		index := nlenc.Uint32(attrs[unix.NL80211_ATTR_WIPHY])
		for _, w := range k.wiphys {
			if w.index == index {
				w.antennaTx = nlenc.Uint32(attrs[unix.NL80211_ATTR_WIPHY_ANTENNA_TX])
				w.antennaRx = nlenc.Uint32(attrs[unix.NL80211_ATTR_WIPHY_ANTENNA_RX])
				return nil
			}
		}
		return errors.New("ENODEV")
	case unix.NL80211_CMD_DEL_STATION:
		ifindex := nlenc.Uint32(attrs[unix.NL80211_ATTR_IFINDEX])
		mac := net.HardwareAddr(attrs[unix.NL80211_ATTR_MAC]).String()
		var kept []*stationInfo
		for _, sta := range k.stations[ifindex] {
			if sta.mac.String() != mac {
				kept = append(kept, sta)
			}
		}
		k.stations[ifindex] = kept
	case unix.NL80211_CMD_FRAME:
		if k.frameErr != nil {
			return k.frameErr
		}
		k.frames = append(k.frames, attrs[unix.NL80211_ATTR_FRAME])
	}
	return nil
}

func (k *fakeKernel) count(cmd uint8) int {
	n := 0
	for _, c := range k.sent {
		if c == cmd {
			n++
		}
	}
	return n
}

type fakeLinks struct {
	up     map[string]bool
	errs   map[string]error
	driver string
}

func (l *fakeLinks) State(ifName string) (bool, error) {
	return l.up[ifName], l.errs[ifName]
}

func (l *fakeLinks) SetState(ifName string, up bool) error {
	l.up[ifName] = up
	return nil
}

func (l *fakeLinks) DriverName(ifName string) (string, error) {
	return l.driver, nil
}

func (l *fakeLinks) Close() {}

var staMAC, _ = net.ParseMAC("aa:bb:cc:00:00:01")

type testEnv struct {
	loop     *coremock.MockLoop
	kernel   *fakeKernel
	links    *fakeLinks
	registry *state.Registry
	drv      *Driver
}

func newTestEnv() *testEnv {
	log := logging.ForPlugin("nl80211-test")
	env := &testEnv{loop: coremock.NewMockLoop()}
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	env.kernel = &fakeKernel{
		loop:   env.loop,
		wiphys: []*wiphyInfo{{index: 0, name: "phy0", antennaTx: 1, antennaRx: 1}},
		ifaces: []*ifaceInfo{
			{index: 10, name: "wlan0", wiphy: 0, iftype: unix.NL80211_IFTYPE_AP, mac: mac,
				ssid: "home", freqMHz: 2412, txPowerMBm: 2000},
			{index: 11, name: "wlan1", wiphy: 0, iftype: unix.NL80211_IFTYPE_STATION},
		},
		stations: map[uint32][]*stationInfo{
			10: {{mac: staMAC, connectedTime: 5, stats: model.StationStats{RxBytes: 100}}},
		},
	}
	env.links = &fakeLinks{
		up:     map[string]bool{"wlan0": true},
		errs:   map[string]error{},
		driver: "ath10k",
	}
	env.registry = state.NewRegistry(log)
	env.drv = NewDriver("nl80211", log, env.loop, env.loop.Timers(), env.kernel, env.links)
	env.drv.spawn = func(fn func()) { fn() }
	return env
}

func (env *testEnv) start() {
	Expect(env.drv.Start(env.registry)).To(Succeed())
	env.loop.Run()
}

func TestDiscovery(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.start()
	Expect(env.registry.IsSettled()).To(BeTrue())

	phy := env.registry.Phy("phy0")
	Expect(phy).ToNot(BeNil())
	Expect(phy.Enabled).To(BeTrue())
	Expect(phy.TxChainmask).To(Equal(1))
	Expect(phy.DriverName).To(Equal("ath10k"))
	Expect(env.registry.PhyDriver("phy0")).To(Equal("nl80211"))

	wlan0 := env.registry.Vif("phy0", "wlan0")
	Expect(wlan0.Type).To(Equal(model.VifAP))
	Expect(wlan0.Status).To(Equal(model.VifStatusEnabled))
	Expect(wlan0.MAC).To(Equal("02:00:00:00:00:01"))
	Expect(wlan0.TxPowerDBM).To(Equal(20))
	Expect(wlan0.AP.SSID).To(Equal("home"))
	Expect(wlan0.AP.Channel.ControlFreqMHz).To(Equal(2412))

	wlan1 := env.registry.Vif("phy0", "wlan1")
	Expect(wlan1.Type).To(Equal(model.VifSTA))
	Expect(wlan1.Status).To(Equal(model.VifStatusDisabled))
	Expect(wlan1.STA.Link).ToNot(Equal(model.Connected))

	sta := env.registry.Sta("phy0", "wlan0", staMAC.String())
	Expect(sta).ToNot(BeNil())
	Expect(sta.ConnectedAt).To(Equal(env.loop.Now() - int64(5*time.Second)))
	Expect(sta.Stats.RxBytes).To(BeEquivalentTo(100))
}

func TestLinkProbeFailure(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.links.errs["wlan1"] = errors.New("ENODEV")
	env.start()
	Expect(env.registry.Vif("phy0", "wlan1").Status).To(Equal(model.VifStatusUnknown))
}

func TestRequestConfig(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.start()

	tree := env.registry.LiveTree()
	phy := tree.Phy("phy0")
	phy.Changed = true
	phy.TxChainmask = 3
	wlan0 := phy.Vif("wlan0")
	wlan0.Changed = true
	wlan0.Enabled = false
	// unknown vifs are not created
	Expect(phy.AddVif(&model.Vif{Name: "wlan9", Type: model.VifAP, Enabled: true, Changed: true})).To(Succeed())

	task, err := env.drv.RequestConfig(tree)
	Expect(err).ToNot(HaveOccurred())
	q := rq.New("test", env.loop.Timers())
	Expect(q.Add(task)).To(Succeed())
	Expect(task.IsCompleted()).To(BeFalse())

	env.loop.Run()
	Expect(task.IsCompleted()).To(BeTrue())
	Expect(env.kernel.count(unix.NL80211_CMD_SET_WIPHY)).To(Equal(1))
	Expect(env.links.up["wlan0"]).To(BeFalse())

	// the outcome was read back before the task completed
	Expect(env.registry.Phy("phy0").TxChainmask).To(Equal(3))
	Expect(env.registry.Vif("phy0", "wlan0").Status).To(Equal(model.VifStatusDisabled))
	Expect(env.registry.Vif("phy0", "wlan9")).To(BeNil())
	Expect(env.registry.Sta("phy0", "wlan0", staMAC.String())).To(BeNil())
}

func TestRequestConfigDisablesPhy(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.start()

	tree := env.registry.LiveTree()
	phy := tree.Phy("phy0")
	phy.Changed = true
	phy.Enabled = false
	phy.Vif("wlan0").Changed = true

	task, err := env.drv.RequestConfig(tree)
	Expect(err).ToNot(HaveOccurred())
	Expect(rq.New("test", env.loop.Timers()).Add(task)).To(Succeed())
	env.loop.Run()

	Expect(task.IsCompleted()).To(BeTrue())
	Expect(env.kernel.count(unix.NL80211_CMD_SET_WIPHY)).To(BeZero())
	Expect(env.registry.Phy("phy0").Enabled).To(BeFalse())
	// a vif is down while its phy is disabled
	Expect(env.links.up["wlan0"]).To(BeFalse())
}

func TestRequestConfigErrors(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	_, err := env.drv.RequestConfig(model.NewPhyTree())
	Expect(errors.Cause(err)).To(Equal(ErrNotStarted))

	env.start()
	tree := model.NewPhyTree()
	unknown := model.NewPhy("phy7")
	unknown.Changed = true
	Expect(tree.Add(unknown)).To(Succeed())
	_, err = env.drv.RequestConfig(tree)
	Expect(errors.Cause(err)).To(Equal(ErrUnknownPhy))

	// nothing changed, nothing to do
	task, err := env.drv.RequestConfig(env.registry.LiveTree())
	Expect(err).ToNot(HaveOccurred())
	Expect(rq.New("test", env.loop.Timers()).Add(task)).To(Succeed())
	Expect(task.IsCompleted()).To(BeTrue())
}

func TestRefreshReportsRemovals(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.start()

	env.kernel.stations[10] = nil
	env.kernel.ifaces = env.kernel.ifaces[:1]
	env.loop.Advance(defaultRefreshInterval)
	Expect(env.registry.Sta("phy0", "wlan0", staMAC.String())).To(BeNil())
	Expect(env.registry.Vif("phy0", "wlan1")).To(BeNil())
	Expect(env.registry.Vif("phy0", "wlan0")).ToNot(BeNil())

	env.kernel.wiphys = nil
	env.kernel.ifaces = nil
	env.loop.Advance(defaultRefreshInterval)
	Expect(env.registry.LiveTree().Len()).To(BeZero())
	Expect(env.registry.IsSettled()).To(BeTrue())
}

func TestRefreshCoalescing(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.drv.RefreshInterval = 0
	env.start()
	Expect(env.kernel.count(unix.NL80211_CMD_GET_WIPHY)).To(Equal(1))

	var done []string
	env.drv.refresh(func() { done = append(done, "first") })
	env.drv.refresh(func() { done = append(done, "second") })
	env.drv.refresh(func() { done = append(done, "third") })
	Expect(env.registry.IsSettled()).To(BeFalse())

	env.loop.Run()
	Expect(done).To(Equal([]string{"first", "second", "third"}))
	// one dump for the first request, one for all the others
	Expect(env.kernel.count(unix.NL80211_CMD_GET_WIPHY)).To(Equal(3))
	Expect(env.registry.IsSettled()).To(BeTrue())
}

func TestDeauthAndFrame(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	env.start()

	Expect(env.drv.RequestStaDeauth("phy0", "wlan0", staMAC, 3)).To(Succeed())
	env.loop.Run()
	Expect(env.kernel.count(unix.NL80211_CMD_DEL_STATION)).To(Equal(1))
	env.loop.Advance(defaultRefreshInterval)
	Expect(env.registry.Sta("phy0", "wlan0", staMAC.String())).To(BeNil())

	var results []error
	collect := func(err error) { results = append(results, err) }
	Expect(env.drv.FrameTx("phy0", "wlan0", []byte{0xd0, 0}, collect)).To(Succeed())
	env.loop.Run()
	Expect(results).To(Equal([]error{nil}))
	Expect(env.kernel.frames).To(Equal([][]byte{{0xd0, 0}}))

	env.kernel.frameErr = errors.New("EBUSY")
	Expect(env.drv.FrameTx("phy0", "wlan0", []byte{0xd0, 0}, collect)).To(Succeed())
	env.loop.Run()
	Expect(results).To(HaveLen(2))
	Expect(results[1]).To(MatchError("EBUSY"))

	err := env.drv.FrameTx("phy0", "wlan5", []byte{0xd0, 0}, collect)
	Expect(errors.Cause(err)).To(Equal(mux.ErrUnknownVif))
	err = env.drv.RequestStaDeauth("phy0", "wlan5", staMAC, 3)
	Expect(errors.Cause(err)).To(Equal(mux.ErrUnknownVif))
}

func TestNoSocket(t *testing.T) {
	RegisterTestingT(t)

	env := newTestEnv()
	var none nlcmd.Channel
	env.drv = NewDriver("nl80211", logging.ForPlugin("nl80211-test"), env.loop, env.loop.Timers(), none, env.links)
	env.start()
	Expect(env.registry.IsSettled()).To(BeTrue())
	Expect(env.registry.LiveTree().Len()).To(BeZero())

	env.drv.Stop()
	next, armed := env.loop.Timers().NextAt()
	Expect(armed).To(BeFalse(), "timer armed at %d", next)
}

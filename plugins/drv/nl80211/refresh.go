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
	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/nlcmd"
)

// refresh dumps wiphys, interfaces and links, and reports them. doneFn
// (may be nil) is called once a dump started no earlier than now has
// been reported. Refreshes requested while one is running are coalesced.
func (d *Driver) refresh(doneFn func()) {
	if d.reporter == nil {
		if doneFn != nil {
			doneFn()
		}
		return
	}
	if doneFn != nil {
		d.dumps.doneFns = append(d.dumps.doneFns, doneFn)
	}
	if d.dumps.running {
		d.dumps.again = true
		return
	}
	d.dumps.running = true
	d.reporter.ReportBusy(d.name)

	msg, err := getWiphyMsg()
	if err != nil {
		d.log.Error(err)
		d.refreshDone()
		return
	}
	d.wiphyCmd.SetMsg(msg)
}

func (d *Driver) wiphysDumped(c *nlcmd.Cmd) {
	if c.IsFailed() {
		d.log.Warnf("wiphy dump failed: status=%v err=%v", c.Status(), c.Err())
		d.refreshDone()
		return
	}
	wiphys, err := parseWiphys(replyMessages(c.Response()))
	if err != nil {
		d.log.Error(err)
		d.refreshDone()
		return
	}
	d.dumps.wiphys = wiphys

	msg, err := getInterfaceMsg()
	if err != nil {
		d.log.Error(err)
		d.refreshDone()
		return
	}
	d.ifaceCmd.SetMsg(msg)
}

func (d *Driver) ifacesDumped(c *nlcmd.Cmd) {
	if c.IsFailed() {
		d.log.Warnf("interface dump failed: status=%v err=%v", c.Status(), c.Err())
		d.refreshDone()
		return
	}
	ifaces, err := parseInterfaces(replyMessages(c.Response()))
	if err != nil {
		d.log.Error(err)
		d.refreshDone()
		return
	}
	d.dumps.ifaces = ifaces

	names := make([]string, 0, len(ifaces))
	for _, ifi := range ifaces {
		names = append(names, ifi.name)
	}
	d.spawn(func() {
		probes := make(map[string]*linkProbe, len(names))
		for _, name := range names {
			p := &linkProbe{}
			p.up, p.err = d.links.State(name)
			p.driver, _ = d.links.DriverName(name)
			probes[name] = p
		}
		_ = d.post.Post(func() {
			d.report(probes)
			d.refreshDone()
		})
	})
}

func (d *Driver) refreshDone() {
	d.dumps.running = false
	d.dumps.wiphys = nil
	d.dumps.ifaces = nil
	d.reporter.ReportIdle(d.name)

	doneFns := d.dumps.doneFns
	d.dumps.doneFns = nil
	if d.dumps.again {
		// callers registered during the previous dump wait for the next one
		d.dumps.again = false
		d.dumps.doneFns = doneFns
		d.refresh(nil)
		return
	}
	for _, fn := range doneFns {
		fn()
	}
}

// report compares the dump with the previous one and reports the changes.
func (d *Driver) report(probes map[string]*linkProbe) {
	seenPhys := make(map[uint32]bool)
	for _, w := range d.dumps.wiphys {
		seenPhys[w.index] = true
		ps := d.phys[w.index]
		if ps == nil {
			ps = &phyState{enabled: true}
			d.phys[w.index] = ps
			d.log.Infof("phy discovered: phy=%s index=%d", w.name, w.index)
		}
		ps.info = w
	}

	seenVifs := make(map[string]bool)
	for _, ifi := range d.dumps.ifaces {
		if !seenPhys[ifi.wiphy] {
			continue
		}
		seenVifs[ifi.name] = true
		vs := d.vifs[ifi.name]
		if vs == nil {
			vs = &vifState{stations: make(map[string]bool)}
			vs.staCmd = nlcmd.New(ifi.name+"/get-station", d.genl)
			name := ifi.name
			vs.staCmd.CompletedFn = func(c *nlcmd.Cmd) { d.stationsDumped(name, c) }
			d.vifs[ifi.name] = vs
		}
		vs.info = ifi
		if p := probes[ifi.name]; p != nil {
			vs.up, vs.upErr, vs.driver = p.up, p.err, p.driver
		}
	}

	// vifs and phys which disappeared go first
	for name, vs := range d.vifs {
		if seenVifs[name] {
			continue
		}
		phyName := d.phyName(vs.info.wiphy)
		d.dropStations(phyName, vs)
		if err := d.reporter.ReportVifGone(d.name, phyName, name); err != nil {
			d.log.Warn(err)
		}
		delete(d.vifs, name)
	}
	for index, ps := range d.phys {
		if seenPhys[index] {
			continue
		}
		if err := d.reporter.ReportPhyGone(d.name, ps.info.name); err != nil {
			d.log.Warn(err)
		}
		if q := d.phyQ[ps.info.name]; q != nil {
			q.Cancel()
			delete(d.phyQ, ps.info.name)
		}
		delete(d.phys, index)
	}

	for _, w := range d.dumps.wiphys {
		d.reportPhy(d.phys[w.index])
	}
	for _, ifi := range d.dumps.ifaces {
		if vs := d.vifs[ifi.name]; vs != nil {
			d.reportVif(vs)
		}
	}
}

func (d *Driver) reportPhy(ps *phyState) {
	phy := &model.Phy{
		Name:        ps.info.name,
		Enabled:     ps.enabled,
		TxChainmask: int(ps.info.antennaTx),
	}
	for _, vs := range d.vifs {
		if vs.info.wiphy == ps.info.index && vs.driver != "" {
			phy.DriverName = vs.driver
			break
		}
	}
	if err := d.reporter.ReportPhy(d.name, phy); err != nil {
		d.log.Warn(err)
	}
}

func (d *Driver) reportVif(vs *vifState) {
	phyName := d.phyName(vs.info.wiphy)
	vif := &model.Vif{
		Name:       vs.info.name,
		PhyName:    phyName,
		Type:       vifType(vs.info.iftype),
		Enabled:    vs.up,
		MAC:        vs.info.mac.String(),
		TxPowerDBM: int(vs.info.txPowerMBm / 100),
	}
	switch {
	case vs.upErr != nil:
		vif.Status = model.VifStatusUnknown
	case vs.up:
		vif.Status = model.VifStatusEnabled
	default:
		vif.Status = model.VifStatusDisabled
	}
	switch vif.Type {
	case model.VifAP:
		vif.AP = &model.AP{
			SSID:    vs.info.ssid,
			Channel: model.Channel{ControlFreqMHz: int(vs.info.freqMHz)},
		}
	case model.VifSTA:
		vif.STA = &model.STA{SSID: vs.info.ssid}
		if vs.info.ssid != "" {
			vif.STA.Link = model.Connected
		}
	}
	if err := d.reporter.ReportVif(d.name, vif); err != nil {
		d.log.Warn(err)
		return
	}

	if vif.Type == model.VifAP && vs.up {
		msg, err := getStationMsg(vs.info.index)
		if err != nil {
			d.log.Error(err)
			return
		}
		vs.staCmd.SetMsg(msg)
	} else {
		d.dropStations(phyName, vs)
	}
}

func (d *Driver) stationsDumped(ifName string, c *nlcmd.Cmd) {
	vs := d.vifs[ifName]
	if vs == nil {
		return
	}
	if c.IsFailed() {
		d.log.Debugf("station dump failed: vif=%s status=%v err=%v", ifName, c.Status(), c.Err())
		return
	}
	stations, err := parseStations(replyMessages(c.Response()))
	if err != nil {
		d.log.Error(err)
		return
	}

	phyName := d.phyName(vs.info.wiphy)
	now := d.timers.Now()
	seen := make(map[string]bool)
	for _, si := range stations {
		mac := si.mac.String()
		seen[mac] = true
		vs.stations[mac] = true
		err := d.reporter.ReportSta(d.name, phyName, ifName, &model.Station{
			MAC:         mac,
			Link:        model.Connected,
			ConnectedAt: now - int64(si.connectedTime)*1e9,
			Stats:       si.stats,
		})
		if err != nil {
			d.log.Warn(err)
		}
	}
	for mac := range vs.stations {
		if seen[mac] {
			continue
		}
		delete(vs.stations, mac)
		if err := d.reporter.ReportStaGone(d.name, phyName, ifName, mac); err != nil {
			d.log.Warn(err)
		}
	}
}

func (d *Driver) dropStations(phyName string, vs *vifState) {
	for mac := range vs.stations {
		if err := d.reporter.ReportStaGone(d.name, phyName, vs.info.name, mac); err != nil {
			d.log.Warn(err)
		}
	}
	vs.stations = make(map[string]bool)
}

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
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/pkg/timer"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

// ErrNotStarted is returned for requests received before Start.
var ErrNotStarted = errors.New("dummy driver was not started")

// Driver simulates radios in memory. Configuration requests are applied
// to the simulated phys (after ApplyDelay) and reported back as the live
// state, except for phys and vifs marked as stuck.
type Driver struct {
	// ApplyDelay postpones applying of every configuration request.
	ApplyDelay time.Duration
	// StatsInterval, if non-zero, makes connected stations exchange
	// traffic and reports the updated counters.
	StatsInterval time.Duration

	name     string
	log      logging.Logger
	timers   *timer.Core
	reporter state.Reporter

	phys       []*phy
	statsTimer *timer.Timer
}

type phy struct {
	live  *model.Phy
	stuck bool
	vifs  map[string]*VifSpec
}

// NewDriver creates a driver simulating the given phys.
func NewDriver(name string, log logging.Logger, timers *timer.Core, phys *Phys) *Driver {
	d := &Driver{
		name:   name,
		log:    log,
		timers: timers,
	}
	if phys != nil {
		for _, spec := range phys.Phys {
			d.phys = append(d.phys, newPhy(spec))
		}
	}
	d.statsTimer = timers.NewTimer(name+"/stats", func(t *timer.Timer) {
		d.exchangeTraffic()
		t.ArmIn(d.StatsInterval)
	})
	return d
}

func newPhy(spec *PhySpec) *phy {
	p := &phy{
		live:  model.NewPhy(spec.Name),
		stuck: spec.Stuck,
		vifs:  make(map[string]*VifSpec),
	}
	p.live.Enabled = spec.Enabled
	p.live.TxChainmask = spec.TxChainmask
	p.live.RegDomain = spec.RegDomain
	for _, vs := range spec.Vifs {
		p.vifs[vs.Name] = vs
		vif := &model.Vif{
			Name:       vs.Name,
			Type:       vs.Type,
			Enabled:    vs.Enabled,
			MAC:        vs.MAC,
			TxPowerDBM: vs.TxPowerDBM,
			AP:         vs.AP,
			STA:        vs.STA,
		}
		_ = p.live.AddVif(vif.Clone())
	}
	return p
}

// DriverName returns the driver name.
func (d *Driver) DriverName() string {
	return d.name
}

// Start reports all simulated phys.
func (d *Driver) Start(reporter state.Reporter) error {
	d.reporter = reporter
	d.reporter.ReportBusy(d.name)
	defer d.reporter.ReportIdle(d.name)

	for _, p := range d.phys {
		if err := d.reportPhy(p); err != nil {
			return err
		}
	}
	if d.StatsInterval > 0 {
		d.statsTimer.ArmIn(d.StatsInterval)
	}
	d.log.Infof("dummy driver started: phys=%d", len(d.phys))
	return nil
}

// Stop disarms the stats timer.
func (d *Driver) Stop() {
	d.statsTimer.Disarm()
}

// RequestConfig returns a task applying the changed phys and vifs.
func (d *Driver) RequestConfig(tree *model.PhyTree) (*rq.Task, error) {
	if d.reporter == nil {
		return nil, ErrNotStarted
	}
	task := &applyTask{drv: d, tree: tree}
	return rq.NewTask(d.name+"/config", task), nil
}

// FrameTx pretends to transmit the frame. Deauthentication frames
// disconnect the addressed station.
func (d *Driver) FrameTx(phyName, vifName string, frame []byte, doneFn mux.FrameTxDoneFn) error {
	p := d.phy(phyName)
	if p == nil {
		return errors.Wrapf(mux.ErrNoDriver, "dummy phy %s", phyName)
	}
	dst, err := mux.FrameDestination(frame)
	if err != nil {
		return err
	}
	d.log.Debugf("frame tx: phy=%s vif=%s dst=%s len=%d", phyName, vifName, dst, len(frame))
	if mux.IsDeauthFrame(frame) {
		d.disconnect(phyName, vifName, dst)
	}
	if doneFn != nil {
		doneFn(nil)
	}
	return nil
}

// RequestStaDeauth disconnects the station.
func (d *Driver) RequestStaDeauth(phyName, vifName string, mac net.HardwareAddr, reason uint16) error {
	if d.phy(phyName) == nil {
		return errors.Wrapf(mux.ErrNoDriver, "dummy phy %s", phyName)
	}
	d.log.Infof("deauth: phy=%s vif=%s sta=%s reason=%d", phyName, vifName, mac, reason)
	d.disconnect(phyName, vifName, mac)
	return nil
}

func (d *Driver) disconnect(phyName, vifName string, mac net.HardwareAddr) {
	if p := d.phy(phyName); p != nil && p.vifs[vifName] != nil {
		for _, ss := range p.vifs[vifName].Stations {
			if ss.MAC == mac.String() {
				ss.connectedAt = 0
			}
		}
	}
	if err := d.reporter.ReportStaGone(d.name, phyName, vifName, mac.String()); err != nil {
		d.log.Warn(err)
	}
}

func (d *Driver) phy(name string) *phy {
	for _, p := range d.phys {
		if p.live.Name == name {
			return p
		}
	}
	return nil
}

// apply copies the changed attributes of the requested tree onto the
// simulated phys and reports the outcome.
func (d *Driver) apply(tree *model.PhyTree) {
	for _, req := range tree.Phys() {
		if !req.Changed {
			continue
		}
		p := d.phy(req.Name)
		if p == nil {
			d.log.Warnf("request for unknown phy: phy=%s", req.Name)
			continue
		}
		if p.stuck {
			d.log.Debugf("phy is stuck, ignoring request: phy=%s", req.Name)
			continue
		}

		p.live.Enabled = req.Enabled
		p.live.TxChainmask = req.TxChainmask
		p.live.RegDomain = req.RegDomain

		for _, vif := range req.Vifs() {
			if !vif.Changed {
				continue
			}
			if spec := p.vifs[vif.Name]; spec != nil && spec.Stuck {
				d.log.Debugf("vif is stuck, ignoring request: vif=%s", model.VifKey(req.Name, vif.Name))
				continue
			}
			applied := vif.Clone()
			applied.Changed = false
			applied.Status = model.VifStatusUnknown
			p.live.SetVif(applied)
		}
		for _, vif := range p.live.Vifs() {
			if req.Vif(vif.Name) == nil {
				p.live.RemoveVif(vif.Name)
				if err := d.reporter.ReportVifGone(d.name, req.Name, vif.Name); err != nil {
					d.log.Warn(err)
				}
			}
		}
		if err := d.reportPhy(p); err != nil {
			d.log.Warn(err)
		}
	}
}

func (d *Driver) reportPhy(p *phy) error {
	if err := d.reporter.ReportPhy(d.name, p.live); err != nil {
		return err
	}
	for _, vif := range p.live.Vifs() {
		reported := vif.Clone()
		reported.Status = d.vifStatus(p, vif)
		if err := d.reporter.ReportVif(d.name, reported); err != nil {
			return err
		}
		d.reportStations(p, reported)
	}
	return nil
}

func (d *Driver) vifStatus(p *phy, vif *model.Vif) model.VifStatus {
	if spec := p.vifs[vif.Name]; spec != nil && spec.Broken {
		return model.VifStatusBroken
	}
	if vif.Enabled && p.live.Enabled {
		return model.VifStatusEnabled
	}
	return model.VifStatusDisabled
}

func (d *Driver) reportStations(p *phy, vif *model.Vif) {
	spec := p.vifs[vif.Name]
	if spec == nil || vif.Type != model.VifAP {
		return
	}
	for _, ss := range spec.Stations {
		var err error
		if vif.Status == model.VifStatusEnabled {
			if ss.connectedAt == 0 {
				ss.connectedAt = d.timers.Now()
			}
			err = d.reporter.ReportSta(d.name, p.live.Name, vif.Name, &model.Station{
				MAC:         ss.MAC,
				Link:        model.Connected,
				ConnectedAt: ss.connectedAt,
				Stats:       ss.Stats,
			})
		} else {
			ss.connectedAt = 0
			err = d.reporter.ReportStaGone(d.name, p.live.Name, vif.Name, ss.MAC)
		}
		if err != nil {
			d.log.Warn(err)
		}
	}
}

// exchangeTraffic bumps the counters of the simulated stations.
func (d *Driver) exchangeTraffic() {
	for _, p := range d.phys {
		for _, vif := range p.live.Vifs() {
			spec := p.vifs[vif.Name]
			if spec == nil || d.vifStatus(p, vif) != model.VifStatusEnabled {
				continue
			}
			for _, ss := range spec.Stations {
				ss.Stats.RxPackets++
				ss.Stats.TxPackets++
				ss.Stats.RxBytes += 1500
				ss.Stats.TxBytes += 1500
			}
			reported := vif.Clone()
			reported.Status = model.VifStatusEnabled
			d.reportStations(p, reported)
		}
	}
}

// applyTask applies one configuration request.
type applyTask struct {
	drv   *Driver
	tree  *model.PhyTree
	timer *timer.Timer
}

func (a *applyTask) Run(t *rq.Task) {
	if a.drv.ApplyDelay <= 0 {
		a.drv.apply(a.tree)
		t.Complete()
		return
	}
	a.timer = a.drv.timers.NewTimer(t.Name, func(*timer.Timer) {
		a.drv.apply(a.tree)
		t.Complete()
	})
	a.timer.ArmIn(a.drv.ApplyDelay)
}

// Cancel drops the request if it was not applied yet.
func (a *applyTask) Cancel(t *rq.Task) {
	if a.timer != nil {
		a.timer.Disarm()
	}
	t.Complete()
}

func (a *applyTask) Kill(t *rq.Task) {
	if a.timer != nil {
		a.timer.Disarm()
	}
}

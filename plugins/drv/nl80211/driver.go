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

// Package nl80211 implements a radio driver on top of the Linux nl80211
// generic netlink family.
//
// The driver keeps no state of its own besides what it learned from the
// last dump. Configuration requests are translated into nl80211 commands
// and link changes, and every request ends with a refresh so that the
// outcome is judged from what the kernel reports. Only the attributes the
// kernel can change on its own are applied: vif enablement and the tx
// chainmask. BSS attributes are left to the AP daemon.
package nl80211

import (
	"fmt"
	"net"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/mdlayher/genetlink"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/nlcmd"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/pkg/timer"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

const defaultRefreshInterval = 5 * time.Second

var (
	// ErrUnknownPhy is returned for requests addressing a phy which was
	// not seen in the last dump.
	ErrUnknownPhy = errors.New("phy is not known to nl80211")
	// ErrNotStarted is returned for requests received before Start.
	ErrNotStarted = errors.New("nl80211 driver was not started")
)

// Driver is the nl80211 radio driver.
type Driver struct {
	// RefreshInterval is the period of the state dumps.
	RefreshInterval time.Duration

	name   string
	log    logging.Logger
	post   nlcmd.Poster
	timers *timer.Core
	genl   nlcmd.Channel
	links  Links
	spawn  func(fn func())

	reporter state.Reporter

	phys  map[uint32]*phyState
	vifs  map[string]*vifState
	phyQ  map[string]*rq.Queue
	dumps dumpState

	wiphyCmd     *nlcmd.Cmd
	ifaceCmd     *nlcmd.Cmd
	refreshTimer *timer.Timer
}

type phyState struct {
	info    *wiphyInfo
	enabled bool
}

type vifState struct {
	info     *ifaceInfo
	up       bool
	upErr    error
	driver   string
	stations map[string]bool
	staCmd   *nlcmd.Cmd
}

// dumpState tracks the refresh in progress.
type dumpState struct {
	running bool
	again   bool
	doneFns []func()
	wiphys  []*wiphyInfo
	ifaces  []*ifaceInfo
}

// linkProbe is the outcome of reading one link.
type linkProbe struct {
	up     bool
	err    error
	driver string
}

// NewDriver creates the driver. Commands are sent through genl (may be
// nil when nl80211 is not available), replies and link operations are
// posted back through post.
func NewDriver(name string, log logging.Logger, post nlcmd.Poster, timers *timer.Core, genl nlcmd.Channel, links Links) *Driver {
	d := &Driver{
		RefreshInterval: defaultRefreshInterval,
		name:            name,
		log:             log,
		post:            post,
		timers:          timers,
		genl:            genl,
		links:           links,
		spawn:           func(fn func()) { go fn() },
		phys:            make(map[uint32]*phyState),
		vifs:            make(map[string]*vifState),
		phyQ:            make(map[string]*rq.Queue),
	}
	d.wiphyCmd = nlcmd.New(name+"/get-wiphy", genl)
	d.wiphyCmd.CompletedFn = d.wiphysDumped
	d.ifaceCmd = nlcmd.New(name+"/get-interface", genl)
	d.ifaceCmd.CompletedFn = d.ifacesDumped
	d.refreshTimer = timers.NewTimer(name+"/refresh", func(t *timer.Timer) {
		d.refresh(nil)
		t.ArmIn(d.RefreshInterval)
	})
	return d
}

// DriverName returns the driver name.
func (d *Driver) DriverName() string {
	return d.name
}

// Start triggers the first dump and the periodic refresh.
func (d *Driver) Start(reporter state.Reporter) error {
	d.reporter = reporter
	d.refresh(nil)
	if d.RefreshInterval > 0 {
		d.refreshTimer.ArmIn(d.RefreshInterval)
	}
	return nil
}

// Stop cancels the periodic refresh and all queued commands.
func (d *Driver) Stop() {
	d.refreshTimer.Disarm()
	for _, q := range d.phyQ {
		q.Kill()
	}
}

// RequestConfig returns a task applying the changed phys. Phys are
// configured in parallel, commands of one phy run one after another and
// end with a refresh.
func (d *Driver) RequestConfig(tree *model.PhyTree) (*rq.Task, error) {
	if d.reporter == nil {
		return nil, ErrNotStarted
	}
	outer := rq.NewNested(d.name+"/config", d.timers)
	for _, req := range tree.Phys() {
		if !req.Changed {
			continue
		}
		ps := d.phyByName(req.Name)
		if ps == nil {
			return nil, errors.Wrapf(ErrUnknownPhy, "phy %s", req.Name)
		}
		inner, err := d.phyConfigTask(ps, req)
		if err != nil {
			return nil, err
		}
		if err := outer.Queue.Add(inner); err != nil {
			return nil, err
		}
	}
	return outer.Task, nil
}

func (d *Driver) phyConfigTask(ps *phyState, req *model.Phy) (*rq.Task, error) {
	inner := rq.NewNested(d.name+"/config/"+req.Name, d.timers)
	inner.Queue.MaxRunning = 1
	add := func(t *rq.Task) error { return inner.Queue.Add(t) }

	enabled := req.Enabled
	if err := add(rq.NewTask(req.Name+"/enabled", rq.RunFunc(func(t *rq.Task) {
		ps.enabled = enabled
		t.Complete()
	}))); err != nil {
		return nil, err
	}

	if req.TxChainmask != 0 && uint32(req.TxChainmask) != ps.info.antennaTx {
		msg, err := setAntennaMsg(ps.info.index, uint32(req.TxChainmask), uint32(req.TxChainmask))
		if err != nil {
			return nil, err
		}
		ct := nlcmd.NewTask(req.Name+"/set-antenna", d.genl, msg)
		ct.Task.CompletedFn = d.logFailure(ct)
		if err := add(ct.Task); err != nil {
			return nil, err
		}
	}

	for _, vif := range req.Vifs() {
		if !vif.Changed {
			continue
		}
		vs := d.vifs[vif.Name]
		if vs == nil || vs.info.wiphy != ps.info.index {
			d.log.Warnf("vif creation is not supported: vif=%s", model.VifKey(req.Name, vif.Name))
			continue
		}
		up := vif.Enabled && req.Enabled
		if up != vs.up || vs.upErr != nil {
			if err := add(d.linkTask(vif.Name, up)); err != nil {
				return nil, err
			}
		}
	}

	if err := add(rq.NewTask(req.Name+"/refresh", rq.RunFunc(func(t *rq.Task) {
		d.refresh(t.Complete)
	}))); err != nil {
		return nil, err
	}
	return inner.Task, nil
}

// linkTask brings the link up or down on a helper goroutine.
func (d *Driver) linkTask(ifName string, up bool) *rq.Task {
	return rq.NewTask(fmt.Sprintf("%s/link-up=%v", ifName, up), rq.RunFunc(func(t *rq.Task) {
		d.spawn(func() {
			err := d.links.SetState(ifName, up)
			_ = d.post.Post(func() {
				if err != nil {
					d.log.Warn(err)
				}
				t.Complete()
			})
		})
	}))
}

func (d *Driver) logFailure(ct *nlcmd.Task) func(*rq.Task) {
	return func(t *rq.Task) {
		if ct.Failed() {
			d.log.Warnf("nl80211 command failed: cmd=%s status=%v err=%v", ct.Cmd.Name, ct.Cmd.Status(), ct.Cmd.Err())
		}
	}
}

// RequestStaDeauth disconnects the station with NL80211_CMD_DEL_STATION.
func (d *Driver) RequestStaDeauth(phyName, vifName string, mac net.HardwareAddr, reason uint16) error {
	vs := d.vifs[vifName]
	if vs == nil {
		return errors.Wrapf(mux.ErrUnknownVif, "%s", model.VifKey(phyName, vifName))
	}
	msg, err := delStationMsg(vs.info.index, mac, reason)
	if err != nil {
		return err
	}
	ct := nlcmd.NewTask(vifName+"/del-station", d.genl, msg)
	ct.Task.CompletedFn = d.logFailure(ct)
	return d.phyQueue(phyName).Add(ct.Task)
}

// FrameTx transmits the frame with NL80211_CMD_FRAME.
func (d *Driver) FrameTx(phyName, vifName string, frame []byte, doneFn mux.FrameTxDoneFn) error {
	vs := d.vifs[vifName]
	if vs == nil {
		return errors.Wrapf(mux.ErrUnknownVif, "%s", model.VifKey(phyName, vifName))
	}
	msg, err := frameMsg(vs.info.index, frame)
	if err != nil {
		return err
	}
	ct := nlcmd.NewTask(vifName+"/frame", d.genl, msg)
	ct.Task.CompletedFn = func(t *rq.Task) {
		if doneFn == nil {
			return
		}
		if !ct.Failed() {
			doneFn(nil)
		} else if err := ct.Cmd.Err(); err != nil {
			doneFn(err)
		} else {
			doneFn(errors.Errorf("frame tx %s", ct.Cmd.Status()))
		}
	}
	return d.phyQueue(phyName).Add(ct.Task)
}

func (d *Driver) phyQueue(phyName string) *rq.Queue {
	q := d.phyQ[phyName]
	if q == nil {
		q = rq.New(d.name+"/"+phyName, d.timers)
		q.MaxRunning = 1
		d.phyQ[phyName] = q
	}
	return q
}

func (d *Driver) phyByName(name string) *phyState {
	for _, ps := range d.phys {
		if ps.info.name == name {
			return ps
		}
	}
	return nil
}

func (d *Driver) phyName(index uint32) string {
	if ps := d.phys[index]; ps != nil {
		return ps.info.name
	}
	return ""
}

// keep the genetlink reply type in one place
func replyMessages(resp interface{}) []genetlink.Message {
	msgs, _ := resp.([]genetlink.Message)
	return msgs
}

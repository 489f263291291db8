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

package mux

import (
	"net"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/pkg/timer"
	"github.com/opensync/osw/plugins/state"
)

var (
	// ErrDriverExists is returned when two drivers register with the same name.
	ErrDriverExists = errors.New("driver is already registered")
	// ErrNoDriver is returned when no driver owns the addressed phy.
	ErrNoDriver = errors.New("no driver owns the phy")
	// ErrUnknownVif is returned when the addressed vif is not in the live state.
	ErrUnknownVif = errors.New("vif is not known")
)

const (
	opConfig   = "config"
	opDeauth   = "deauth"
	opFrameTx  = "frame-tx"
	resultOK   = "ok"
	resultFail = "error"
)

// Mux routes requests to the drivers owning the addressed phys.
type Mux struct {
	log     logging.Logger
	state   state.Registrar
	timers  *timer.Core
	metrics *metrics

	drivers   []Driver
	phyDriver map[string]Driver
	frameTxQ  map[string]*rq.Queue // by phy
}

// NewMux creates a mux without drivers. Reports of the drivers are
// forwarded to the given state registrar.
func NewMux(log logging.Logger, registrar state.Registrar, timers *timer.Core) *Mux {
	return &Mux{
		log:       log,
		state:     registrar,
		timers:    timers,
		phyDriver: make(map[string]Driver),
		frameTxQ:  make(map[string]*rq.Queue),
	}
}

// RegisterDriver adds a driver. Driver names must be unique.
func (m *Mux) RegisterDriver(drv Driver) error {
	for _, registered := range m.drivers {
		if registered.DriverName() == drv.DriverName() {
			return errors.Wrapf(ErrDriverExists, "driver %s", drv.DriverName())
		}
	}
	m.log.Infof("registering driver: name=%s", drv.DriverName())
	m.drivers = append(m.drivers, drv)
	return nil
}

// Start starts all registered drivers.
func (m *Mux) Start() error {
	for _, drv := range m.drivers {
		if err := drv.Start(&driverReporter{mux: m, drv: drv}); err != nil {
			return errors.Wrapf(err, "failed to start driver %s", drv.DriverName())
		}
	}
	return nil
}

// DriverNames returns the names of the registered drivers.
func (m *Mux) DriverNames() []string {
	var names []string
	for _, drv := range m.drivers {
		names = append(names, drv.DriverName())
	}
	return names
}

// RequestConfig splits the tree per driver and returns a single task
// grouping the per-driver tasks. Only phys marked as changed are passed
// down. The returned task is not queued yet.
func (m *Mux) RequestConfig(tree *model.PhyTree) (*rq.Task, error) {
	nested := rq.NewNested("mux-config", m.timers)

	subtrees := make(map[Driver]*model.PhyTree)
	var order []Driver
	for _, phy := range tree.Phys() {
		if !phy.Changed {
			continue
		}
		drv := m.phyDriver[phy.Name]
		if drv == nil {
			m.count(opConfig, "", resultFail)
			return nil, errors.Wrapf(ErrNoDriver, "phy %s", phy.Name)
		}
		sub := subtrees[drv]
		if sub == nil {
			sub = model.NewPhyTree()
			subtrees[drv] = sub
			order = append(order, drv)
		}
		if err := sub.Add(phy.Clone()); err != nil {
			return nil, err
		}
	}

	for _, drv := range order {
		task, err := drv.RequestConfig(subtrees[drv])
		if err != nil {
			m.count(opConfig, drv.DriverName(), resultFail)
			return nil, errors.Wrapf(err, "driver %s refused configuration", drv.DriverName())
		}
		if err := nested.Queue.Add(task); err != nil {
			return nil, err
		}
		m.log.Debugf("config requested: drv=%s phys=%d", drv.DriverName(), subtrees[drv].Len())
		m.count(opConfig, drv.DriverName(), resultOK)
	}
	return nested.Task, nil
}

// RequestStaDeauth disconnects the station from the vif.
func (m *Mux) RequestStaDeauth(phyName, vifName string, mac net.HardwareAddr, reason uint16) error {
	drv := m.phyDriver[phyName]
	if drv == nil {
		m.count(opDeauth, "", resultFail)
		return errors.Wrapf(ErrNoDriver, "phy %s", phyName)
	}
	m.log.Infof("deauth requested: phy=%s vif=%s sta=%s reason=%d", phyName, vifName, mac, reason)

	if deauther, ok := drv.(StaDeauther); ok {
		err := deauther.RequestStaDeauth(phyName, vifName, mac, reason)
		m.count(opDeauth, drv.DriverName(), result(err))
		return err
	}

	vif := m.state.Vif(phyName, vifName)
	if vif == nil {
		return errors.Wrapf(ErrUnknownVif, "%s", model.VifKey(phyName, vifName))
	}
	bssid, err := net.ParseMAC(vif.MAC)
	if err != nil {
		return errors.Wrapf(err, "vif %s has no usable address", model.VifKey(phyName, vifName))
	}
	frame, err := BuildDeauthFrame(bssid, mac, reason)
	if err != nil {
		return err
	}
	return m.FrameTxSchedule(phyName, vifName, frame, func(err error) {
		m.count(opDeauth, drv.DriverName(), result(err))
	})
}

// FrameTxSchedule queues the frame for transmission. Frames of one phy are
// transmitted one at a time in the order they were scheduled. doneFn may
// be nil.
func (m *Mux) FrameTxSchedule(phyName, vifName string, frame []byte, doneFn FrameTxDoneFn) error {
	drv := m.phyDriver[phyName]
	if drv == nil {
		m.count(opFrameTx, "", resultFail)
		return errors.Wrapf(ErrNoDriver, "phy %s", phyName)
	}

	q := m.frameTxQ[phyName]
	if q == nil {
		q = rq.New("frame-tx/"+phyName, m.timers)
		q.MaxRunning = 1
		m.frameTxQ[phyName] = q
	}

	task := rq.NewTask("frame-tx/"+model.VifKey(phyName, vifName), rq.RunFunc(func(t *rq.Task) {
		err := drv.FrameTx(phyName, vifName, frame, func(err error) {
			m.frameTxDone(drv, t, doneFn, err)
		})
		if err != nil {
			m.frameTxDone(drv, t, doneFn, err)
		}
	}))
	return q.Add(task)
}

func (m *Mux) frameTxDone(drv Driver, t *rq.Task, doneFn FrameTxDoneFn, err error) {
	if t.IsCompleted() {
		return
	}
	if err != nil {
		m.log.Warnf("frame tx failed: task=%s err=%v", t.Name, err)
	}
	m.count(opFrameTx, drv.DriverName(), result(err))
	t.Complete()
	if doneFn != nil {
		doneFn(err)
	}
}

// PhyDriverName returns the name of the driver owning the phy.
func (m *Mux) PhyDriverName(phyName string) string {
	if drv := m.phyDriver[phyName]; drv != nil {
		return drv.DriverName()
	}
	return ""
}

func (m *Mux) count(op, drv, res string) {
	if m.metrics != nil {
		m.metrics.requests.WithLabelValues(op, drv, res).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return resultFail
	}
	return resultOK
}

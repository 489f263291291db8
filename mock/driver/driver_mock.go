/*
 * // Copyright (c) 2018 Cisco and/or its affiliates.
 * //
 * // Licensed under the Apache License, Version 2.0 (the "License");
 * // you may not use this file except in compliance with the License.
 * // You may obtain a copy of the License at:
 * //
 * //     http://www.apache.org/licenses/LICENSE-2.0
 * //
 * // Unless required by applicable law or agreed to in writing, software
 * // distributed under the License is distributed on an "AS IS" BASIS,
 * // WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * // See the License for the specific language governing permissions and
 * // limitations under the License.
 */

package driver

import (
	"net"

	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

// Deauth records one RequestStaDeauth call.
type Deauth struct {
	Phy    string
	Vif    string
	MAC    net.HardwareAddr
	Reason uint16
}

// Frame records one FrameTx call.
type Frame struct {
	Phy    string
	Vif    string
	Data   []byte
	DoneFn mux.FrameTxDoneFn
}

// MockDriver is a mock radio driver. By default configuration requests
// are applied to the reported state and completed synchronously.
type MockDriver struct {
	Name string

	// ApplyFn replaces the default way of applying a configuration request.
	ApplyFn func(d *MockDriver, tree *model.PhyTree)

	// Async keeps request tasks running until CompletePending is called.
	Async bool

	// FrameTxErr, if set, is returned by FrameTx.
	FrameTxErr error

	Reporter state.Reporter
	Requests []*model.PhyTree
	Pending  []*rq.Task
	Frames   []*Frame
	Deauths  []*Deauth
}

// NewMockDriver is a constructor for MockDriver.
func NewMockDriver(name string) *MockDriver {
	return &MockDriver{Name: name}
}

// DriverName returns the driver name.
func (d *MockDriver) DriverName() string {
	return d.Name
}

// Start remembers the reporter.
func (d *MockDriver) Start(reporter state.Reporter) error {
	d.Reporter = reporter
	return nil
}

// RequestConfig records the tree and returns a task applying it.
func (d *MockDriver) RequestConfig(tree *model.PhyTree) (*rq.Task, error) {
	if d.Reporter == nil {
		return nil, errors.New("mock driver not started")
	}
	d.Requests = append(d.Requests, tree)
	return rq.NewTask(d.Name+"/config", rq.RunFunc(func(t *rq.Task) {
		if d.ApplyFn != nil {
			d.ApplyFn(d, tree)
		} else {
			d.Apply(tree)
		}
		if d.Async {
			d.Pending = append(d.Pending, t)
			return
		}
		t.Complete()
	})), nil
}

// CompletePending completes all running request tasks.
func (d *MockDriver) CompletePending() {
	pending := d.Pending
	d.Pending = nil
	for _, t := range pending {
		t.Complete()
	}
}

// Apply reports the changed phys and vifs of the tree as the live state.
func (d *MockDriver) Apply(tree *model.PhyTree) {
	for _, phy := range tree.Phys() {
		if !phy.Changed {
			continue
		}
		_ = d.Reporter.ReportPhy(d.Name, phy)
		for _, vif := range phy.Vifs() {
			if !vif.Changed {
				continue
			}
			live := vif.Clone()
			if vif.Enabled {
				live.Status = model.VifStatusEnabled
			} else {
				live.Status = model.VifStatusDisabled
			}
			_ = d.Reporter.ReportVif(d.Name, live)
		}
	}
}

// AddPhy reports a phy with the given vifs (enabled AP vifs).
func (d *MockDriver) AddPhy(phyName string, vifNames ...string) {
	_ = d.Reporter.ReportPhy(d.Name, &model.Phy{Name: phyName, Enabled: true})
	for _, vifName := range vifNames {
		_ = d.Reporter.ReportVif(d.Name, &model.Vif{
			Name:    vifName,
			PhyName: phyName,
			Type:    model.VifAP,
			Enabled: true,
			Status:  model.VifStatusEnabled,
			MAC:     "02:00:00:00:00:01",
			AP:      &model.AP{SSID: "live"},
		})
	}
}

// FrameTx records the frame. The frame is completed by CompleteFrames.
func (d *MockDriver) FrameTx(phyName, vifName string, frame []byte, doneFn mux.FrameTxDoneFn) error {
	if d.FrameTxErr != nil {
		return d.FrameTxErr
	}
	d.Frames = append(d.Frames, &Frame{Phy: phyName, Vif: vifName, Data: frame, DoneFn: doneFn})
	return nil
}

// CompleteFrames reports all transmitted frames as done.
func (d *MockDriver) CompleteFrames(err error) {
	for _, f := range d.Frames {
		if f.DoneFn != nil {
			f.DoneFn(err)
			f.DoneFn = nil
		}
	}
}

// DeauthDriver is a MockDriver which disconnects stations natively.
type DeauthDriver struct {
	*MockDriver
}

// RequestStaDeauth records the request.
func (d *DeauthDriver) RequestStaDeauth(phyName, vifName string, mac net.HardwareAddr, reason uint16) error {
	d.Deauths = append(d.Deauths, &Deauth{Phy: phyName, Vif: vifName, MAC: mac, Reason: reason})
	return nil
}

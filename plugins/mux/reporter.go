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
	"github.com/opensync/osw/pkg/model"
)

// driverReporter forwards reports of one driver to the state registry and
// learns which phys the driver owns.
type driverReporter struct {
	mux *Mux
	drv Driver
}

func (r *driverReporter) name() string {
	return r.drv.DriverName()
}

func (r *driverReporter) ReportPhy(drvName string, phy *model.Phy) error {
	if err := r.mux.state.ReportPhy(r.name(), phy); err != nil {
		return err
	}
	r.mux.phyDriver[phy.Name] = r.drv
	return nil
}

func (r *driverReporter) ReportPhyGone(drvName string, phyName string) error {
	if owner := r.mux.phyDriver[phyName]; owner != nil && owner != r.drv {
		return nil
	}
	if err := r.mux.state.ReportPhyGone(r.name(), phyName); err != nil {
		return err
	}
	delete(r.mux.phyDriver, phyName)
	if q := r.mux.frameTxQ[phyName]; q != nil {
		q.Cancel()
		delete(r.mux.frameTxQ, phyName)
	}
	return nil
}

func (r *driverReporter) ReportVif(drvName string, vif *model.Vif) error {
	return r.mux.state.ReportVif(r.name(), vif)
}

func (r *driverReporter) ReportVifGone(drvName string, phyName, vifName string) error {
	return r.mux.state.ReportVifGone(r.name(), phyName, vifName)
}

func (r *driverReporter) ReportSta(drvName string, phyName, vifName string, sta *model.Station) error {
	return r.mux.state.ReportSta(r.name(), phyName, vifName, sta)
}

func (r *driverReporter) ReportStaGone(drvName string, phyName, vifName, mac string) error {
	return r.mux.state.ReportStaGone(r.name(), phyName, vifName, mac)
}

func (r *driverReporter) ReportBusy(drvName string) {
	r.mux.state.ReportBusy(r.name())
}

func (r *driverReporter) ReportIdle(drvName string) {
	r.mux.state.ReportIdle(r.name())
}

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

package state

import (
	"github.com/opensync/osw/pkg/model"
)

// Observer is anything registered with the state registry. The
// notifications it receives depend on which of PhyObserver, VifObserver,
// StaObserver and SettledObserver it implements.
//
// Objects passed to observers are owned by the registry and must be
// treated as read-only.
type Observer interface {
	ObserverName() string
}

// PhyObserver is notified about phys.
type PhyObserver interface {
	PhyAdded(phy *model.Phy)
	PhyChanged(phy *model.Phy)
	PhyRemoved(phy *model.Phy)
}

// VifObserver is notified about vifs.
type VifObserver interface {
	VifAdded(vif *model.Vif)
	VifChanged(vif *model.Vif)
	VifRemoved(vif *model.Vif)
}

// StaObserver is notified about stations.
type StaObserver interface {
	StaConnected(vif *model.Vif, sta *model.Station)
	StaChanged(vif *model.Vif, sta *model.Station)
	StaDisconnected(vif *model.Vif, sta *model.Station)
}

// SettledObserver is notified when drivers start or stop (re)loading state.
type SettledObserver interface {
	Idle()
	Busy()
}

// Funcs is an Observer built from optional callbacks.
type Funcs struct {
	Name string

	PhyAddedFn   func(phy *model.Phy)
	PhyChangedFn func(phy *model.Phy)
	PhyRemovedFn func(phy *model.Phy)

	VifAddedFn   func(vif *model.Vif)
	VifChangedFn func(vif *model.Vif)
	VifRemovedFn func(vif *model.Vif)

	StaConnectedFn    func(vif *model.Vif, sta *model.Station)
	StaChangedFn      func(vif *model.Vif, sta *model.Station)
	StaDisconnectedFn func(vif *model.Vif, sta *model.Station)

	IdleFn func()
	BusyFn func()
}

// ObserverName returns f.Name.
func (f *Funcs) ObserverName() string { return f.Name }

// PhyAdded calls PhyAddedFn if set.
func (f *Funcs) PhyAdded(phy *model.Phy) {
	if f.PhyAddedFn != nil {
		f.PhyAddedFn(phy)
	}
}

// PhyChanged calls PhyChangedFn if set.
func (f *Funcs) PhyChanged(phy *model.Phy) {
	if f.PhyChangedFn != nil {
		f.PhyChangedFn(phy)
	}
}

// PhyRemoved calls PhyRemovedFn if set.
func (f *Funcs) PhyRemoved(phy *model.Phy) {
	if f.PhyRemovedFn != nil {
		f.PhyRemovedFn(phy)
	}
}

// VifAdded calls VifAddedFn if set.
func (f *Funcs) VifAdded(vif *model.Vif) {
	if f.VifAddedFn != nil {
		f.VifAddedFn(vif)
	}
}

// VifChanged calls VifChangedFn if set.
func (f *Funcs) VifChanged(vif *model.Vif) {
	if f.VifChangedFn != nil {
		f.VifChangedFn(vif)
	}
}

// VifRemoved calls VifRemovedFn if set.
func (f *Funcs) VifRemoved(vif *model.Vif) {
	if f.VifRemovedFn != nil {
		f.VifRemovedFn(vif)
	}
}

// StaConnected calls StaConnectedFn if set.
func (f *Funcs) StaConnected(vif *model.Vif, sta *model.Station) {
	if f.StaConnectedFn != nil {
		f.StaConnectedFn(vif, sta)
	}
}

// StaChanged calls StaChangedFn if set.
func (f *Funcs) StaChanged(vif *model.Vif, sta *model.Station) {
	if f.StaChangedFn != nil {
		f.StaChangedFn(vif, sta)
	}
}

// StaDisconnected calls StaDisconnectedFn if set.
func (f *Funcs) StaDisconnected(vif *model.Vif, sta *model.Station) {
	if f.StaDisconnectedFn != nil {
		f.StaDisconnectedFn(vif, sta)
	}
}

// Idle calls IdleFn if set.
func (f *Funcs) Idle() {
	if f.IdleFn != nil {
		f.IdleFn()
	}
}

// Busy calls BusyFn if set.
func (f *Funcs) Busy() {
	if f.BusyFn != nil {
		f.BusyFn()
	}
}

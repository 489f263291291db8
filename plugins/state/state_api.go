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

// API is the read side of the live state, plus observer registration.
// All methods must be called from inside the event loop.
type API interface {
	// RegisterObserver adds the observer and replays the current state
	// to it as a sequence of "added" notifications.
	RegisterObserver(o Observer) error

	// UnregisterObserver removes the observer and replays the current
	// state to it as a sequence of "removed" notifications.
	UnregisterObserver(o Observer) error

	// LiveTree returns a snapshot of the live phy/vif tree.
	LiveTree() *model.PhyTree

	Phy(phyName string) *model.Phy
	Vif(phyName, vifName string) *model.Vif
	VifByName(vifName string) *model.Vif
	Sta(phyName, vifName, mac string) *model.Station
	Stations(phyName, vifName string) []*model.Station
	StaNewest(mac string) *model.Station
	PhyDriver(phyName string) string

	// IsSettled returns true if no driver is busy (re)loading its state.
	IsSettled() bool
}

// Registrar is implemented by the state plugin for the drivers.
type Registrar interface {
	API
	Reporter
}

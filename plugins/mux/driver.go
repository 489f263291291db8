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

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/plugins/state"
)

// FrameTxDoneFn is called once the driver is done with a transmitted frame.
type FrameTxDoneFn func(err error)

// Driver is a radio driver registered with the mux.
//
// All methods are called from inside the event loop. Drivers report the
// live state through the reporter handed over in Start and must report
// a phy before the mux routes any request for it.
type Driver interface {
	DriverName() string

	// Start is called once, after all drivers have been registered.
	Start(reporter state.Reporter) error

	// RequestConfig returns a task which applies the phys and vifs
	// marked as changed in the tree. The tree only contains phys owned
	// by the driver. The task completes once the driver is done trying,
	// successfully or not; the outcome is judged from the live state.
	RequestConfig(tree *model.PhyTree) (*rq.Task, error)

	// FrameTx transmits a raw 802.11 frame on the vif.
	FrameTx(phyName, vifName string, frame []byte, doneFn FrameTxDoneFn) error
}

// StaDeauther is implemented by drivers which can disconnect a station
// natively. Other drivers get a deauthentication frame via FrameTx.
type StaDeauther interface {
	RequestStaDeauth(phyName, vifName string, mac net.HardwareAddr, reason uint16) error
}

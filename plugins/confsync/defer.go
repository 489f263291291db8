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

package confsync

import (
	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/timer"
)

// Bringing a vif up can take a while (channel availability checks,
// driver firmware reload). Once a vif was requested to be enabled, it is
// not requested again until it reports enabled or the grace period ends.

// maybeDefer starts the grace period if the request enables the vif.
func (e *Engine) maybeDefer(dev *device, desired, live *model.PhyTree) {
	if e.config.DeferGrace <= 0 {
		return
	}
	phyName, vifName := splitKey(dev.key)
	if vifName == "" {
		return
	}
	dphy := desired.Phy(phyName)
	if dphy == nil || !dphy.Enabled {
		return
	}
	dvif := dphy.Vif(vifName)
	if dvif == nil || !dvif.Enabled {
		return
	}
	if lvif := live.Vif(phyName, vifName); lvif != nil && lvif.Status == model.VifStatusEnabled {
		return
	}

	if dev.deferTimer == nil {
		dev.deferTimer = e.timers.NewTimer("confsync-defer-"+dev.key, func(*timer.Timer) {
			e.log.Infof("confsync %s: enable grace period expired", dev.key)
			dev.deferExpired = true
			e.trigger("defer expired: " + dev.key)
		})
	}
	dev.deferTimer.ArmIn(e.config.DeferGrace)
	e.log.Debugf("confsync %s: deferring for %v", dev.key, e.config.DeferGrace)
}

// undefer ends the grace period of the device.
func (e *Engine) undefer(key string) {
	dev := e.devices[key]
	if dev == nil || dev.deferTimer == nil || !dev.deferTimer.IsArmed() {
		return
	}
	dev.deferTimer.Disarm()
	e.log.Debugf("confsync %s: defer disarmed", key)
}

func (e *Engine) isDeferred(dev *device) bool {
	return dev.deferTimer != nil && dev.deferTimer.IsArmed()
}

func (e *Engine) vifReported(vif *model.Vif) {
	if vif.Status == model.VifStatusEnabled {
		e.undefer(model.VifKey(vif.PhyName, vif.Name))
	}
}

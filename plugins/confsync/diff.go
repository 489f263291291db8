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
	"sort"
	"strings"

	"github.com/opensync/osw/pkg/model"
)

// Diff lists the devices (phys and vifs) whose live state does not match
// the desired configuration. Devices are keyed by the phy name or by
// model.VifKey.
type Diff struct {
	Keys    []string            // in tree order
	Reasons map[string][]string // names of mismatching attributes by key
}

func newDiff() *Diff {
	return &Diff{Reasons: make(map[string][]string)}
}

// IsEmpty returns true if desired and live match.
func (d *Diff) IsEmpty() bool {
	return len(d.Keys) == 0
}

// Has returns true if the device differs.
func (d *Diff) Has(key string) bool {
	_, has := d.Reasons[key]
	return has
}

func (d *Diff) add(key string, reasons []string) {
	if len(reasons) == 0 {
		return
	}
	if !d.Has(key) {
		d.Keys = append(d.Keys, key)
	}
	d.Reasons[key] = append(d.Reasons[key], reasons...)
}

func (d *Diff) String() string {
	var parts []string
	for _, key := range d.Keys {
		parts = append(parts, key+": "+strings.Join(d.Reasons[key], ","))
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

// DiffTrees compares the desired tree with the live tree.
func DiffTrees(desired, live *model.PhyTree) *Diff {
	diff := newDiff()
	for _, dphy := range desired.Phys() {
		lphy := live.Phy(dphy.Name)
		if lphy == nil {
			diff.add(dphy.Name, []string{"missing"})
			continue
		}
		// nothing to do on a radio that is down and should stay down
		if !dphy.Enabled && !lphy.Enabled {
			continue
		}
		diff.add(dphy.Name, diffPhy(dphy, lphy))

		for _, dvif := range dphy.Vifs() {
			key := model.VifKey(dphy.Name, dvif.Name)
			diff.add(key, diffVif(dvif, lphy.Vif(dvif.Name), dphy.Enabled))
		}
		for _, lvif := range lphy.Vifs() {
			if dphy.Vif(lvif.Name) == nil {
				diff.add(model.VifKey(dphy.Name, lvif.Name), []string{"removed"})
			}
		}
	}
	return diff
}

func diffPhy(desired, live *model.Phy) (reasons []string) {
	if desired.Enabled != live.Enabled {
		reasons = append(reasons, "enabled")
	}
	if desired.TxChainmask != 0 && desired.TxChainmask != live.TxChainmask {
		reasons = append(reasons, "tx_chainmask")
	}
	if desired.RegDomain != "" && desired.RegDomain != live.RegDomain {
		reasons = append(reasons, "reg_domain")
	}
	return reasons
}

// vifEnabledDiffers compares the desired enabled flag with the status
// reported by the driver.
func vifEnabledDiffers(enabled bool, status model.VifStatus) bool {
	switch status {
	case model.VifStatusEnabled:
		return !enabled
	case model.VifStatusDisabled, model.VifStatusUnknown:
		return enabled
	}
	return true // broken
}

func diffVif(desired, live *model.Vif, phyEnabled bool) (reasons []string) {
	enabled := desired.Enabled && phyEnabled
	if live == nil {
		if enabled {
			reasons = append(reasons, "missing")
		}
		return reasons
	}
	if vifEnabledDiffers(enabled, live.Status) {
		reasons = append(reasons, "enabled")
	}
	if !enabled && (live.Status == model.VifStatusDisabled || live.Status == model.VifStatusUnknown) {
		return reasons
	}
	if desired.Type != live.Type {
		reasons = append(reasons, "type")
	}
	if desired.TxPowerDBM != 0 && desired.TxPowerDBM != live.TxPowerDBM {
		reasons = append(reasons, "tx_power")
	}
	if desired.AP != nil {
		reasons = append(reasons, diffAP(desired.AP, live.AP)...)
	}
	if desired.STA != nil {
		reasons = append(reasons, diffSTA(desired.STA, live.STA)...)
	}
	return reasons
}

func diffAP(desired, live *model.AP) (reasons []string) {
	if live == nil {
		return []string{"ap"}
	}
	if desired.SSID != live.SSID {
		reasons = append(reasons, "ssid")
	}
	if desired.Security != live.Security {
		reasons = append(reasons, "security")
	}
	if desired.Channel.ControlFreqMHz != 0 && desired.Channel != live.Channel {
		reasons = append(reasons, "channel")
	}
	if desired.BeaconInterval != 0 && desired.BeaconInterval != live.BeaconInterval {
		reasons = append(reasons, "beacon_interval")
	}
	if desired.Isolated != live.Isolated {
		reasons = append(reasons, "isolated")
	}
	if desired.SSIDHidden != live.SSIDHidden {
		reasons = append(reasons, "ssid_hidden")
	}
	if desired.Mcast2Ucast != live.Mcast2Ucast {
		reasons = append(reasons, "mcast2ucast")
	}
	if !sameMACs(desired.ACL, live.ACL) {
		reasons = append(reasons, "acl")
	}
	if aclPolicy(desired.ACLPolicy) != aclPolicy(live.ACLPolicy) {
		reasons = append(reasons, "acl_policy")
	}
	if desired.Bridge != live.Bridge {
		reasons = append(reasons, "bridge")
	}
	if desired.WPSPBC != live.WPSPBC {
		reasons = append(reasons, "wps_pbc")
	}
	return reasons
}

func diffSTA(desired, live *model.STA) (reasons []string) {
	if live == nil {
		return []string{"sta"}
	}
	if desired.SSID != live.SSID {
		reasons = append(reasons, "sta_ssid")
	}
	if desired.BSSID != "" && !strings.EqualFold(desired.BSSID, live.BSSID) {
		reasons = append(reasons, "sta_bssid")
	}
	if desired.Security != live.Security {
		reasons = append(reasons, "sta_security")
	}
	return reasons
}

func aclPolicy(p model.ACLPolicy) model.ACLPolicy {
	if p == "" {
		return model.ACLNone
	}
	return p
}

// sameMACs compares two MAC lists as sets.
func sameMACs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	normalize := func(list []string) []string {
		out := make([]string, 0, len(list))
		for _, mac := range list {
			out = append(out, strings.ToLower(mac))
		}
		sort.Strings(out)
		return out
	}
	na, nb := normalize(a), normalize(b)
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

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
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
)

// Phys is the content of the dummy phys file.
type Phys struct {
	Phys []*PhySpec `json:"phys"`
}

// PhySpec describes one simulated phy.
type PhySpec struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	TxChainmask int        `json:"tx_chainmask,omitempty"`
	RegDomain   string     `json:"reg_domain,omitempty"`
	Vifs        []*VifSpec `json:"vifs,omitempty"`

	// Stuck phys ignore configuration requests.
	Stuck bool `json:"stuck,omitempty"`
}

// VifSpec describes one simulated vif.
type VifSpec struct {
	Name       string        `json:"name"`
	Type       model.VifType `json:"type"`
	Enabled    bool          `json:"enabled"`
	MAC        string        `json:"mac,omitempty"`
	TxPowerDBM int           `json:"tx_power_dbm,omitempty"`
	AP         *model.AP     `json:"ap,omitempty"`
	STA        *model.STA    `json:"sta,omitempty"`

	// Stations are connected while the vif is enabled.
	Stations []*StationSpec `json:"stations,omitempty"`

	// Stuck vifs ignore configuration requests.
	Stuck bool `json:"stuck,omitempty"`
	// Broken vifs are reported with the broken status.
	Broken bool `json:"broken,omitempty"`
}

// StationSpec describes a station associated to a simulated AP vif.
type StationSpec struct {
	MAC   string             `json:"mac"`
	Stats model.StationStats `json:"stats"`

	connectedAt int64
}

// ParsePhys parses YAML (or JSON) description of the simulated phys.
func ParsePhys(data []byte) (*Phys, error) {
	phys := &Phys{}
	if err := yaml.Unmarshal(data, phys); err != nil {
		return nil, errors.Wrap(err, "failed to parse dummy phys")
	}
	seen := make(map[string]bool)
	for _, phy := range phys.Phys {
		if phy.Name == "" {
			return nil, errors.New("dummy phy without name")
		}
		if seen[phy.Name] {
			return nil, errors.Wrapf(model.ErrDuplicateName, "dummy phy %s", phy.Name)
		}
		seen[phy.Name] = true
		for _, vif := range phy.Vifs {
			if vif.Name == "" {
				return nil, errors.Errorf("dummy vif without name on phy %s", phy.Name)
			}
			for _, sta := range vif.Stations {
				mac, err := model.NormalizeMAC(sta.MAC)
				if err != nil {
					return nil, errors.Wrapf(err, "station on %s", model.VifKey(phy.Name, vif.Name))
				}
				sta.MAC = mac
			}
		}
	}
	return phys, nil
}

// LoadPhys reads and parses the dummy phys file.
func LoadPhys(path string) (*Phys, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return ParsePhys(data)
}

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

package conf

import (
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
)

// FileMutatorName is the name of the mutator applying the desired config file.
const FileMutatorName = "file"

// DesiredConfig is the content of the desired configuration file.
// Attributes left out are not touched by the mutator.
type DesiredConfig struct {
	Phys []*DesiredPhy `json:"phys"`
}

// DesiredPhy describes the desired state of one phy.
type DesiredPhy struct {
	Name        string        `json:"name"`
	Enabled     *bool         `json:"enabled,omitempty"`
	TxChainmask *int          `json:"tx_chainmask,omitempty"`
	RegDomain   *string       `json:"reg_domain,omitempty"`
	Vifs        []*DesiredVif `json:"vifs,omitempty"`
}

// DesiredVif describes the desired state of one vif. A vif that does not
// exist in the live state is created if its type is given.
type DesiredVif struct {
	Name       string         `json:"name"`
	Type       *model.VifType `json:"type,omitempty"`
	Enabled    *bool          `json:"enabled,omitempty"`
	TxPowerDBM *int           `json:"tx_power_dbm,omitempty"`
	AP         *model.AP      `json:"ap,omitempty"`
	STA        *model.STA     `json:"sta,omitempty"`
}

// ParseDesiredConfig parses YAML (or JSON) desired configuration.
func ParseDesiredConfig(data []byte) (*DesiredConfig, error) {
	cfg := &DesiredConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse desired configuration")
	}
	seen := make(map[string]bool)
	for _, phy := range cfg.Phys {
		if phy.Name == "" {
			return nil, errors.New("phy without name in desired configuration")
		}
		if seen[phy.Name] {
			return nil, errors.Wrapf(model.ErrDuplicateName, "phy %s in desired configuration", phy.Name)
		}
		seen[phy.Name] = true
		vifs := make(map[string]bool)
		for _, vif := range phy.Vifs {
			if vif.Name == "" {
				return nil, errors.Errorf("vif without name on phy %s in desired configuration", phy.Name)
			}
			if vifs[vif.Name] {
				return nil, errors.Wrapf(model.ErrDuplicateName, "vif %s on phy %s in desired configuration",
					vif.Name, phy.Name)
			}
			vifs[vif.Name] = true
		}
	}
	return cfg, nil
}

// LoadDesiredConfig reads and parses the desired configuration file.
func LoadDesiredConfig(path string) (*DesiredConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return ParseDesiredConfig(data)
}

// FileMutator applies the desired configuration file onto the tree.
type FileMutator struct {
	log logging.Logger
	cfg *DesiredConfig
}

// NewFileMutator creates a mutator without any content.
func NewFileMutator(log logging.Logger) *FileMutator {
	return &FileMutator{log: log}
}

// Set replaces the applied configuration.
func (f *FileMutator) Set(cfg *DesiredConfig) {
	f.cfg = cfg
}

// Get returns the applied configuration.
func (f *FileMutator) Get() *DesiredConfig {
	return f.cfg
}

// Mutate is the MutateFn of the file mutator.
func (f *FileMutator) Mutate(tree *model.PhyTree) {
	if f.cfg == nil {
		return
	}
	for _, desired := range f.cfg.Phys {
		phy := tree.Phy(desired.Name)
		if phy == nil {
			f.log.Debugf("desired phy not present: phy=%s", desired.Name)
			continue
		}
		if desired.Enabled != nil {
			phy.Enabled = *desired.Enabled
		}
		if desired.TxChainmask != nil {
			phy.TxChainmask = *desired.TxChainmask
		}
		if desired.RegDomain != nil {
			phy.RegDomain = *desired.RegDomain
		}
		for _, dvif := range desired.Vifs {
			f.mutateVif(phy, dvif)
		}
	}
}

func (f *FileMutator) mutateVif(phy *model.Phy, desired *DesiredVif) {
	vif := phy.Vif(desired.Name)
	if vif == nil {
		if desired.Type == nil {
			f.log.Debugf("desired vif not present and without type: phy=%s vif=%s", phy.Name, desired.Name)
			return
		}
		vif = &model.Vif{Name: desired.Name, Type: *desired.Type}
		if err := phy.AddVif(vif); err != nil {
			f.log.Warn(err)
			return
		}
	}
	if desired.Type != nil {
		vif.Type = *desired.Type
	}
	if desired.Enabled != nil {
		vif.Enabled = *desired.Enabled
	}
	if desired.TxPowerDBM != nil {
		vif.TxPowerDBM = *desired.TxPowerDBM
	}
	if desired.AP != nil {
		ap := *desired.AP
		ap.ACL = append([]string(nil), desired.AP.ACL...)
		vif.AP = &ap
	}
	if desired.STA != nil {
		sta := *desired.STA
		vif.STA = &sta
	}
}

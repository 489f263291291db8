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
	"context"
	"time"

	"github.com/ligato/cn-infra/infra"

	"github.com/opensync/osw/plugins/core"
)

// Plugin registers the dummy driver with the mux. It must be initialized
// before the mux plugin.
type Plugin struct {
	Deps
	*Driver

	config *Config
}

// Deps lists dependencies of the dummy driver plugin.
type Deps struct {
	infra.PluginDeps

	Loop core.API
}

// Config holds the dummy driver configuration.
type Config struct {
	// PhysFile is a YAML file describing the simulated phys.
	PhysFile      string        `json:"phys-file"`
	ApplyDelay    time.Duration `json:"apply-delay"`
	StatsInterval time.Duration `json:"stats-interval"`
}

// Init loads the simulated phys.
func (p *Plugin) Init() error {
	p.config = &Config{}
	if err := p.loadConfig(p.config); err != nil {
		return err
	}

	var phys *Phys
	if p.config.PhysFile != "" {
		var err error
		if phys, err = LoadPhys(p.config.PhysFile); err != nil {
			return err
		}
	}
	p.Driver = NewDriver(p.String(), p.Log, p.Loop.Timers(), phys)
	p.Driver.ApplyDelay = p.config.ApplyDelay
	p.Driver.StatsInterval = p.config.StatsInterval
	return nil
}

// DriverName returns the plugin name.
func (p *Plugin) DriverName() string {
	return p.String()
}

// Close stops the simulation.
func (p *Plugin) Close() error {
	if p.Driver == nil {
		return nil
	}
	err := p.Loop.Call(context.Background(), p.Driver.Stop)
	if err == core.ErrClosedLoop {
		return nil
	}
	return err
}

// loadConfig loads configuration file.
func (p *Plugin) loadConfig(config *Config) error {
	if p.Cfg == nil {
		return nil
	}
	found, err := p.Cfg.LoadValue(config)
	if err != nil {
		return err
	} else if !found {
		p.Log.Debugf("%v config not found", p.PluginName)
		return nil
	}
	p.Log.Debugf("%v config found: %+v", p.PluginName, config)
	return nil
}

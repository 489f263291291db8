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

package nl80211

import (
	"context"
	"time"

	"github.com/ligato/cn-infra/infra"
	"golang.org/x/sys/unix"

	"github.com/opensync/osw/pkg/nlcmd"
	"github.com/opensync/osw/plugins/core"
)

// Plugin registers the nl80211 driver with the mux. It must be
// initialized before the mux plugin.
type Plugin struct {
	Deps
	*Driver

	config *Config
	genl   *nlcmd.GenlChannel
	links  Links
}

// Deps lists dependencies of the nl80211 driver plugin.
type Deps struct {
	infra.PluginDeps

	Loop core.API
}

// Config holds the nl80211 driver configuration.
type Config struct {
	RefreshInterval time.Duration `json:"refresh-interval"`
}

// Init opens the nl80211 socket. A missing nl80211 family is not fatal,
// the driver then reports no phys.
func (p *Plugin) Init() error {
	p.config = &Config{RefreshInterval: defaultRefreshInterval}
	if err := p.loadConfig(p.config); err != nil {
		return err
	}

	var ch nlcmd.Channel
	genl, err := nlcmd.DialGenl(unix.NL80211_GENL_NAME, p.Loop)
	if err != nil {
		p.Log.Warnf("nl80211 is not available: %v", err)
	} else {
		p.genl = genl
		ch = genl
	}
	p.links = NewSysLinks(p.Log)

	p.Driver = NewDriver(p.String(), p.Log, p.Loop, p.Loop.Timers(), ch, p.links)
	p.Driver.RefreshInterval = p.config.RefreshInterval
	return nil
}

// DriverName returns the plugin name.
func (p *Plugin) DriverName() string {
	return p.String()
}

// Close stops the driver and closes the sockets.
func (p *Plugin) Close() error {
	if p.Driver != nil {
		err := p.Loop.Call(context.Background(), p.Driver.Stop)
		if err != nil && err != core.ErrClosedLoop {
			p.Log.Warn(err)
		}
	}
	if p.links != nil {
		p.links.Close()
	}
	if p.genl != nil {
		return p.genl.Close()
	}
	return nil
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

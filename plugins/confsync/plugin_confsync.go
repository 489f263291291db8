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
	"context"

	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"

	"github.com/opensync/osw/plugins/conf"
	"github.com/opensync/osw/plugins/core"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/state"
)

// Plugin runs the configuration synchronization engine.
type Plugin struct {
	Deps
	*Engine

	config   *Config
	watchdog *Watchdog
}

// Deps lists dependencies of the confsync plugin.
type Deps struct {
	infra.PluginDeps

	Loop         core.API
	State        state.API
	Conf         conf.API
	Mux          Requester
	HTTPHandlers rest.HTTPHandlers
	Prometheus   prometheusplugin.API
	StatusCheck  statuscheck.PluginStatusWriter

	// FatalFn, if set, is called by the watchdog in addition to reporting
	// the error to the status check.
	FatalFn FatalFn
}

// Init creates the engine and the watchdog.
func (p *Plugin) Init() error {
	p.config = DefaultConfig()
	if err := p.loadConfig(p.config); err != nil {
		return err
	}
	p.Log.Infof("Confsync configuration: %+v", *p.config)

	p.Engine = NewEngine(p.Log, p.Loop.Timers(), p.Deps.State, p.Conf, p.Mux, p.config)

	if p.Prometheus != nil {
		m := newMetrics()
		if err := mux.RegisterMetrics(p.Prometheus, p.Log, m.collectors()...); err != nil {
			p.Log.Errorf("failed to register confsync metrics: %v", err)
			return err
		}
		p.Engine.metrics = m
	}

	if p.StatusCheck != nil {
		p.StatusCheck.Register(p.PluginName, nil)
	}
	if !p.config.Watchdog.Disabled {
		p.watchdog = NewWatchdog(p.Log.NewLogger("watchdog"), p.Loop.Timers(), p.config.Watchdog, p.fatal)
	}
	return nil
}

// AfterInit starts the engine inside the event loop.
func (p *Plugin) AfterInit() error {
	var err error
	callErr := p.Loop.Call(context.Background(), func() {
		p.Engine.RegisterChangedFn("statuscheck", p.reportSettled)
		if p.watchdog != nil {
			p.watchdog.Attach(p.Engine)
		}
		err = p.Engine.Start()
	})
	if callErr != nil {
		return callErr
	}
	if err != nil {
		return err
	}
	p.registerHandlers()
	return nil
}

// Close stops the engine.
func (p *Plugin) Close() error {
	err := p.Loop.Call(context.Background(), func() {
		if p.watchdog != nil {
			p.watchdog.Detach()
		}
		p.Engine.Stop()
	})
	if err == core.ErrClosedLoop {
		return nil
	}
	return err
}

func (p *Plugin) fatal(err error) {
	if p.StatusCheck != nil {
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.Error, err)
	}
	if p.FatalFn != nil {
		p.FatalFn(err)
	}
}

func (p *Plugin) reportSettled(s State) {
	if s == Idle && p.StatusCheck != nil {
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.OK, nil)
	}
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

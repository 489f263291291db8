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
	"context"

	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/logging"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensync/osw/plugins/core"
	"github.com/opensync/osw/plugins/state"
)

// MetricsPath is the path of the prometheus registry shared by OSW plugins.
const MetricsPath = "/osw/metrics"

// Plugin dispatches requests to the radio drivers.
type Plugin struct {
	Deps
	*Mux
}

// Deps lists dependencies of the mux plugin.
type Deps struct {
	infra.PluginDeps

	Loop       core.API
	State      state.Registrar
	Prometheus prometheusplugin.API

	// Drivers are registered in Init and started in AfterInit.
	Drivers []Driver
}

// Init registers the drivers and the metrics.
func (p *Plugin) Init() error {
	p.Mux = NewMux(p.Log, p.State, p.Loop.Timers())

	if p.Prometheus != nil {
		m := newMetrics()
		if err := RegisterMetrics(p.Prometheus, p.Log, m.requests); err != nil {
			p.Log.Errorf("failed to register mux metrics: %v", err)
			return err
		}
		p.Mux.metrics = m
	}

	for _, drv := range p.Drivers {
		if err := p.RegisterDriver(drv); err != nil {
			return err
		}
	}
	return nil
}

// AfterInit starts the drivers inside the event loop.
func (p *Plugin) AfterInit() error {
	var err error
	if callErr := p.Loop.Call(context.Background(), func() { err = p.Start() }); callErr != nil {
		return callErr
	}
	return err
}

// RegisterMetrics adds collectors to the registry shared by OSW plugins,
// creating the registry on first use.
func RegisterMetrics(prom prometheusplugin.API, log logging.Logger, collectors ...prometheus.Collector) error {
	err := prom.NewRegistry(MetricsPath,
		promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError, ErrorLog: log})
	if err != nil {
		// created by another plugin
		log.Debugf("metrics registry %s: %v", MetricsPath, err)
	}
	for _, collector := range collectors {
		if err := prom.Register(MetricsPath, collector); err != nil {
			return err
		}
	}
	return nil
}

// Close does nothing, drivers are plugins on their own.
func (p *Plugin) Close() error {
	return nil
}

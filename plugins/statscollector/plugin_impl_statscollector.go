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

package statscollector

import (
	"context"
	"sync"
	"time"

	"github.com/ligato/cn-infra/infra"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/plugins/core"
	"github.com/opensync/osw/plugins/state"
)

const (
	// path where the statistics are exposed
	prometheusStatsPath = "/osw/stats"

	metricsNamespace = "osw"
	metricsSubsystem = "sta"

	phyLabel = "phy"
	vifLabel = "vif"
	staLabel = "sta"

	rxBytesMetric   = "rx_bytes"
	txBytesMetric   = "tx_bytes"
	rxPacketsMetric = "rx_packets"
	txPacketsMetric = "tx_packets"
	signalMetric    = "signal_dbm"

	defaultPrintPeriod = 10 * time.Second
)

// Plugin collects the statistics of the associated stations and publishes
// them to prometheus.
type Plugin struct {
	Deps
	sync.Mutex

	config    *Config
	staStats  map[string]*stats
	closeCh   chan interface{}
	wg        sync.WaitGroup
	gaugeVecs map[string]*prometheus.GaugeVec
}

type stats struct {
	phyName string
	vifName string
	mac     string
	data    model.StationStats
	metrics map[string]prometheus.Gauge
}

// Deps groups the dependencies of the Plugin.
type Deps struct {
	infra.PluginDeps

	Loop core.API

	// State plugin is observed for station connects, updates and disconnects.
	State state.API

	// Prometheus plugin used to stream statistics
	Prometheus prometheusplugin.API
}

// Config holds the stats collector configuration.
type Config struct {
	// PrintPeriod is the period of the debug dump of all stats, 0 disables it.
	PrintPeriod time.Duration `json:"print-period"`
}

// Init initializes the plugin resources
func (p *Plugin) Init() error {
	p.closeCh = make(chan interface{})
	p.staStats = map[string]*stats{}
	p.gaugeVecs = map[string]*prometheus.GaugeVec{}

	p.config = &Config{PrintPeriod: defaultPrintPeriod}
	if err := p.loadConfig(p.config); err != nil {
		p.Log.Error(err)
	}

	if p.Prometheus != nil {
		// create new registry for statistics
		err := p.Prometheus.NewRegistry(prometheusStatsPath, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError, ErrorLog: p.Log})
		if err != nil {
			return err
		}

		// initialize gauge vectors for statistics
		for _, statItem := range [][2]string{
			{rxBytesMetric, "Number of bytes received from the station"},
			{txBytesMetric, "Number of bytes transmitted to the station"},
			{rxPacketsMetric, "Number of packets received from the station"},
			{txPacketsMetric, "Number of packets transmitted to the station"},
			{signalMetric, "Signal strength of the station in dBm"},
		} {
			name := statItem[0]
			help := statItem[1]

			p.gaugeVecs[name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      name,
				Help:      help,
			}, []string{phyLabel, vifLabel, staLabel})
		}

		// register created vectors to prometheus
		for name, metric := range p.gaugeVecs {
			err = p.Prometheus.Register(prometheusStatsPath, metric)
			if err != nil {
				p.Log.Errorf("failed to register %v metric %v", name, err)
				return err
			}
		}
	}

	if p.config.PrintPeriod > 0 {
		p.wg.Add(1)
		go p.PrintStats()
	}
	return nil
}

// AfterInit subscribes for station notifications of the state plugin.
func (p *Plugin) AfterInit() error {
	var err error
	callErr := p.Loop.Call(context.Background(), func() {
		err = p.State.RegisterObserver(p)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Close cleans up the plugin resources
func (p *Plugin) Close() error {
	if p.Loop != nil && p.State != nil {
		err := p.Loop.Call(context.Background(), func() {
			p.State.UnregisterObserver(p)
		})
		if err != nil && err != core.ErrClosedLoop {
			p.Log.Warnf("failed to unregister from state: %v", err)
		}
	}
	close(p.closeCh)
	p.wg.Wait()
	return nil
}

// RegisterGaugeFunc registers a gauge next to the station statistics.
func (p *Plugin) RegisterGaugeFunc(name string, help string, valueFunc func() float64) error {
	if p.Prometheus == nil {
		return nil
	}
	return p.Prometheus.RegisterGaugeFunc(prometheusStatsPath, metricsNamespace, "", name, help, nil, valueFunc)
}

// StationStats returns the last published counters of the station.
func (p *Plugin) StationStats(phyName, vifName, mac string) (model.StationStats, bool) {
	p.Lock()
	defer p.Unlock()

	entry, found := p.staStats[statsKey(phyName, vifName, mac)]
	if !found {
		return model.StationStats{}, false
	}
	return entry.data, true
}

// ObserverName identifies the plugin in the state registry.
func (p *Plugin) ObserverName() string {
	return p.String()
}

// StaConnected starts streaming statistics of the station.
func (p *Plugin) StaConnected(vif *model.Vif, sta *model.Station) {
	p.Put(vif, sta)
}

// StaChanged updates statistics of the station.
func (p *Plugin) StaChanged(vif *model.Vif, sta *model.Station) {
	p.Put(vif, sta)
}

// StaDisconnected removes the station's gauges from the stats set
// reported to Prometheus.
func (p *Plugin) StaDisconnected(vif *model.Vif, sta *model.Station) {
	p.Lock()
	defer p.Unlock()

	key := statsKey(vif.PhyName, vif.Name, sta.MAC)
	entry, exists := p.staStats[key]
	if !exists {
		return
	}
	// remove gauge with corresponding labels from each vector
	for _, vec := range p.gaugeVecs {
		vec.Delete(entry.labels())
	}
	delete(p.staStats, key)
}

// PrintStats periodically dumps stats to log
func (p *Plugin) PrintStats() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closeCh:
			return
		case <-time.After(p.config.PrintPeriod):
			p.Lock()
			for _, v := range p.staStats {
				p.Log.Debugf("%v %v %v %+v", v.phyName, v.vifName, v.mac, v.data)
			}
			p.Unlock()
		}
	}
}

// Put updates the statistics of the station.
func (p *Plugin) Put(vif *model.Vif, sta *model.Station) {
	p.Lock()
	defer p.Unlock()

	key := statsKey(vif.PhyName, vif.Name, sta.MAC)
	entry, found := p.staStats[key]
	if !found {
		entry = p.addNewEntry(vif, sta)
		p.staStats[key] = entry
	}
	entry.data = sta.Stats
	p.updatePrometheusStats(entry)
}

func (p *Plugin) addNewEntry(vif *model.Vif, sta *model.Station) *stats {
	entry := &stats{
		phyName: vif.PhyName,
		vifName: vif.Name,
		mac:     sta.MAC,
		metrics: map[string]prometheus.Gauge{},
	}

	// add gauges with corresponding labels into vectors
	for k, vec := range p.gaugeVecs {
		gauge, err := vec.GetMetricWith(entry.labels())
		if err != nil {
			p.Log.Error(err)
			continue
		}
		entry.metrics[k] = gauge
	}
	return entry
}

// updatePrometheusStats publishes the statistics of the given station into prometheus
func (p *Plugin) updatePrometheusStats(entry *stats) {
	for name, value := range map[string]float64{
		rxBytesMetric:   float64(entry.data.RxBytes),
		txBytesMetric:   float64(entry.data.TxBytes),
		rxPacketsMetric: float64(entry.data.RxPackets),
		txPacketsMetric: float64(entry.data.TxPackets),
		signalMetric:    float64(entry.data.SignalDBm),
	} {
		if gauge, found := entry.metrics[name]; found && gauge != nil {
			gauge.Set(value)
		}
	}
}

func (s *stats) labels() prometheus.Labels {
	return prometheus.Labels{
		phyLabel: s.phyName,
		vifLabel: s.vifName,
		staLabel: s.mac,
	}
}

func statsKey(phyName, vifName, mac string) string {
	return model.VifKey(phyName, vifName) + "/" + mac
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

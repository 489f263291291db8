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
	"github.com/prometheus/client_golang/prometheus"
)

const (
	stateLabel  = "state"
	deviceLabel = "device"
)

type metrics struct {
	state    *prometheus.GaugeVec
	attempts *prometheus.CounterVec
	steps    *prometheus.GaugeVec
}

func newMetrics() *metrics {
	m := &metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "osw",
			Subsystem: "confsync",
			Name:      "state",
			Help:      "Current state of the confsync engine (1 for the active state)",
		}, []string{stateLabel}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osw",
			Subsystem: "confsync",
			Name:      "attempts_total",
			Help:      "Number of configuration requests per phy or vif",
		}, []string{deviceLabel}),
		steps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "osw",
			Subsystem: "confsync",
			Name:      "retry_step",
			Help:      "Retry backoff step per phy or vif, 0 when converged",
		}, []string{deviceLabel}),
	}
	m.setState(Idle)
	return m
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.state, m.attempts, m.steps}
}

func (m *metrics) setState(s State) {
	if m == nil {
		return
	}
	for st := range stateNames {
		value := 0.0
		if st == s {
			value = 1
		}
		m.state.WithLabelValues(st.String()).Set(value)
	}
}

func (m *metrics) attempt(device string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(device).Inc()
}

func (m *metrics) step(device string, step int) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(device).Set(float64(step))
}

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

package state

import (
	"net/http"

	"github.com/unrolled/render"

	"github.com/opensync/osw/pkg/model"
)

const (
	// TreeURL is the URL of the live state dump.
	TreeURL = "/osw/state/tree"
)

// errorString wraps string representation of an error that, unlike the original
// error, can be marshalled.
type errorString struct {
	Error string
}

// Dump is the JSON representation of the live state.
type Dump struct {
	Settled  bool                        `json:"settled"`
	Phys     *model.PhyTree              `json:"phys"`
	Stations map[string][]*model.Station `json:"stations,omitempty"` // by vif key
}

// Dump returns a snapshot of the whole live state.
func (r *Registry) Dump() *Dump {
	dump := &Dump{
		Settled:  r.IsSettled(),
		Phys:     r.LiveTree(),
		Stations: make(map[string][]*model.Station),
	}
	for _, phy := range dump.Phys.Phys() {
		for _, vif := range phy.Vifs() {
			var stations []*model.Station
			for _, sta := range r.Stations(phy.Name, vif.Name) {
				copied := *sta
				stations = append(stations, &copied)
			}
			if len(stations) > 0 {
				dump.Stations[model.VifKey(phy.Name, vif.Name)] = stations
			}
		}
	}
	return dump
}

func (p *Plugin) registerHandlers() {
	if p.HTTPHandlers == nil || p.Loop == nil {
		p.Log.Warn("No http handler provided, skipping registration of state REST handlers")
		return
	}
	p.HTTPHandlers.RegisterHTTPHandler(TreeURL, p.treeGetHandler, "GET")
	p.Log.Infof("State REST handler registered: GET %v", TreeURL)
}

func (p *Plugin) treeGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var dump *Dump
		err := p.Loop.Call(req.Context(), func() { dump = p.Registry.Dump() })
		if err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, dump)
	}
}

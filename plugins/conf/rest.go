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
	"net/http"

	"github.com/unrolled/render"

	"github.com/opensync/osw/pkg/model"
)

const (
	urlPrefix = "/osw/conf/"

	// TreeURL is the URL of the desired tree as it would be built now.
	TreeURL = urlPrefix + "tree"

	// ReloadURL is the URL used to re-read the desired configuration file.
	ReloadURL = urlPrefix + "reload"
)

// errorString wraps string representation of an error that, unlike the original
// error, can be marshalled.
type errorString struct {
	Error string
}

type treeDump struct {
	Mutators []string       `json:"mutators"`
	Phys     *model.PhyTree `json:"phys"`
}

func (p *Plugin) registerHandlers() {
	if p.HTTPHandlers == nil {
		p.Log.Warn("No http handler provided, skipping registration of conf REST handlers")
		return
	}
	p.HTTPHandlers.RegisterHTTPHandler(TreeURL, p.treeGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(ReloadURL, p.reloadHandler, "POST")
}

func (p *Plugin) treeGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		dump := &treeDump{}
		err := p.Loop.Call(req.Context(), func() {
			dump.Mutators = p.Mutators()
			dump.Phys = p.Build()
		})
		if err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, dump)
	}
}

func (p *Plugin) reloadHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := p.ReloadFile(req.Context()); err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, "Desired configuration was reloaded.")
	}
}

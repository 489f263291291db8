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
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"

	"github.com/opensync/osw/plugins/core"
)

// Plugin keeps the live phy/vif/station state reported by the drivers.
type Plugin struct {
	Deps
	*Registry
}

// Deps lists dependencies of the state plugin.
type Deps struct {
	infra.PluginDeps

	Loop         core.API
	HTTPHandlers rest.HTTPHandlers
}

// Init creates an empty registry.
func (p *Plugin) Init() error {
	p.Registry = NewRegistry(p.Log)
	return nil
}

// AfterInit registers REST handlers.
func (p *Plugin) AfterInit() error {
	p.registerHandlers()
	return nil
}

// Close does nothing.
func (p *Plugin) Close() error {
	return nil
}

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

package main

import (
	"github.com/ligato/cn-infra/agent"
	"github.com/ligato/cn-infra/health/probe"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/namsral/flag"

	"github.com/opensync/osw/plugins/conf"
	"github.com/opensync/osw/plugins/confsync"
	"github.com/opensync/osw/plugins/drv/dummy"
	"github.com/opensync/osw/plugins/drv/nl80211"
	"github.com/opensync/osw/plugins/mux"
	"github.com/opensync/osw/plugins/statscollector"
)

var (
	useDummy   = flag.Bool("dummy", false, "Run the dummy radio driver")
	useNl80211 = flag.Bool("nl80211", true, "Run the nl80211 radio driver")
)

func main() {
	flag.Parse()

	// drivers must precede the mux, which registers them in its Init
	plugins := []infra.Plugin{&probe.DefaultPlugin}
	if *useDummy {
		plugins = append(plugins, &dummy.DefaultPlugin)
		mux.DefaultPlugin.Drivers = append(mux.DefaultPlugin.Drivers, &dummy.DefaultPlugin)
	}
	if *useNl80211 {
		plugins = append(plugins, &nl80211.DefaultPlugin)
		mux.DefaultPlugin.Drivers = append(mux.DefaultPlugin.Drivers, &nl80211.DefaultPlugin)
	}
	plugins = append(plugins,
		&mux.DefaultPlugin,
		&conf.DefaultPlugin,
		&confsync.DefaultPlugin,
		&statscollector.DefaultPlugin,
	)

	a := agent.NewAgent(agent.AllPlugins(plugins...))
	if err := a.Run(); err != nil {
		logrus.DefaultLogger().Fatal(err)
	}
}

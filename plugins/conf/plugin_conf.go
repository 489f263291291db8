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
	"context"
	"os"

	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"

	"github.com/opensync/osw/plugins/core"
	"github.com/opensync/osw/plugins/state"
)

// MutatorOrderingEnv overrides the mutator ordering from the configuration.
const MutatorOrderingEnv = "OSW_CONF_MUTATOR_ORDERING"

// Plugin builds the desired configuration out of the live state and the
// registered mutators.
type Plugin struct {
	Deps
	*Builder

	config *Config
	file   *FileMutator
}

// Deps lists dependencies of the conf plugin.
type Deps struct {
	infra.PluginDeps

	Loop         core.API
	State        state.API
	HTTPHandlers rest.HTTPHandlers
}

// Config holds the conf plugin configuration.
type Config struct {
	// MutatorOrdering is a comma separated list of mutator names.
	MutatorOrdering string `json:"mutator-ordering"`

	// DesiredConfigFile is a YAML file applied by the "file" mutator.
	DesiredConfigFile string `json:"desired-config-file"`
}

// Init creates the builder and registers the file mutator.
func (p *Plugin) Init() error {
	p.config = &Config{}
	if err := p.loadConfig(p.config); err != nil {
		return err
	}
	if ordering, ok := os.LookupEnv(MutatorOrderingEnv); ok {
		p.config.MutatorOrdering = ordering
	}
	p.Log.Infof("Conf configuration: %+v", *p.config)

	p.Builder = NewBuilder(p.Log, p.State.LiveTree)
	if p.config.MutatorOrdering != "" {
		p.Builder.SetMutatorOrdering(p.config.MutatorOrdering)
	}

	p.file = NewFileMutator(p.Log.NewLogger("file"))
	if p.config.DesiredConfigFile != "" {
		desired, err := LoadDesiredConfig(p.config.DesiredConfigFile)
		if err != nil {
			return err
		}
		p.file.Set(desired)
	}
	return p.Builder.RegisterMutator(FileMutatorName, Tail, p.file.Mutate)
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

// ReloadFile re-reads the desired configuration file and invalidates the
// desired tree. Must be called outside of the event loop.
func (p *Plugin) ReloadFile(ctx context.Context) error {
	var desired *DesiredConfig
	if p.config.DesiredConfigFile != "" {
		var err error
		desired, err = LoadDesiredConfig(p.config.DesiredConfigFile)
		if err != nil {
			return err
		}
	}
	return p.Loop.Call(ctx, func() {
		p.file.Set(desired)
		p.Invalidate()
	})
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

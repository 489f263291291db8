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
	"time"
)

const (
	defaultRetryMin      = 2 * time.Second
	defaultRetryMax      = 30 * time.Second
	defaultRunTimeout    = 30 * time.Second
	defaultCancelTimeout = 5 * time.Second
	defaultDeferGrace    = 10 * time.Second
	defaultHistorySize   = 256

	defaultWatchdogMaxNotSettled = 3 * time.Minute
	defaultWatchdogWindow        = 5 * time.Minute
	defaultWatchdogThreshold     = 0.75
)

// Config holds the confsync configuration.
type Config struct {
	// bounds of the per-device retry backoff
	RetryMin time.Duration `json:"retry-min"`
	RetryMax time.Duration `json:"retry-max"`

	// RunTimeout cancels a request that did not finish in time.
	RunTimeout time.Duration `json:"run-timeout"`
	// CancelTimeout force-completes a cancelled request.
	CancelTimeout time.Duration `json:"cancel-timeout"`

	// DeferGrace is how long a vif being enabled is given to come up.
	DeferGrace time.Duration `json:"defer-grace"`

	HistorySize int `json:"history-size"`

	Watchdog WatchdogConfig `json:"watchdog"`
}

// WatchdogConfig holds the thresholds of the settle watchdog.
type WatchdogConfig struct {
	Disabled bool `json:"disabled"`

	// MaxNotSettled is the longest time the engine may stay unsettled.
	MaxNotSettled time.Duration `json:"max-not-settled"`

	// Threshold is the highest tolerated fraction of Window spent unsettled.
	Window    time.Duration `json:"window"`
	Threshold float64       `json:"threshold"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		RetryMin:      defaultRetryMin,
		RetryMax:      defaultRetryMax,
		RunTimeout:    defaultRunTimeout,
		CancelTimeout: defaultCancelTimeout,
		DeferGrace:    defaultDeferGrace,
		HistorySize:   defaultHistorySize,
		Watchdog: WatchdogConfig{
			MaxNotSettled: defaultWatchdogMaxNotSettled,
			Window:        defaultWatchdogWindow,
			Threshold:     defaultWatchdogThreshold,
		},
	}
}

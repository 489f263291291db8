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

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/timer"
)

var (
	// ErrNotSettled is reported when the engine did not settle in time.
	ErrNotSettled = errors.New("confsync did not settle")
	// ErrFlickering is reported when the engine spends most of its time unsettled.
	ErrFlickering = errors.New("confsync was unsettled for most of the time")
)

// FatalFn is called when the watchdog detects a configuration that
// cannot be applied or keeps flickering.
type FatalFn func(err error)

type settleInterval struct {
	unsettled bool
	duration  int64
}

// Watchdog observes how long the engine takes to settle. The engine is
// considered settled when IDLE and unsettled when WAITING.
type Watchdog struct {
	log     logging.Logger
	timers  *timer.Core
	config  WatchdogConfig
	fatalFn FatalFn

	engine     *Engine
	handle     *ChangedFnHandle
	notSettled *timer.Timer

	settled   bool
	lastEvent int64
	intervals []settleInterval // newest first
}

// NewWatchdog creates a watchdog. Attach it to an engine to start it.
func NewWatchdog(log logging.Logger, timers *timer.Core, config WatchdogConfig, fatalFn FatalFn) *Watchdog {
	w := &Watchdog{
		log:       log,
		timers:    timers,
		config:    config,
		fatalFn:   fatalFn,
		settled:   true,
		lastEvent: timers.Now(),
	}
	w.notSettled = timers.NewTimer("confsync-watchdog", func(*timer.Timer) {
		w.fatal(errors.Wrapf(ErrNotSettled, "not settled for %v", w.config.MaxNotSettled))
	})
	return w
}

// Attach starts observing the engine.
func (w *Watchdog) Attach(e *Engine) {
	w.engine = e
	w.handle = e.RegisterChangedFn("watchdog", w.changed)
}

// Detach stops observing the engine.
func (w *Watchdog) Detach() {
	if w.engine == nil {
		return
	}
	_ = w.engine.UnregisterChangedFn(w.handle)
	w.notSettled.Disarm()
	w.engine = nil
}

// IsSettled returns the settledness as seen by the watchdog.
func (w *Watchdog) IsSettled() bool {
	return w.settled
}

func (w *Watchdog) changed(s State) {
	var settled bool
	switch s {
	case Idle:
		settled = true
	case Waiting:
		settled = false
	default:
		return
	}
	if settled == w.settled {
		return
	}
	w.settled = settled

	if settled {
		if w.notSettled.IsArmed() {
			elapsed := w.config.MaxNotSettled - w.notSettled.Remaining()
			w.log.Debugf("confsync watchdog: settled after %v", elapsed)
			w.notSettled.Disarm()
		}
	} else if !w.notSettled.IsArmed() && w.config.MaxNotSettled > 0 {
		w.notSettled.ArmIn(w.config.MaxNotSettled)
	}
	w.record()
}

// record closes the interval that just ended.
func (w *Watchdog) record() {
	now := w.timers.Now()
	interval := settleInterval{
		unsettled: w.settled, // the interval that ended is the opposite state
		duration:  now - w.lastEvent,
	}
	w.lastEvent = now
	w.intervals = append([]settleInterval{interval}, w.intervals...)

	w.checkThreshold()
	w.removeOld()
}

func (w *Watchdog) checkThreshold() {
	if len(w.intervals) == 0 || !w.intervals[0].unsettled {
		return
	}
	var total, unsettled int64
	for _, interval := range w.intervals {
		total += interval.duration
		if interval.unsettled {
			unsettled += interval.duration
		}
	}
	if total < int64(w.config.Window) {
		return
	}
	if float64(unsettled)/float64(total) > w.config.Threshold {
		w.fatal(errors.Wrapf(ErrFlickering, "unsettled more than %.0f%% of the last %v",
			w.config.Threshold*100, w.config.Window))
	}
}

// removeOld drops intervals beyond the observed window.
func (w *Watchdog) removeOld() {
	var sum int64
	for i, interval := range w.intervals {
		sum += interval.duration
		if sum > int64(w.config.Window) {
			w.intervals = w.intervals[:i]
			return
		}
	}
}

func (w *Watchdog) fatal(err error) {
	w.log.Warnf("confsync watchdog: %v", err)
	if w.fatalFn != nil {
		w.fatalFn(err)
	}
}

// unsettledFor returns how long the engine has been unsettled.
func (w *Watchdog) unsettledFor() time.Duration {
	if w.settled {
		return 0
	}
	return time.Duration(w.timers.Now() - w.lastEvent)
}

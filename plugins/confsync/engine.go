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

// Package confsync drives the live radio configuration towards the desired
// configuration.
//
// The engine is a state machine:
//
//   IDLE -> REQUESTING -> WAITING -> VERIFYING -> IDLE
//                ^                        |
//                +------------------------+
//
// In REQUESTING the desired tree is built and compared with the live state.
// Devices (phys and vifs) that differ are marked as changed and passed to
// the mux as one request task, which is executed by the engine run-queue
// (WAITING). Once the queue drains, the live state is compared again
// (VERIFYING). Devices that still differ are retried after a randomized
// exponential backoff, each on its own schedule. There is no retry limit.
package confsync

import (
	"sort"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/backoff"
	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/rq"
	"github.com/opensync/osw/pkg/timer"
	"github.com/opensync/osw/plugins/conf"
	"github.com/opensync/osw/plugins/state"
)

// ErrInvalidHandle is returned when unregistering a changed fn twice.
var ErrInvalidHandle = errors.New("invalid changed fn handle")

// State of the engine.
type State int

const (
	// Idle means that live matched desired when last compared.
	Idle State = iota
	// Requesting means that a diff was found and a request is being built
	// or waits for a device backoff to elapse.
	Requesting
	// Waiting means that the request was submitted to drivers.
	Waiting
	// Verifying means that the request finished and the live state is
	// compared again.
	Verifying
)

var stateNames = map[State]string{
	Idle:       "idle",
	Requesting: "requesting",
	Waiting:    "waiting",
	Verifying:  "verifying",
}

func (s State) String() string {
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LiveState is the part of the state registry used by the engine.
type LiveState interface {
	RegisterObserver(o state.Observer) error
	UnregisterObserver(o state.Observer) error
	LiveTree() *model.PhyTree
}

// DesiredConf is the part of the conf builder used by the engine.
type DesiredConf interface {
	Build() *model.PhyTree
	RegisterObserver(o conf.Observer) error
	UnregisterObserver(o conf.Observer) error
}

// Requester turns a configuration into a task. Only phys and vifs
// marked as changed have to be applied.
type Requester interface {
	RequestConfig(tree *model.PhyTree) (*rq.Task, error)
}

// ChangedFn is called with the state the engine entered.
type ChangedFn func(s State)

// ChangedFnHandle identifies a registered ChangedFn.
type ChangedFnHandle struct {
	name string
	fn   ChangedFn
}

// Name returns the name given at registration.
func (h *ChangedFnHandle) Name() string {
	return h.name
}

// device tracks the retry schedule of one phy or vif.
type device struct {
	key      string
	attempts uint64
	step     int
	nextAt   int64 // 0 = may be requested right away
	reasons  []string

	deferTimer   *timer.Timer
	deferExpired bool
}

// Attempt is the retry status of one device.
type Attempt struct {
	Device    string        `json:"device"`
	Attempts  uint64        `json:"attempts"`
	Step      int           `json:"step"`
	NextRetry time.Duration `json:"next_retry,omitempty"`
	Deferred  bool          `json:"deferred,omitempty"`
	Diff      []string      `json:"diff,omitempty"`
}

// Engine is the configuration synchronization engine. All methods must be
// called from the event loop owning the timer core.
type Engine struct {
	// Jitter is the random source of the retry backoff.
	Jitter backoff.Source

	log       logging.Logger
	config    *Config
	timers    *timer.Core
	live      LiveState
	desired   DesiredConf
	requester Requester
	metrics   *metrics
	history   *history

	state      State
	started    bool
	queue      *rq.Queue
	workTimer  *timer.Timer
	retryTimer *timer.Timer
	devices    map[string]*device
	attempted  []string
	mutated    bool // desired changed while a request was running
	changedFns []*ChangedFnHandle

	stateObserver *state.Funcs
	confObserver  *conf.ObserverFunc
}

// NewEngine creates an idle engine. Call Start to subscribe to changes.
func NewEngine(log logging.Logger, timers *timer.Core, live LiveState, desired DesiredConf,
	requester Requester, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Engine{
		Jitter:    backoff.DefaultSource,
		log:       log,
		config:    config,
		timers:    timers,
		live:      live,
		desired:   desired,
		requester: requester,
		history:   newHistory(config.HistorySize),
		devices:   make(map[string]*device),
	}
	e.queue = rq.New("confsync", timers)
	e.queue.EmptyFn = e.queueEmpty
	e.workTimer = timers.NewTimer("confsync-work", func(*timer.Timer) { e.work() })
	e.retryTimer = timers.NewTimer("confsync-retry", func(*timer.Timer) { e.trigger("retry") })

	e.stateObserver = &state.Funcs{
		Name:         "confsync",
		PhyAddedFn:   func(phy *model.Phy) { e.trigger("phy added: " + phy.Name) },
		PhyRemovedFn: func(phy *model.Phy) { e.trigger("phy removed: " + phy.Name) },
		PhyChangedFn: func(phy *model.Phy) { e.trigger("phy changed: " + phy.Name) },
		VifAddedFn: func(vif *model.Vif) {
			e.vifReported(vif)
			e.trigger("vif added: " + vif.Name)
		},
		VifRemovedFn: func(vif *model.Vif) {
			e.undefer(model.VifKey(vif.PhyName, vif.Name))
			e.trigger("vif removed: " + vif.Name)
		},
		VifChangedFn: func(vif *model.Vif) {
			e.vifReported(vif)
			e.trigger("vif changed: " + vif.Name)
		},
	}
	e.confObserver = &conf.ObserverFunc{
		Name: "confsync",
		Fn:   e.confMutated,
	}
	return e
}

// Start subscribes the engine to live state and desired configuration
// changes. The initial replay of the live state starts the first cycle.
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	if err := e.desired.RegisterObserver(e.confObserver); err != nil {
		return errors.Wrap(err, "failed to observe desired configuration")
	}
	if err := e.live.RegisterObserver(e.stateObserver); err != nil {
		_ = e.desired.UnregisterObserver(e.confObserver)
		return errors.Wrap(err, "failed to observe live state")
	}
	e.started = true
	e.log.Info("confsync started")
	return nil
}

// Stop unsubscribes the engine, kills outstanding requests and returns
// to IDLE. The engine may be started again.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false
	e.workTimer.Disarm()
	e.retryTimer.Disarm()
	for _, dev := range e.devices {
		if dev.deferTimer != nil {
			dev.deferTimer.Disarm()
		}
	}
	e.queue.Kill()
	_ = e.live.UnregisterObserver(e.stateObserver)
	_ = e.desired.UnregisterObserver(e.confObserver)

	// a later Start begins from scratch
	e.attempted = nil
	e.mutated = false
	e.setState(Idle, "stopped")
	e.log.Info("confsync stopped")
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// IsSettled returns true when the engine is idle.
func (e *Engine) IsSettled() bool {
	return e.state == Idle
}

// RegisterChangedFn adds fn to the functions notified about state
// transitions. fn is called with the current state before this returns.
func (e *Engine) RegisterChangedFn(name string, fn ChangedFn) *ChangedFnHandle {
	h := &ChangedFnHandle{name: name, fn: fn}
	e.changedFns = append(e.changedFns, h)
	fn(e.state)
	return h
}

// UnregisterChangedFn removes a function added by RegisterChangedFn.
func (e *Engine) UnregisterChangedFn(h *ChangedFnHandle) error {
	for i, registered := range e.changedFns {
		if registered == h {
			e.changedFns = append(e.changedFns[:i:i], e.changedFns[i+1:]...)
			return nil
		}
	}
	return ErrInvalidHandle
}

// Cancel cancels the request of the current cycle. Applied changes are
// not reverted. The engine re-compares desired and live once the
// cancelled tasks finish.
func (e *Engine) Cancel() {
	if e.queue.IsEmpty() {
		return
	}
	e.log.Infof("cancelling %d running and %d pending tasks", e.queue.RunningLen(), e.queue.PendingLen())
	e.queue.Cancel()
}

// Attempts returns the retry status of all devices that were requested
// or still differ, ordered by key.
func (e *Engine) Attempts() []*Attempt {
	now := e.timers.Now()
	var attempts []*Attempt
	for _, dev := range e.devices {
		a := &Attempt{
			Device:   dev.key,
			Attempts: dev.attempts,
			Step:     dev.step,
			Deferred: dev.deferTimer != nil && dev.deferTimer.IsArmed(),
			Diff:     append([]string(nil), dev.reasons...),
		}
		if dev.nextAt > now {
			a.NextRetry = time.Duration(dev.nextAt - now)
		}
		attempts = append(attempts, a)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Device < attempts[j].Device })
	return attempts
}

// History returns the recorded state transitions, oldest first.
func (e *Engine) History() []*Transition {
	return e.history.records()
}

// trigger reacts to an event which may cause desired and live to differ.
func (e *Engine) trigger(reason string) {
	switch e.state {
	case Idle:
		e.log.Debugf("confsync triggered: %s", reason)
		e.setState(Requesting, reason)
		e.armWork()
	case Requesting:
		e.armWork()
	default:
		// folded into the comparison done in VERIFYING
		e.log.Debugf("confsync %s, postponing: %s", e.state, reason)
	}
}

func (e *Engine) confMutated() {
	if e.state == Waiting || e.state == Verifying {
		e.mutated = true
	}
	e.trigger("conf mutated")
}

func (e *Engine) armWork() {
	e.workTimer.ArmAt(e.timers.Now())
}

func (e *Engine) setState(s State, reason string) {
	if e.state == s {
		return
	}
	from := e.state
	e.state = s
	e.history.add(from, s, reason)
	e.metrics.setState(s)

	switch s {
	case Idle:
		e.log.Info("confsync settled")
	case Waiting:
		e.log.Info("confsync unsettled")
	}
	e.log.Debugf("confsync state: %s -> %s (%s)", from, s, reason)

	fns := append([]*ChangedFnHandle(nil), e.changedFns...)
	for _, h := range fns {
		h.fn(s)
	}
}

func (e *Engine) queueEmpty(*rq.Queue) {
	if !e.started || e.state != Waiting {
		return
	}
	e.setState(Verifying, "request finished")
	e.armWork()
}

func (e *Engine) device(key string) *device {
	dev := e.devices[key]
	if dev == nil {
		dev = &device{key: key}
		e.devices[key] = dev
	}
	return dev
}

// work compares desired and live, accounts the finished request and
// submits a new request for the devices that may be retried.
func (e *Engine) work() {
	if !e.started || (e.state != Requesting && e.state != Verifying) {
		return
	}
	now := e.timers.Now()
	desired := e.desired.Build()
	live := e.live.LiveTree()
	diff := DiffTrees(desired, live)
	e.log.Debugf("confsync %s: diff=%s", e.state, diff)

	// account the previous request, unless it was outdated by a mutation
	for _, key := range e.attempted {
		dev := e.device(key)
		if !diff.Has(key) || e.isDeferred(dev) || e.mutated {
			continue
		}
		e.failed(dev, now)
	}
	e.attempted = nil
	e.mutated = false

	for key, dev := range e.devices {
		if !diff.Has(key) {
			e.converged(dev)
			continue
		}
		dev.reasons = diff.Reasons[key]
		if dev.deferExpired {
			dev.deferExpired = false
			e.failed(dev, now)
		}
	}

	var eligible []string
	var retryAt int64
	for _, key := range diff.Keys {
		dev := e.device(key)
		dev.reasons = diff.Reasons[key]
		waitUntil := dev.nextAt
		if e.isDeferred(dev) {
			waitUntil = dev.deferTimer.At()
		}
		if waitUntil > now {
			if retryAt == 0 || waitUntil < retryAt {
				retryAt = waitUntil
			}
			continue
		}
		eligible = append(eligible, key)
	}

	if len(eligible) == 0 {
		if diff.IsEmpty() {
			e.retryTimer.Disarm()
			e.setState(Idle, "no diff")
			return
		}
		e.setState(Requesting, "waiting for retry")
		e.retryTimer.ArmAt(retryAt)
		e.log.Infof("confsync retry in %v: devices=%v", time.Duration(retryAt-now), diff.Keys)
		return
	}
	e.setState(Requesting, "diff found")
	e.request(desired, live, eligible, now)
}

// request submits the eligible devices of the desired tree.
func (e *Engine) request(desired, live *model.PhyTree, eligible []string, now int64) {
	for _, key := range eligible {
		phyName, vifName := splitKey(key)
		phy := desired.Phy(phyName)
		if phy == nil {
			continue
		}
		phy.Changed = true
		if vif := phy.Vif(vifName); vif != nil {
			vif.Changed = true
		}
	}

	task, err := e.requester.RequestConfig(desired)
	if err != nil {
		e.log.Warnf("confsync request failed: %v", err)
		var retryAt int64
		for _, key := range eligible {
			dev := e.device(key)
			dev.attempts++
			e.metrics.attempt(key)
			e.failed(dev, now)
			if retryAt == 0 || dev.nextAt < retryAt {
				retryAt = dev.nextAt
			}
		}
		e.retryTimer.ArmAt(retryAt)
		return
	}

	for _, key := range eligible {
		dev := e.device(key)
		dev.attempts++
		e.metrics.attempt(key)
		e.log.Debugf("confsync requesting %s (attempt %d): %v", key, dev.attempts, dev.reasons)
		e.maybeDefer(dev, desired, live)
	}
	e.attempted = eligible
	e.retryTimer.Disarm()

	task.RunTimeout = e.config.RunTimeout
	task.CancelTimeout = e.config.CancelTimeout

	// keep the task from completing before the state is updated
	e.queue.Stop()
	if err := e.queue.Add(task); err != nil {
		e.queue.Resume()
		e.log.Errorf("confsync failed to queue the request: %v", err)
		e.armWork()
		return
	}
	e.setState(Waiting, "request submitted")
	e.queue.Resume()
}

// failed schedules the next attempt of a device that did not converge.
func (e *Engine) failed(dev *device, now int64) {
	delay := backoff.Duration(dev.step, e.config.RetryMin, e.config.RetryMax, e.Jitter)
	if dev.step < backoff.MaxStep {
		dev.step++
	}
	dev.nextAt = now + int64(delay)
	e.metrics.step(dev.key, dev.step)
	e.log.Infof("confsync %s did not converge (%v), retry in %v", dev.key, dev.reasons, delay)
}

func (e *Engine) converged(dev *device) {
	if dev.step != 0 || dev.nextAt != 0 {
		e.log.Debugf("confsync %s converged after %d attempts", dev.key, dev.attempts)
	}
	dev.step = 0
	dev.nextAt = 0
	dev.reasons = nil
	dev.deferExpired = false
	e.metrics.step(dev.key, 0)
	e.undefer(dev.key)
}

func splitKey(key string) (phyName, vifName string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

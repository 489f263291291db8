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

package core

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/timer"
)

const (
	// by default, up to 1000 functions can wait in each queue
	defaultEventQueueSize = 1000

	// by default, functions running longer than 100ms are reported
	defaultSlowEventThreshold = 100 * time.Millisecond
)

var (
	// ErrClosedLoop is returned when the Loop is used after it was closed.
	ErrClosedLoop = errors.New("event loop was closed")
	// ErrEventQueueFull is returned when the queue for posted functions is full.
	ErrEventQueueFull = errors.New("queue with events is full")
	// ErrDeadlock is returned when Call is used from within the loop.
	ErrDeadlock = errors.New("deadlock detected - blocking call from within the event loop")
)

// Loop implements the single event loop of the OSW agent.
//
// The loop executes functions posted by other plugins and goroutines one at
// a time, and after each of them (or when the earliest armed timer expires)
// it dispatches the timer core. Everything that runs inside the loop runs
// sequentially, which is what allows the rest of the OSW stack to be written
// without locks.
type Loop struct {
	Deps

	config *Config
	timers *timer.Core

	evLoopGID          atomic.Value // ID of the go routine running the event loop
	eventQueue         chan *queuedCall
	followUpEventQueue chan *queuedCall // functions posted from within the loop

	startOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// Deps lists dependencies of the Loop.
type Deps struct {
	infra.PluginDeps

	StatusCheck statuscheck.PluginStatusWriter

	// Clock overrides the monotonic clock (used by tests).
	Clock timer.Clock
}

// Config holds the Loop configuration.
type Config struct {
	EventQueueSize     int           `json:"event-queue-size"`
	SlowEventThreshold time.Duration `json:"slow-event-threshold"`
}

type queuedCall struct {
	fn     func()
	result chan error // nil for posted (non-blocking) calls
}

func (qc *queuedCall) done(err error) {
	if qc.result != nil {
		qc.result <- err
	}
}

// Init loads the configuration and prepares the timer core. Functions
// posted before AfterInit are executed once the loop starts.
func (l *Loop) Init() error {
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.evLoopGID.Store("")

	// default configuration
	l.config = &Config{
		EventQueueSize:     defaultEventQueueSize,
		SlowEventThreshold: defaultSlowEventThreshold,
	}
	if err := l.loadConfig(l.config); err != nil {
		l.Log.Error(err)
	}
	l.Log.Infof("Event loop configuration: %+v", *l.config)

	l.timers = timer.NewCore(l.Clock)
	l.eventQueue = make(chan *queuedCall, l.config.EventQueueSize)
	l.followUpEventQueue = make(chan *queuedCall, l.config.EventQueueSize)

	if l.StatusCheck != nil {
		l.StatusCheck.Register(l.PluginName, nil)
	}
	return nil
}

// AfterInit starts the event loop.
func (l *Loop) AfterInit() error {
	l.Start()
	return nil
}

// Start starts the event loop go routine (idempotent).
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.eventLoop()
	})
}

// Close stops the event loop.
func (l *Loop) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	return nil
}

// Timers returns the timer core dispatched by the loop.
func (l *Loop) Timers() *timer.Core {
	return l.timers
}

// Now returns the current time of the loop clock.
func (l *Loop) Now() int64 {
	return l.timers.Now()
}

// IsLoopGoroutine returns true if the caller runs inside the loop.
func (l *Loop) IsLoopGoroutine() bool {
	gid, _ := l.evLoopGID.Load().(string)
	return gid != "" && gid == getGID()
}

// Post queues fn for execution inside the loop.
func (l *Loop) Post(fn func()) error {
	if l.ctx.Err() != nil {
		return ErrClosedLoop
	}
	queue := l.eventQueue
	if l.IsLoopGoroutine() {
		// follow-up functions won't be overtaken by functions from the outside
		queue = l.followUpEventQueue
	}

	select {
	case <-l.ctx.Done():
		return ErrClosedLoop
	case queue <- &queuedCall{fn: fn}:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Call executes fn inside the loop and waits until it returns.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if l.IsLoopGoroutine() {
		return ErrDeadlock
	}
	if l.ctx.Err() != nil {
		return ErrClosedLoop
	}

	qc := &queuedCall{fn: fn, result: make(chan error, 1)}
	select {
	case <-l.ctx.Done():
		return ErrClosedLoop
	case <-ctx.Done():
		return ctx.Err()
	case l.eventQueue <- qc:
	}

	select {
	case <-l.ctx.Done():
		return ErrClosedLoop
	case <-ctx.Done():
		return ctx.Err()
	case err := <-qc.result:
		return err
	}
}

// eventLoop implements the main event loop of the agent.
func (l *Loop) eventLoop() {
	defer l.wg.Done()
	l.evLoopGID.Store(getGID())

	wakeup := time.NewTimer(time.Hour)
	stopTimer(wakeup)

	for {
		if next, armed := l.timers.NextAt(); armed {
			delay := time.Duration(next - l.timers.Now())
			if delay < 0 {
				delay = 0
			}
			wakeup.Reset(delay)
		}

		select {
		case <-l.ctx.Done():
			stopTimer(wakeup)
			return

		case qc := <-l.followUpEventQueue:
			l.execute(qc)

		case qc := <-l.eventQueue:
			l.execute(qc)

		case <-wakeup.C:
		}

		stopTimer(wakeup)
		l.dispatchTimers()
	}
}

// execute runs one queued function, recovering from panics.
func (l *Loop) execute(qc *queuedCall) {
	var err error
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in event loop: %v", r)
			l.reportError(err)
		}
		if took := time.Since(start); took > l.config.SlowEventThreshold {
			l.Log.Warnf("Event loop was blocked for %v", took)
		}
		qc.done(err)
	}()
	qc.fn()
}

// dispatchTimers fires all expired timers, recovering from panics.
func (l *Loop) dispatchTimers() {
	defer func() {
		if r := recover(); r != nil {
			l.reportError(errors.Errorf("panic in timer callback: %v", r))
		}
	}()
	l.timers.Dispatch(l.timers.Now())
}

func (l *Loop) reportError(err error) {
	l.Log.Error(err)
	if l.StatusCheck != nil {
		l.StatusCheck.ReportStateChange(l.PluginName, statuscheck.Error, err)
	}
}

// loadConfig loads configuration file.
func (l *Loop) loadConfig(config *Config) error {
	if l.Cfg == nil {
		return nil
	}
	found, err := l.Cfg.LoadValue(config)
	if err != nil {
		return err
	} else if !found {
		l.Log.Debugf("%v config not found", l.PluginName)
		return nil
	}
	l.Log.Debugf("%v config found: %+v", l.PluginName, config)
	return nil
}

// stopTimer stops the timer and drains its channel.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// getGID returns the current go routine ID as string.
func getGID() string {
	goroutineLabel := []byte("goroutine ")
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	if !bytes.HasPrefix(b, goroutineLabel) {
		return "unknown"
	}
	b = bytes.TrimPrefix(b, goroutineLabel)
	b = b[:bytes.IndexByte(b, ' ')]
	return string(b)
}

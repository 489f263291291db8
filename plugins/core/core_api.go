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
	"context"

	"github.com/opensync/osw/pkg/timer"
)

// API is the interface of the single OSW event loop.
//
// Timers, run-queues, commands and the state/conf/confsync registries are
// not thread-safe. They are only ever touched from the loop goroutine.
// Other goroutines (socket readers, REST handlers) marshal their work into
// the loop with Post or Call.
type API interface {
	// Post queues fn for execution inside the loop and returns immediately.
	// Functions posted from within the loop are prioritized over functions
	// posted from other goroutines.
	Post(fn func()) error

	// Call executes fn inside the loop and waits for it to return.
	// Must not be called from within the loop (ErrDeadlock).
	Call(ctx context.Context, fn func()) error

	// Timers returns the timer core dispatched by the loop.
	Timers() *timer.Core

	// Now returns the current monotonic time of the loop clock (nsec).
	Now() int64

	// IsLoopGoroutine returns true if called from within the loop.
	IsLoopGoroutine() bool
}

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

package backoff

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// MaxStep is the highest shift applied to the minimum backoff.
const MaxStep = strconv.IntSize - 2

// Source provides the random jitter.
type Source interface {
	// Int63n returns a non-negative pseudo-random number in [0,n).
	Int63n(n int64) int64
}

var (
	defaultSourceLock sync.Mutex
	defaultSource     = rand.New(rand.NewSource(time.Now().UnixNano()))
)

type lockedSource struct{}

func (lockedSource) Int63n(n int64) int64 {
	defaultSourceLock.Lock()
	defer defaultSourceLock.Unlock()
	return defaultSource.Int63n(n)
}

// DefaultSource is a process-wide, goroutine-safe jitter source.
var DefaultSource Source = lockedSource{}

// Time computes the randomized exponential backoff for the given step:
//
//   backoff  = min(min << step, max)
//   backoff += random in [0, backoff)
//   backoff >>= 1
//
// Step is capped at MaxStep. The result is within [backoff/2, backoff)
// and never above max.
func Time(step int, min, max int64, src Source) int64 {
	if src == nil {
		src = DefaultSource
	}
	if step < 0 {
		step = 0
	}
	if step > MaxStep {
		step = MaxStep
	}
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}

	backoff := max
	if min <= max>>uint(step) {
		backoff = min << uint(step)
	}
	backoff += src.Int63n(backoff)
	backoff >>= 1
	return backoff
}

// Duration is Time expressed with durations.
func Duration(step int, min, max time.Duration, src Source) time.Duration {
	return time.Duration(Time(step, int64(min), int64(max), src))
}

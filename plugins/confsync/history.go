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

// Transition is one recorded state change of the engine.
type Transition struct {
	SeqNum uint64    `json:"seq_num"`
	At     time.Time `json:"at"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
}

// history is a bounded log of transitions, oldest first.
type history struct {
	size    int
	seqNum  uint64
	entries []*Transition
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{size: size}
}

func (h *history) add(from, to State, reason string) {
	h.entries = append(h.entries, &Transition{
		SeqNum: h.seqNum,
		At:     time.Now(),
		From:   from,
		To:     to,
		Reason: reason,
	})
	h.seqNum++
	if len(h.entries) > h.size {
		h.entries = append(h.entries[:0:0], h.entries[len(h.entries)-h.size:]...)
	}
}

func (h *history) records() []*Transition {
	return append([]*Transition(nil), h.entries...)
}

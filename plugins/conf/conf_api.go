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
	"github.com/opensync/osw/pkg/model"
)

// Position selects where a mutator is inserted into the chain.
type Position int

const (
	// Tail appends the mutator after all registered mutators.
	Tail Position = iota
	// Head inserts the mutator before all registered mutators.
	Head
)

func (p Position) String() string {
	if p == Head {
		return "head"
	}
	return "tail"
}

// MutateFn modifies the desired tree in place.
type MutateFn func(tree *model.PhyTree)

// Observer is notified when any mutator changes its mind.
type Observer interface {
	ObserverName() string
	ConfMutated()
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc struct {
	Name string
	Fn   func()
}

// ObserverName returns o.Name.
func (o *ObserverFunc) ObserverName() string { return o.Name }

// ConfMutated calls o.Fn.
func (o *ObserverFunc) ConfMutated() { o.Fn() }

// API builds the desired configuration. All methods must be called
// from inside the event loop.
type API interface {
	// RegisterMutator adds a named mutator at the head or the tail of
	// the chain. Names must be unique.
	RegisterMutator(name string, pos Position, fn MutateFn) error

	// UnregisterMutator removes the mutator of the given name.
	UnregisterMutator(name string) error

	// SetMutatorOrdering overrides the order of the named mutators
	// (comma separated). Unnamed mutators follow in chain order.
	SetMutatorOrdering(commaSeparated string)

	// Build seeds a tree from the live state and applies all mutators.
	Build() *model.PhyTree

	// Invalidate notifies observers that the desired tree may differ.
	Invalidate()

	RegisterObserver(o Observer) error
	UnregisterObserver(o Observer) error
}

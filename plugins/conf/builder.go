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
	"strings"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
)

var (
	// ErrMutatorExists is returned when a mutator name is registered twice.
	ErrMutatorExists = errors.New("mutator is already registered")
	// ErrMutatorNotFound is returned when unregistering an unknown mutator.
	ErrMutatorNotFound = errors.New("mutator is not registered")
	// ErrObserverExists is returned when an observer is registered twice.
	ErrObserverExists = errors.New("observer is already registered")
	// ErrObserverNotFound is returned when unregistering an unknown observer.
	ErrObserverNotFound = errors.New("observer is not registered")
)

type mutator struct {
	name string
	pos  Position
	fn   MutateFn
}

// LiveTreeFn returns a snapshot of the live state.
type LiveTreeFn func() *model.PhyTree

// Builder implements API on top of a live state snapshot function.
type Builder struct {
	log  logging.Logger
	live LiveTreeFn

	mutators  []*mutator // chain order
	ordering  []string
	ordered   []*mutator // nil when the order must be recomputed
	observers []Observer
}

// NewBuilder creates a builder without mutators.
func NewBuilder(log logging.Logger, live LiveTreeFn) *Builder {
	return &Builder{log: log, live: live}
}

// RegisterMutator adds the mutator to the chain.
func (b *Builder) RegisterMutator(name string, pos Position, fn MutateFn) error {
	if b.find(name) >= 0 {
		return errors.Wrapf(ErrMutatorExists, "mutator %s", name)
	}
	b.log.Debugf("registering mutator: name=%s pos=%v", name, pos)
	m := &mutator{name: name, pos: pos, fn: fn}
	if pos == Head {
		b.mutators = append([]*mutator{m}, b.mutators...)
	} else {
		b.mutators = append(b.mutators, m)
	}
	b.invalidateOrder()
	return nil
}

// UnregisterMutator removes the mutator from the chain.
func (b *Builder) UnregisterMutator(name string) error {
	i := b.find(name)
	if i < 0 {
		return errors.Wrapf(ErrMutatorNotFound, "mutator %s", name)
	}
	b.log.Debugf("unregistering mutator: name=%s", name)
	b.mutators = append(b.mutators[:i:i], b.mutators[i+1:]...)
	b.invalidateOrder()
	return nil
}

// SetMutatorOrdering overrides the order of the named mutators.
func (b *Builder) SetMutatorOrdering(commaSeparated string) {
	b.ordering = nil
	for _, name := range strings.FieldsFunc(commaSeparated, func(r rune) bool { return r == ',' || r == ' ' }) {
		b.ordering = append(b.ordering, name)
	}
	b.invalidateOrder()
}

// Mutators returns the names of the mutators in the order they are applied.
func (b *Builder) Mutators() []string {
	var names []string
	for _, m := range b.order() {
		names = append(names, m.name)
	}
	return names
}

// Build seeds a tree from the live state and applies all mutators.
func (b *Builder) Build() *model.PhyTree {
	tree := model.NewPhyTree()
	if b.live != nil {
		tree = b.live()
	}
	for _, phy := range tree.Phys() {
		phy.Changed = false
		for _, vif := range phy.Vifs() {
			// desired enabled state is seeded from what the driver reports
			vif.Enabled = vif.Status == model.VifStatusEnabled
			vif.Changed = false
		}
	}
	for _, m := range b.order() {
		m.fn(tree)
	}
	return tree
}

// Invalidate notifies observers.
func (b *Builder) Invalidate() {
	b.log.Debug("desired configuration invalidated")
	for _, o := range append([]Observer(nil), b.observers...) {
		o.ConfMutated()
	}
}

// RegisterObserver adds an observer of mutations.
func (b *Builder) RegisterObserver(o Observer) error {
	for _, registered := range b.observers {
		if registered == o {
			return errors.Wrapf(ErrObserverExists, "observer %s", o.ObserverName())
		}
	}
	b.observers = append(b.observers, o)
	return nil
}

// UnregisterObserver removes the observer.
func (b *Builder) UnregisterObserver(o Observer) error {
	for i, registered := range b.observers {
		if registered == o {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrObserverNotFound, "observer %s", o.ObserverName())
}

func (b *Builder) find(name string) int {
	for i, m := range b.mutators {
		if m.name == name {
			return i
		}
	}
	return -1
}

func (b *Builder) invalidateOrder() {
	if b.ordered != nil {
		b.log.Debug("mutator order invalidated")
	}
	b.ordered = nil
}

// order returns mutators named by the ordering override first, the rest
// follow in chain order.
func (b *Builder) order() []*mutator {
	if b.ordered != nil {
		return b.ordered
	}
	used := make(map[*mutator]bool, len(b.mutators))
	ordered := make([]*mutator, 0, len(b.mutators))
	for _, name := range b.ordering {
		if i := b.find(name); i >= 0 && !used[b.mutators[i]] {
			ordered = append(ordered, b.mutators[i])
			used[b.mutators[i]] = true
		}
	}
	for _, m := range b.mutators {
		if !used[m] {
			ordered = append(ordered, m)
		}
	}
	for _, m := range ordered {
		b.log.Debugf("ordered mutator: %s", m.name)
	}
	b.ordered = ordered
	return ordered
}

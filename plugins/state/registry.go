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

package state

import (
	"reflect"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/opensync/osw/pkg/model"
)

var (
	// ErrObserverExists is returned when an observer is registered twice.
	ErrObserverExists = errors.New("observer is already registered")
	// ErrObserverNotFound is returned when unregistering an unknown observer.
	ErrObserverNotFound = errors.New("observer is not registered")
	// ErrUnknownPhy is returned when a vif or station is reported for
	// a phy that was not reported before.
	ErrUnknownPhy = errors.New("phy is not known")
	// ErrUnknownVif is returned when a station is reported for
	// a vif that was not reported before.
	ErrUnknownVif = errors.New("vif is not known")
)

// Reporter is used by drivers to report the live state.
type Reporter interface {
	ReportPhy(drvName string, phy *model.Phy) error
	ReportPhyGone(drvName string, phyName string) error
	ReportVif(drvName string, vif *model.Vif) error
	ReportVifGone(drvName string, phyName, vifName string) error
	ReportSta(drvName string, phyName, vifName string, sta *model.Station) error
	ReportStaGone(drvName string, phyName, vifName, mac string) error
	ReportBusy(drvName string)
	ReportIdle(drvName string)
}

// Registry holds the live state reported by drivers and notifies observers
// about changes.
type Registry struct {
	log logging.Logger

	tree      *model.PhyTree
	phyDriver map[string]string
	stations  map[string]*stationList // by vif key
	busy      map[string]bool         // drivers currently (re)loading state

	observers []Observer
}

type stationList struct {
	byMAC map[string]*model.Station
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry(log logging.Logger) *Registry {
	return &Registry{
		log:       log,
		tree:      model.NewPhyTree(),
		phyDriver: make(map[string]string),
		stations:  make(map[string]*stationList),
		busy:      make(map[string]bool),
	}
}

// RegisterObserver adds the observer and replays the current state to it:
// every phy, vif and connected station as "added", then idle/busy.
func (r *Registry) RegisterObserver(o Observer) error {
	for _, registered := range r.observers {
		if registered == o {
			return errors.Wrapf(ErrObserverExists, "observer %s", o.ObserverName())
		}
	}
	r.log.Debugf("registering state observer: name=%s", o.ObserverName())
	r.observers = append(r.observers, o)
	r.replayAdded(o)
	r.notifySettled(o)
	return nil
}

// UnregisterObserver removes the observer and replays removal of the
// current state to it.
func (r *Registry) UnregisterObserver(o Observer) error {
	for i, registered := range r.observers {
		if registered == o {
			r.log.Debugf("unregistering state observer: name=%s", o.ObserverName())
			r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
			r.replayRemoved(o)
			return nil
		}
	}
	return errors.Wrapf(ErrObserverNotFound, "observer %s", o.ObserverName())
}

// LiveTree returns a copy of the live phy/vif tree.
func (r *Registry) LiveTree() *model.PhyTree {
	return r.tree.Clone()
}

// Phy returns the live phy of the given name.
func (r *Registry) Phy(phyName string) *model.Phy {
	return r.tree.Phy(phyName)
}

// Vif returns the live vif of the given phy and name.
func (r *Registry) Vif(phyName, vifName string) *model.Vif {
	return r.tree.Vif(phyName, vifName)
}

// VifByName looks the vif up on all phys.
func (r *Registry) VifByName(vifName string) *model.Vif {
	for _, phy := range r.tree.Phys() {
		if vif := phy.Vif(vifName); vif != nil {
			return vif
		}
	}
	return nil
}

// Sta returns the station of the given vif.
func (r *Registry) Sta(phyName, vifName, mac string) *model.Station {
	if list := r.stations[model.VifKey(phyName, vifName)]; list != nil {
		return list.byMAC[mac]
	}
	return nil
}

// Stations returns all stations of the given vif in connection order.
func (r *Registry) Stations(phyName, vifName string) []*model.Station {
	list := r.stations[model.VifKey(phyName, vifName)]
	if list == nil {
		return nil
	}
	stations := make([]*model.Station, 0, len(list.order))
	for _, mac := range list.order {
		stations = append(stations, list.byMAC[mac])
	}
	return stations
}

// StaNewest returns the most recently connected instance of the station
// across all vifs.
func (r *Registry) StaNewest(mac string) *model.Station {
	var newest *model.Station
	for _, list := range r.stations {
		if sta := list.byMAC[mac]; sta != nil {
			if newest == nil || sta.ConnectedAt > newest.ConnectedAt {
				newest = sta
			}
		}
	}
	return newest
}

// PhyDriver returns the name of the driver that reported the phy.
func (r *Registry) PhyDriver(phyName string) string {
	return r.phyDriver[phyName]
}

// IsSettled returns true if no driver is (re)loading its state.
func (r *Registry) IsSettled() bool {
	return len(r.busy) == 0
}

// ReportPhy adds or updates phy attributes. Vifs of the passed phy are
// ignored, they are reported separately.
func (r *Registry) ReportPhy(drvName string, phy *model.Phy) error {
	if owner, ok := r.phyDriver[phy.Name]; ok && owner != drvName {
		return errors.Errorf("phy %s already reported by driver %s", phy.Name, owner)
	}

	cur := r.tree.Phy(phy.Name)
	if cur == nil {
		cur = model.NewPhy(phy.Name)
		copyPhyAttrs(cur, phy)
		if err := r.tree.Add(cur); err != nil {
			return err
		}
		r.phyDriver[phy.Name] = drvName
		r.log.Debugf("phy added: drv=%s phy=%s", drvName, phy.Name)
		r.forEachPhyObserver(func(o PhyObserver) { o.PhyAdded(cur) })
		return nil
	}

	if phyAttrsEqual(cur, phy) {
		return nil
	}
	copyPhyAttrs(cur, phy)
	r.log.Debugf("phy changed: drv=%s phy=%s", drvName, phy.Name)
	r.forEachPhyObserver(func(o PhyObserver) { o.PhyChanged(cur) })
	return nil
}

// ReportPhyGone removes the phy with all its vifs and stations.
func (r *Registry) ReportPhyGone(drvName string, phyName string) error {
	phy := r.tree.Phy(phyName)
	if phy == nil {
		return nil
	}
	for _, vif := range phy.Vifs() {
		if err := r.ReportVifGone(drvName, phyName, vif.Name); err != nil {
			return err
		}
	}
	r.tree.Remove(phyName)
	delete(r.phyDriver, phyName)
	r.log.Debugf("phy removed: drv=%s phy=%s", drvName, phyName)
	r.forEachPhyObserver(func(o PhyObserver) { o.PhyRemoved(phy) })
	return nil
}

// ReportVif adds or updates a vif of a known phy.
func (r *Registry) ReportVif(drvName string, vif *model.Vif) error {
	phy := r.tree.Phy(vif.PhyName)
	if phy == nil {
		return errors.Wrapf(ErrUnknownPhy, "vif %s reported on phy %s", vif.Name, vif.PhyName)
	}

	reported := vif.Clone()
	reported.Changed = false
	cur := phy.Vif(vif.Name)
	if cur == nil {
		if err := phy.AddVif(reported); err != nil {
			return err
		}
		r.log.Debugf("vif added: drv=%s phy=%s vif=%s status=%v", drvName, phy.Name, vif.Name, vif.Status)
		r.forEachVifObserver(func(o VifObserver) { o.VifAdded(reported) })
		return nil
	}

	if reflect.DeepEqual(cur, reported) {
		return nil
	}
	*cur = *reported
	r.log.Debugf("vif changed: drv=%s phy=%s vif=%s status=%v", drvName, phy.Name, vif.Name, vif.Status)
	r.forEachVifObserver(func(o VifObserver) { o.VifChanged(cur) })
	return nil
}

// ReportVifGone removes the vif and disconnects all its stations.
func (r *Registry) ReportVifGone(drvName string, phyName, vifName string) error {
	phy := r.tree.Phy(phyName)
	if phy == nil {
		return nil
	}
	vif := phy.Vif(vifName)
	if vif == nil {
		return nil
	}
	for _, sta := range r.Stations(phyName, vifName) {
		if err := r.ReportStaGone(drvName, phyName, vifName, sta.MAC); err != nil {
			return err
		}
	}
	delete(r.stations, model.VifKey(phyName, vifName))
	phy.RemoveVif(vifName)
	r.log.Debugf("vif removed: drv=%s phy=%s vif=%s", drvName, phyName, vifName)
	r.forEachVifObserver(func(o VifObserver) { o.VifRemoved(vif) })
	return nil
}

// ReportSta adds or updates a station. Stations that are not connected
// are treated as gone.
func (r *Registry) ReportSta(drvName string, phyName, vifName string, sta *model.Station) error {
	vif := r.tree.Vif(phyName, vifName)
	if vif == nil {
		return errors.Wrapf(ErrUnknownVif, "station %s reported on %s", sta.MAC, model.VifKey(phyName, vifName))
	}
	mac, err := model.NormalizeMAC(sta.MAC)
	if err != nil {
		return err
	}
	if sta.Link == model.Disconnected {
		return r.ReportStaGone(drvName, phyName, vifName, mac)
	}

	key := model.VifKey(phyName, vifName)
	list := r.stations[key]
	if list == nil {
		list = &stationList{byMAC: make(map[string]*model.Station)}
		r.stations[key] = list
	}

	reported := *sta
	reported.MAC = mac
	cur := list.byMAC[mac]
	if cur == nil {
		list.byMAC[mac] = &reported
		list.order = append(list.order, mac)
		r.log.Debugf("sta connected: drv=%s vif=%s sta=%s", drvName, key, mac)
		r.forEachStaObserver(func(o StaObserver) { o.StaConnected(vif, &reported) })
		return nil
	}
	if *cur == reported {
		return nil
	}
	*cur = reported
	r.forEachStaObserver(func(o StaObserver) { o.StaChanged(vif, cur) })
	return nil
}

// ReportStaGone removes the station.
func (r *Registry) ReportStaGone(drvName string, phyName, vifName, mac string) error {
	key := model.VifKey(phyName, vifName)
	list := r.stations[key]
	if list == nil {
		return nil
	}
	if normalized, err := model.NormalizeMAC(mac); err == nil {
		mac = normalized
	}
	sta := list.byMAC[mac]
	if sta == nil {
		return nil
	}
	delete(list.byMAC, mac)
	for i, m := range list.order {
		if m == mac {
			list.order = append(list.order[:i], list.order[i+1:]...)
			break
		}
	}
	vif := r.tree.Vif(phyName, vifName)
	r.log.Debugf("sta disconnected: drv=%s vif=%s sta=%s", drvName, key, mac)
	r.forEachStaObserver(func(o StaObserver) { o.StaDisconnected(vif, sta) })
	return nil
}

// ReportBusy marks the driver as (re)loading its state.
func (r *Registry) ReportBusy(drvName string) {
	wasSettled := r.IsSettled()
	r.busy[drvName] = true
	if wasSettled {
		r.forEachSettledObserver(func(o SettledObserver) { o.Busy() })
	}
}

// ReportIdle marks the driver as done (re)loading its state.
func (r *Registry) ReportIdle(drvName string) {
	if !r.busy[drvName] {
		return
	}
	delete(r.busy, drvName)
	if r.IsSettled() {
		r.forEachSettledObserver(func(o SettledObserver) { o.Idle() })
	}
}

func (r *Registry) replayAdded(o Observer) {
	phyObs, _ := o.(PhyObserver)
	vifObs, _ := o.(VifObserver)
	staObs, _ := o.(StaObserver)

	for _, phy := range r.tree.Phys() {
		if phyObs != nil {
			phyObs.PhyAdded(phy)
		}
		for _, vif := range phy.Vifs() {
			if vifObs != nil {
				vifObs.VifAdded(vif)
			}
			if staObs != nil {
				for _, sta := range r.Stations(phy.Name, vif.Name) {
					staObs.StaConnected(vif, sta)
				}
			}
		}
	}
}

func (r *Registry) replayRemoved(o Observer) {
	phyObs, _ := o.(PhyObserver)
	vifObs, _ := o.(VifObserver)
	staObs, _ := o.(StaObserver)

	for _, phy := range r.tree.Phys() {
		for _, vif := range phy.Vifs() {
			if staObs != nil {
				for _, sta := range r.Stations(phy.Name, vif.Name) {
					staObs.StaDisconnected(vif, sta)
				}
			}
			if vifObs != nil {
				vifObs.VifRemoved(vif)
			}
		}
		if phyObs != nil {
			phyObs.PhyRemoved(phy)
		}
	}
}

func (r *Registry) notifySettled(o Observer) {
	if so, ok := o.(SettledObserver); ok {
		if r.IsSettled() {
			so.Idle()
		} else {
			so.Busy()
		}
	}
}

// snapshot protects the iteration against (un)registration from callbacks.
func (r *Registry) snapshot() []Observer {
	return append([]Observer(nil), r.observers...)
}

func (r *Registry) forEachPhyObserver(fn func(o PhyObserver)) {
	for _, o := range r.snapshot() {
		if po, ok := o.(PhyObserver); ok {
			fn(po)
		}
	}
}

func (r *Registry) forEachVifObserver(fn func(o VifObserver)) {
	for _, o := range r.snapshot() {
		if vo, ok := o.(VifObserver); ok {
			fn(vo)
		}
	}
}

func (r *Registry) forEachStaObserver(fn func(o StaObserver)) {
	for _, o := range r.snapshot() {
		if so, ok := o.(StaObserver); ok {
			fn(so)
		}
	}
}

func (r *Registry) forEachSettledObserver(fn func(o SettledObserver)) {
	for _, o := range r.snapshot() {
		if so, ok := o.(SettledObserver); ok {
			fn(so)
		}
	}
}

func copyPhyAttrs(dst, src *model.Phy) {
	dst.Enabled = src.Enabled
	dst.TxChainmask = src.TxChainmask
	dst.RegDomain = src.RegDomain
	dst.DriverName = src.DriverName
}

func phyAttrsEqual(a, b *model.Phy) bool {
	return a.Enabled == b.Enabled &&
		a.TxChainmask == b.TxChainmask &&
		a.RegDomain == b.RegDomain &&
		a.DriverName == b.DriverName
}

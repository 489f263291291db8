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

// Package model defines the phy/vif/station tree shared by the desired
// configuration and the live driver-reported state.
package model

import (
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrDuplicateName is returned when a child with the same name already
// exists in the parent scope.
var ErrDuplicateName = errors.New("name already exists")

// VifType is the operating mode of a virtual interface.
type VifType int

const (
	// VifUndefined is used for interfaces in unknown mode.
	VifUndefined VifType = iota
	// VifAP is an access point (BSS) interface.
	VifAP
	// VifSTA is a client interface.
	VifSTA
	// VifMonitor is a monitor interface.
	VifMonitor
)

var vifTypeNames = map[VifType]string{
	VifUndefined: "undefined",
	VifAP:        "ap",
	VifSTA:       "sta",
	VifMonitor:   "monitor",
}

func (t VifType) String() string {
	if name, ok := vifTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("vif-type-%d", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t VifType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *VifType) UnmarshalText(text []byte) error {
	for vt, name := range vifTypeNames {
		if name == strings.ToLower(string(text)) {
			*t = vt
			return nil
		}
	}
	return errors.Errorf("unknown vif type: %q", string(text))
}

// VifStatus is the operational status reported by a driver.
type VifStatus int

const (
	// VifStatusUnknown is reported before the driver learns the status.
	VifStatusUnknown VifStatus = iota
	// VifStatusEnabled means the interface is up and operating.
	VifStatusEnabled
	// VifStatusDisabled means the interface is administratively down.
	VifStatusDisabled
	// VifStatusBroken means the interface failed to come up.
	VifStatusBroken
)

func (s VifStatus) String() string {
	switch s {
	case VifStatusEnabled:
		return "enabled"
	case VifStatusDisabled:
		return "disabled"
	case VifStatusBroken:
		return "broken"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s VifStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LinkState of a station or of a STA vif towards its AP.
type LinkState int

const (
	// Disconnected link.
	Disconnected LinkState = iota
	// Connecting link (association/handshake in progress).
	Connecting
	// Connected link.
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// MarshalText implements encoding.TextMarshaler.
func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Channel describes an operating channel.
type Channel struct {
	ControlFreqMHz int `json:"control_freq_mhz"`
	WidthMHz       int `json:"width_mhz"`
	CenterFreq0MHz int `json:"center_freq0_mhz,omitempty"`
}

func (c Channel) String() string {
	return fmt.Sprintf("%d/%dMHz", c.ControlFreqMHz, c.WidthMHz)
}

// Security holds the authentication settings of a BSS or of a STA network.
type Security struct {
	Mode string `json:"mode,omitempty"` // open, wpa2-psk, wpa3-sae, ...
	PSK  string `json:"psk,omitempty"`
}

// ACLPolicy controls how the AP ACL list is applied.
type ACLPolicy string

const (
	// ACLNone disables the ACL.
	ACLNone ACLPolicy = "none"
	// ACLAllow lets only listed stations in.
	ACLAllow ACLPolicy = "allow"
	// ACLDeny keeps listed stations out.
	ACLDeny ACLPolicy = "deny"
)

// AP is the payload of an AP vif.
type AP struct {
	SSID           string    `json:"ssid"`
	Channel        Channel   `json:"channel"`
	Security       Security  `json:"security"`
	BeaconInterval int       `json:"beacon_interval_tu,omitempty"`
	SSIDHidden     bool      `json:"ssid_hidden,omitempty"`
	Isolated       bool      `json:"isolated,omitempty"`
	Mcast2Ucast    bool      `json:"mcast2ucast,omitempty"`
	WPSPBC         bool      `json:"wps_pbc,omitempty"`
	Bridge         string    `json:"bridge,omitempty"`
	ACL            []string  `json:"acl,omitempty"` // MAC addresses
	ACLPolicy      ACLPolicy `json:"acl_policy,omitempty"`
}

// STA is the payload of a STA vif.
type STA struct {
	Link     LinkState `json:"link"`
	SSID     string    `json:"ssid,omitempty"`
	BSSID    string    `json:"bssid,omitempty"`
	Security Security  `json:"security"`
}

// StationStats are the traffic counters of a station.
type StationStats struct {
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	SignalDBm int    `json:"signal_dbm"`
}

// Station is a peer associated to a vif.
type Station struct {
	MAC         string       `json:"mac"`
	Link        LinkState    `json:"link"`
	ConnectedAt int64        `json:"connected_at_nsec,omitempty"`
	Stats       StationStats `json:"stats"`
}

// Vif is a virtual interface.
type Vif struct {
	Name       string    `json:"name"`
	PhyName    string    `json:"phy"`
	Type       VifType   `json:"type"`
	Enabled    bool      `json:"enabled"`
	Status     VifStatus `json:"status"`
	MAC        string    `json:"mac,omitempty"`
	TxPowerDBM int       `json:"tx_power_dbm,omitempty"`
	AP         *AP       `json:"ap,omitempty"`
	STA        *STA      `json:"sta,omitempty"`

	// Changed is set on vifs of a driver request to mark which vifs need
	// reconfiguration.
	Changed bool `json:"-"`
}

// Clone returns a deep copy of the vif.
func (v *Vif) Clone() *Vif {
	c := *v
	if v.AP != nil {
		ap := *v.AP
		ap.ACL = append([]string(nil), v.AP.ACL...)
		c.AP = &ap
	}
	if v.STA != nil {
		sta := *v.STA
		c.STA = &sta
	}
	return &c
}

// Phy is a physical radio.
type Phy struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	TxChainmask int    `json:"tx_chainmask,omitempty"`
	RegDomain   string `json:"reg_domain,omitempty"`
	DriverName  string `json:"driver,omitempty"`

	// Changed is set on phys of a driver request to mark which phys
	// need reconfiguration (on their own or through their vifs).
	Changed bool `json:"-"`

	vifs  map[string]*Vif
	order []string
}

// NewPhy creates a phy without vifs.
func NewPhy(name string) *Phy {
	return &Phy{Name: name, vifs: make(map[string]*Vif)}
}

// AddVif appends a vif. Names must be unique within the phy.
func (p *Phy) AddVif(v *Vif) error {
	if p.vifs == nil {
		p.vifs = make(map[string]*Vif)
	}
	if _, exists := p.vifs[v.Name]; exists {
		return errors.Wrapf(ErrDuplicateName, "vif %s on phy %s", v.Name, p.Name)
	}
	v.PhyName = p.Name
	p.vifs[v.Name] = v
	p.order = append(p.order, v.Name)
	return nil
}

// SetVif adds or replaces a vif, keeping its position if it existed.
func (p *Phy) SetVif(v *Vif) {
	if _, exists := p.vifs[v.Name]; exists {
		v.PhyName = p.Name
		p.vifs[v.Name] = v
		return
	}
	_ = p.AddVif(v)
}

// RemoveVif removes the vif of the given name. Returns false if not found.
func (p *Phy) RemoveVif(name string) bool {
	if _, exists := p.vifs[name]; !exists {
		return false
	}
	delete(p.vifs, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Vif returns the vif of the given name, nil if not found.
func (p *Phy) Vif(name string) *Vif {
	return p.vifs[name]
}

// Vifs returns the vifs in insertion order.
func (p *Phy) Vifs() []*Vif {
	vifs := make([]*Vif, 0, len(p.order))
	for _, name := range p.order {
		vifs = append(vifs, p.vifs[name])
	}
	return vifs
}

// Clone returns a deep copy of the phy and its vifs.
func (p *Phy) Clone() *Phy {
	c := *p
	c.vifs = make(map[string]*Vif, len(p.vifs))
	c.order = append([]string(nil), p.order...)
	for name, v := range p.vifs {
		c.vifs[name] = v.Clone()
	}
	return &c
}

// PhyTree is an ordered set of phys keyed by name.
type PhyTree struct {
	phys  map[string]*Phy
	order []string
}

// NewPhyTree returns an empty tree.
func NewPhyTree() *PhyTree {
	return &PhyTree{phys: make(map[string]*Phy)}
}

// Add appends a phy. Names must be unique within the tree.
func (t *PhyTree) Add(p *Phy) error {
	if t.phys == nil {
		t.phys = make(map[string]*Phy)
	}
	if _, exists := t.phys[p.Name]; exists {
		return errors.Wrapf(ErrDuplicateName, "phy %s", p.Name)
	}
	t.phys[p.Name] = p
	t.order = append(t.order, p.Name)
	return nil
}

// Set adds or replaces a phy, keeping its position if it existed.
func (t *PhyTree) Set(p *Phy) {
	if _, exists := t.phys[p.Name]; exists {
		t.phys[p.Name] = p
		return
	}
	_ = t.Add(p)
}

// Remove deletes the phy of the given name. Returns false if not found.
func (t *PhyTree) Remove(name string) bool {
	if _, exists := t.phys[name]; !exists {
		return false
	}
	delete(t.phys, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Phy returns the phy of the given name, nil if not found.
func (t *PhyTree) Phy(name string) *Phy {
	return t.phys[name]
}

// Vif returns the vif of the given phy and name, nil if not found.
func (t *PhyTree) Vif(phyName, vifName string) *Vif {
	if p := t.phys[phyName]; p != nil {
		return p.Vif(vifName)
	}
	return nil
}

// Phys returns the phys in insertion order.
func (t *PhyTree) Phys() []*Phy {
	phys := make([]*Phy, 0, len(t.order))
	for _, name := range t.order {
		phys = append(phys, t.phys[name])
	}
	return phys
}

// Len returns the number of phys.
func (t *PhyTree) Len() int {
	return len(t.order)
}

// Clone returns a deep copy of the tree.
func (t *PhyTree) Clone() *PhyTree {
	c := NewPhyTree()
	for _, p := range t.Phys() {
		_ = c.Add(p.Clone())
	}
	return c
}

// HasChanged returns true if any phy of the tree is marked as changed.
func (t *PhyTree) HasChanged() bool {
	for _, p := range t.Phys() {
		if p.Changed {
			return true
		}
	}
	return false
}

// VifKey returns the key used to address a vif across trees.
func VifKey(phyName, vifName string) string {
	return phyName + "/" + vifName
}

// NormalizeMAC returns the canonical lower-case colon-separated form of
// a MAC address.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return "", errors.Wrapf(err, "invalid MAC address %q", mac)
	}
	return hw.String(), nil
}

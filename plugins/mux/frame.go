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

package mux

import (
	"encoding/binary"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/pkg/errors"
)

const (
	// ReasonUnspecified is the "unspecified reason" deauthentication code.
	ReasonUnspecified uint16 = 1
	// ReasonDisassocLowAck is used when a station stopped acknowledging frames.
	ReasonDisassocLowAck uint16 = 34

	dot11HeaderLen = 24
)

// BuildDeauthFrame serializes a deauthentication management frame sent by
// the BSS to the station.
func BuildDeauthFrame(bssid, sta net.HardwareAddr, reason uint16) ([]byte, error) {
	if len(bssid) != 6 || len(sta) != 6 {
		return nil, errors.Errorf("invalid addresses for deauth frame: bssid=%v sta=%v", bssid, sta)
	}
	hdr := &layers.Dot11{
		Type:     layers.Dot11TypeMgmtDeauthentication,
		Address1: sta,
		Address2: bssid,
		Address3: bssid,
	}
	body := make([]byte, 2)
	binary.LittleEndian.PutUint16(body, reason)

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, hdr, gopacket.Payload(body)); err != nil {
		return nil, errors.Wrap(err, "failed to serialize deauth frame")
	}
	return buf.Bytes(), nil
}

// FrameDestination returns the receiver address of a serialized frame.
func FrameDestination(frame []byte) (net.HardwareAddr, error) {
	if len(frame) < dot11HeaderLen {
		return nil, errors.Errorf("frame too short: %d bytes", len(frame))
	}
	return net.HardwareAddr(frame[4:10]), nil
}

// IsDeauthFrame returns true for a deauthentication management frame.
func IsDeauthFrame(frame []byte) bool {
	if len(frame) < dot11HeaderLen {
		return false
	}
	// frame control: subtype, type and protocol version
	return layers.Dot11Type(frame[0]>>2) == layers.Dot11TypeMgmtDeauthentication
}

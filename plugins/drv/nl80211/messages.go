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

package nl80211

import (
	"net"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/opensync/osw/pkg/model"
	"github.com/opensync/osw/pkg/nlcmd"
)

// wiphyInfo is a radio as dumped by NL80211_CMD_GET_WIPHY.
type wiphyInfo struct {
	index     uint32
	name      string
	antennaTx uint32
	antennaRx uint32
}

// ifaceInfo is an interface as dumped by NL80211_CMD_GET_INTERFACE.
type ifaceInfo struct {
	index      int
	name       string
	wiphy      uint32
	iftype     uint32
	mac        net.HardwareAddr
	ssid       string
	freqMHz    uint32
	txPowerMBm uint32
}

// stationInfo is a station as dumped by NL80211_CMD_GET_STATION.
type stationInfo struct {
	mac           net.HardwareAddr
	connectedTime uint32
	stats         model.StationStats
}

func vifType(iftype uint32) model.VifType {
	switch iftype {
	case unix.NL80211_IFTYPE_AP:
		return model.VifAP
	case unix.NL80211_IFTYPE_STATION:
		return model.VifSTA
	case unix.NL80211_IFTYPE_MONITOR:
		return model.VifMonitor
	}
	return model.VifUndefined
}

func encode(cmd uint8, fn func(ae *netlink.AttributeEncoder)) (genetlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	if fn != nil {
		fn(ae)
	}
	data, err := ae.Encode()
	if err != nil {
		return genetlink.Message{}, errors.Wrapf(err, "failed to encode nl80211 command %d", cmd)
	}
	return genetlink.Message{
		Header: genetlink.Header{Command: cmd},
		Data:   data,
	}, nil
}

func dump(cmd uint8, fn func(ae *netlink.AttributeEncoder)) (nlcmd.DumpRequest, error) {
	m, err := encode(cmd, fn)
	return nlcmd.DumpRequest{Message: m}, err
}

func getWiphyMsg() (nlcmd.DumpRequest, error) {
	return dump(unix.NL80211_CMD_GET_WIPHY, nil)
}

func getInterfaceMsg() (nlcmd.DumpRequest, error) {
	return dump(unix.NL80211_CMD_GET_INTERFACE, nil)
}

func getStationMsg(ifindex int) (nlcmd.DumpRequest, error) {
	return dump(unix.NL80211_CMD_GET_STATION, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(ifindex))
	})
}

func setAntennaMsg(wiphy uint32, tx, rx uint32) (genetlink.Message, error) {
	return encode(unix.NL80211_CMD_SET_WIPHY, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.NL80211_ATTR_WIPHY, wiphy)
		ae.Uint32(unix.NL80211_ATTR_WIPHY_ANTENNA_TX, tx)
		ae.Uint32(unix.NL80211_ATTR_WIPHY_ANTENNA_RX, rx)
	})
}

func delStationMsg(ifindex int, mac net.HardwareAddr, reason uint16) (genetlink.Message, error) {
	return encode(unix.NL80211_CMD_DEL_STATION, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(ifindex))
		ae.Bytes(unix.NL80211_ATTR_MAC, mac)
		ae.Uint16(unix.NL80211_ATTR_REASON_CODE, reason)
	})
}

func frameMsg(ifindex int, frame []byte) (genetlink.Message, error) {
	return encode(unix.NL80211_CMD_FRAME, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(ifindex))
		ae.Bytes(unix.NL80211_ATTR_FRAME, frame)
	})
}

// parseWiphys decodes a wiphy dump. Split dumps describe one wiphy in
// several messages, these are merged.
func parseWiphys(msgs []genetlink.Message) ([]*wiphyInfo, error) {
	var wiphys []*wiphyInfo
	byIndex := make(map[uint32]*wiphyInfo)
	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode wiphy")
		}
		w := &wiphyInfo{}
		for ad.Next() {
			switch ad.Type() {
			case unix.NL80211_ATTR_WIPHY:
				w.index = ad.Uint32()
			case unix.NL80211_ATTR_WIPHY_NAME:
				w.name = ad.String()
			case unix.NL80211_ATTR_WIPHY_ANTENNA_TX:
				w.antennaTx = ad.Uint32()
			case unix.NL80211_ATTR_WIPHY_ANTENNA_RX:
				w.antennaRx = ad.Uint32()
			}
		}
		if err := ad.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to decode wiphy")
		}

		cur := byIndex[w.index]
		if cur == nil {
			byIndex[w.index] = w
			wiphys = append(wiphys, w)
			continue
		}
		if w.name != "" {
			cur.name = w.name
		}
		if w.antennaTx != 0 {
			cur.antennaTx = w.antennaTx
		}
		if w.antennaRx != 0 {
			cur.antennaRx = w.antennaRx
		}
	}
	for _, w := range wiphys {
		if w.name == "" {
			return nil, errors.Errorf("wiphy %d without name", w.index)
		}
	}
	return wiphys, nil
}

func parseInterfaces(msgs []genetlink.Message) ([]*ifaceInfo, error) {
	var ifaces []*ifaceInfo
	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode interface")
		}
		ifi := &ifaceInfo{}
		for ad.Next() {
			switch ad.Type() {
			case unix.NL80211_ATTR_IFINDEX:
				ifi.index = int(ad.Uint32())
			case unix.NL80211_ATTR_IFNAME:
				ifi.name = ad.String()
			case unix.NL80211_ATTR_WIPHY:
				ifi.wiphy = ad.Uint32()
			case unix.NL80211_ATTR_IFTYPE:
				ifi.iftype = ad.Uint32()
			case unix.NL80211_ATTR_MAC:
				ifi.mac = net.HardwareAddr(ad.Bytes())
			case unix.NL80211_ATTR_SSID:
				ifi.ssid = string(ad.Bytes())
			case unix.NL80211_ATTR_WIPHY_FREQ:
				ifi.freqMHz = ad.Uint32()
			case unix.NL80211_ATTR_WIPHY_TX_POWER_LEVEL:
				ifi.txPowerMBm = ad.Uint32()
			}
		}
		if err := ad.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to decode interface")
		}
		// p2p devices and the like have no netdev
		if ifi.name == "" {
			continue
		}
		ifaces = append(ifaces, ifi)
	}
	return ifaces, nil
}

func parseStations(msgs []genetlink.Message) ([]*stationInfo, error) {
	var stations []*stationInfo
	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode station")
		}
		sta := &stationInfo{}
		for ad.Next() {
			switch ad.Type() {
			case unix.NL80211_ATTR_MAC:
				sta.mac = net.HardwareAddr(ad.Bytes())
			case unix.NL80211_ATTR_STA_INFO:
				ad.Nested(sta.decodeInfo)
			}
		}
		if err := ad.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to decode station")
		}
		if len(sta.mac) != 6 {
			return nil, errors.Errorf("station with invalid address %v", sta.mac)
		}
		stations = append(stations, sta)
	}
	return stations, nil
}

func (sta *stationInfo) decodeInfo(ad *netlink.AttributeDecoder) error {
	var rx64, tx64 bool
	for ad.Next() {
		switch ad.Type() {
		case unix.NL80211_STA_INFO_CONNECTED_TIME:
			sta.connectedTime = ad.Uint32()
		case unix.NL80211_STA_INFO_RX_BYTES:
			if !rx64 {
				sta.stats.RxBytes = uint64(ad.Uint32())
			}
		case unix.NL80211_STA_INFO_TX_BYTES:
			if !tx64 {
				sta.stats.TxBytes = uint64(ad.Uint32())
			}
		case unix.NL80211_STA_INFO_RX_BYTES64:
			sta.stats.RxBytes = ad.Uint64()
			rx64 = true
		case unix.NL80211_STA_INFO_TX_BYTES64:
			sta.stats.TxBytes = ad.Uint64()
			tx64 = true
		case unix.NL80211_STA_INFO_RX_PACKETS:
			sta.stats.RxPackets = uint64(ad.Uint32())
		case unix.NL80211_STA_INFO_TX_PACKETS:
			sta.stats.TxPackets = uint64(ad.Uint32())
		case unix.NL80211_STA_INFO_SIGNAL:
			sta.stats.SignalDBm = int(int8(ad.Uint8()))
		}
	}
	return nil
}

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

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"github.com/safchain/ethtool"
	vnl "github.com/vishvananda/netlink"
)

// Links controls network devices of the wireless interfaces. All methods
// may block and are called from helper goroutines.
type Links interface {
	// State returns whether the link is administratively up.
	State(ifName string) (up bool, err error)
	// SetState brings the link up or down.
	SetState(ifName string, up bool) error
	// DriverName returns the name of the kernel driver of the link.
	DriverName(ifName string) (string, error)
	Close()
}

// sysLinks implements Links with rtnetlink and ethtool.
type sysLinks struct {
	log     logging.Logger
	ethTool *ethtool.Ethtool
}

// NewSysLinks returns Links backed by the kernel. Driver names are not
// available if the ethtool socket cannot be opened.
func NewSysLinks(log logging.Logger) Links {
	l := &sysLinks{log: log}
	var err error
	l.ethTool, err = ethtool.NewEthtool()
	if err != nil {
		log.Warnf("ethtool is not available, driver names will not be reported: %v", err)
	}
	return l
}

func (l *sysLinks) State(ifName string) (bool, error) {
	link, err := vnl.LinkByName(ifName)
	if err != nil {
		return false, errors.Wrapf(err, "failed to find link %s", ifName)
	}
	return link.Attrs().Flags&net.FlagUp != 0, nil
}

func (l *sysLinks) SetState(ifName string, up bool) error {
	link, err := vnl.LinkByName(ifName)
	if err != nil {
		return errors.Wrapf(err, "failed to find link %s", ifName)
	}
	if up {
		err = vnl.LinkSetUp(link)
	} else {
		err = vnl.LinkSetDown(link)
	}
	return errors.Wrapf(err, "failed to set link %s up=%v", ifName, up)
}

func (l *sysLinks) DriverName(ifName string) (string, error) {
	if l.ethTool == nil {
		return "", nil
	}
	return l.ethTool.DriverName(ifName)
}

func (l *sysLinks) Close() {
	if l.ethTool != nil {
		l.ethTool.Close()
	}
}

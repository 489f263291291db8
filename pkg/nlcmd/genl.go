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

package nlcmd

import (
	"sync"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Poster marshals a function into the goroutine owning the commands.
type Poster interface {
	Post(fn func()) error
}

// GenlConn is the subset of *genetlink.Conn used by GenlChannel.
type GenlConn interface {
	Execute(m genetlink.Message, family uint16, flags netlink.HeaderFlags) ([]genetlink.Message, error)
	Close() error
}

// GenlChannel sends generic netlink requests of one family. Every request
// is executed on a helper goroutine and its reply is posted back.
type GenlChannel struct {
	conn   GenlConn
	family genetlink.Family
	post   Poster

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// DialGenl opens a generic netlink socket and resolves the given family.
func DialGenl(familyName string, post Poster) (*GenlChannel, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial generic netlink")
	}
	family, err := conn.GetFamily(familyName)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to resolve genetlink family %s", familyName)
	}
	return NewGenlChannel(conn, family, post), nil
}

// NewGenlChannel wraps an already resolved connection.
func NewGenlChannel(conn GenlConn, family genetlink.Family, post Poster) *GenlChannel {
	return &GenlChannel{conn: conn, family: family, post: post}
}

// Family returns the resolved family.
func (g *GenlChannel) Family() genetlink.Family {
	return g.family
}

// DumpRequest asks for all objects of a kind. The reply carries every
// message of the multi-part response.
type DumpRequest struct {
	Message genetlink.Message
}

// Send executes msg (a genetlink.Message) as an acknowledged request, or
// a DumpRequest as a dump.
func (g *GenlChannel) Send(msg Message, reply ReplyFunc) error {
	flags := netlink.Request | netlink.Acknowledge
	var m genetlink.Message
	switch req := msg.(type) {
	case genetlink.Message:
		m = req
	case DumpRequest:
		m = req.Message
		flags = netlink.Request | netlink.Dump
	default:
		return errors.Errorf("unexpected message type %T", msg)
	}
	if m.Header.Version == 0 {
		m.Header.Version = g.family.Version
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.conn == nil {
		return ErrNoSocket
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		msgs, err := g.conn.Execute(m, g.family.ID, flags)
		err = classifyNetlinkError(err)
		// the reply is dropped if the owner loop is already gone
		_ = g.post.Post(func() {
			reply(msgs, err)
		})
	}()
	return nil
}

// Close closes the socket and waits for outstanding exchanges.
func (g *GenlChannel) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	err := g.conn.Close()
	g.wg.Wait()
	return err
}

// classifyNetlinkError maps netlink failures onto command statuses.
func classifyNetlinkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO) || errors.Is(err, unix.ENOENT) {
		return errors.Wrap(ErrNoLink, err.Error())
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		// the kernel answered with an error code
		return err
	}
	var opErr *netlink.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "send":
			return errors.Wrap(ErrSendFailed, err.Error())
		case "receive":
			return errors.Wrap(ErrRecvFailed, err.Error())
		}
	}
	return err
}

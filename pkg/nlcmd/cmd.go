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

// Package nlcmd implements debounced request/response exchanges over a
// command channel (generic netlink, control sockets).
//
// A Cmd holds at most one request in flight. Setting a new message while
// a request is in flight does not abort it, but its eventual reply is
// considered stale and the newest message is sent once the channel is free.
// Only the reply to the newest message completes the Cmd.
package nlcmd

import (
	"github.com/pkg/errors"
)

// Status of a command.
type Status int

const (
	// StatusIdle means no message was set yet (or the cmd was reset).
	StatusIdle Status = iota
	// StatusNoSocket means there is no channel to send the message through.
	StatusNoSocket
	// StatusNoLink means the target of the message is gone.
	StatusNoLink
	// StatusSendFailed means the message could not be transmitted.
	StatusSendFailed
	// StatusRecvFailed means the reply could not be received.
	StatusRecvFailed
	// StatusFailed means the peer replied with an error.
	StatusFailed
	// StatusRunning means the message is in flight (or waiting to be sent).
	StatusRunning
	// StatusAcked means the peer acknowledged the message.
	StatusAcked
)

var statusNames = map[Status]string{
	StatusIdle:       "idle",
	StatusNoSocket:   "no-socket",
	StatusNoLink:     "no-link",
	StatusSendFailed: "send-failed",
	StatusRecvFailed: "recv-failed",
	StatusFailed:     "failed",
	StatusRunning:    "running",
	StatusAcked:      "acked",
}

func (s Status) String() string {
	return statusNames[s]
}

var (
	// ErrNoSocket is returned/delivered when the channel has no socket.
	ErrNoSocket = errors.New("command channel has no socket")
	// ErrNoLink is delivered when the addressed link disappeared.
	ErrNoLink = errors.New("link is gone")
	// ErrSendFailed is delivered when the request could not be sent.
	ErrSendFailed = errors.New("failed to send request")
	// ErrRecvFailed is delivered when the reply could not be received.
	ErrRecvFailed = errors.New("failed to receive reply")
)

// Message is an opaque request understood by a Channel.
type Message interface{}

// ReplyFunc delivers the outcome of one exchange.
type ReplyFunc func(resp interface{}, err error)

// Channel transmits requests. Send must not block: the exchange runs in
// the background and reply is invoked exactly once, on the goroutine that
// owns the Cmd. A non-nil error from Send means reply will not be called.
type Channel interface {
	Send(msg Message, reply ReplyFunc) error
}

// Cmd is a debounced command bound to a channel.
type Cmd struct {
	// Name is used for logging.
	Name string

	// CompletedFn is called for every authoritative completion,
	// successful or not.
	CompletedFn func(c *Cmd)

	ch     Channel
	status Status
	gen    uint64

	inflight   bool
	pending    Message
	hasPending bool

	resp interface{}
	err  error
}

// New creates a command bound to the given channel (may be nil).
func New(name string, ch Channel) *Cmd {
	return &Cmd{Name: name, ch: ch}
}

// SetChannel replaces the channel used for the next transmission.
func (c *Cmd) SetChannel(ch Channel) {
	c.ch = ch
}

// SetMsg sets the message to be sent, superseding any previous one.
func (c *Cmd) SetMsg(msg Message) {
	c.gen++
	c.status = StatusRunning
	c.resp, c.err = nil, nil

	if c.inflight {
		c.pending = msg
		c.hasPending = true
		return
	}
	c.send(msg)
}

// Reset drops the current intent. A reply still in flight is ignored.
func (c *Cmd) Reset() {
	c.gen++
	c.pending = nil
	c.hasPending = false
	c.status = StatusIdle
	c.resp, c.err = nil, nil
}

// Status returns the command status.
func (c *Cmd) Status() Status {
	return c.status
}

// IsCompleted returns true if the latest message reached a terminal status.
func (c *Cmd) IsCompleted() bool {
	return c.status != StatusIdle && c.status != StatusRunning
}

// IsFailed returns true if the latest message completed without an ack.
func (c *Cmd) IsFailed() bool {
	return c.IsCompleted() && c.status != StatusAcked
}

// IsInFlight returns true while a request (possibly stale) awaits its reply.
func (c *Cmd) IsInFlight() bool {
	return c.inflight
}

// Err returns the error of the latest completion.
func (c *Cmd) Err() error {
	return c.err
}

// Response returns the reply payload of the latest successful completion.
func (c *Cmd) Response() interface{} {
	return c.resp
}

func (c *Cmd) send(msg Message) {
	if c.ch == nil {
		c.finish(StatusNoSocket, ErrNoSocket)
		return
	}

	gen := c.gen
	c.inflight = true
	err := c.ch.Send(msg, func(resp interface{}, err error) {
		c.reply(gen, resp, err)
	})
	if err != nil {
		c.inflight = false
		if errors.Cause(err) == ErrNoSocket {
			c.finish(StatusNoSocket, err)
		} else {
			c.finish(StatusSendFailed, err)
		}
	}
}

func (c *Cmd) reply(gen uint64, resp interface{}, err error) {
	c.inflight = false

	if gen != c.gen {
		// superseded
		if c.hasPending {
			msg := c.pending
			c.pending = nil
			c.hasPending = false
			c.send(msg)
		}
		return
	}

	if err != nil {
		c.finish(replyStatus(err), err)
		return
	}
	c.resp = resp
	c.finish(StatusAcked, nil)
}

func (c *Cmd) finish(status Status, err error) {
	c.status = status
	c.err = err
	if c.CompletedFn != nil {
		c.CompletedFn(c)
	}
}

func replyStatus(err error) Status {
	switch errors.Cause(err) {
	case ErrNoSocket:
		return StatusNoSocket
	case ErrNoLink:
		return StatusNoLink
	case ErrSendFailed:
		return StatusSendFailed
	case ErrRecvFailed:
		return StatusRecvFailed
	}
	return StatusFailed
}

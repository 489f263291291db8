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
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/unrolled/render"
)

const (
	urlPrefix = "/osw/confsync/"

	// StateURL is the URL of the engine state.
	StateURL = urlPrefix + "state"

	// HistoryURL is the URL of the transition history.
	HistoryURL = urlPrefix + "history"

	// AttemptsURL is the URL of the per-device retry status.
	AttemptsURL = urlPrefix + "attempts"

	// CancelURL is the URL used to cancel the running request.
	CancelURL = urlPrefix + "cancel"

	// history arguments (by precedence):
	//   * seq-num
	//   * first (max. number of oldest records to return)
	//   * last (max. number of latest records to return)
	seqNumArg = "seq-num"
	firstArg  = "first"
	lastArg   = "last"
)

// errorString wraps string representation of an error that, unlike the original
// error, can be marshalled.
type errorString struct {
	Error string
}

// StateDump is the JSON representation of the engine state.
type StateDump struct {
	State        State         `json:"state"`
	Settled      bool          `json:"settled"`
	UnsettledFor time.Duration `json:"unsettled_for,omitempty"`
	Pending      int           `json:"pending_tasks"`
	Running      int           `json:"running_tasks"`
}

func (p *Plugin) registerHandlers() {
	if p.HTTPHandlers == nil {
		p.Log.Warn("No http handler provided, skipping registration of confsync REST handlers")
		return
	}
	p.HTTPHandlers.RegisterHTTPHandler(StateURL, p.stateGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(HistoryURL, p.historyGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(AttemptsURL, p.attemptsGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(CancelURL, p.cancelHandler, "POST")
}

func (p *Plugin) stateGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		dump := &StateDump{}
		err := p.Loop.Call(req.Context(), func() {
			dump.State = p.Engine.State()
			dump.Settled = p.Engine.IsSettled()
			dump.Pending = p.Engine.queue.PendingLen()
			dump.Running = p.Engine.queue.RunningLen()
			if p.watchdog != nil {
				dump.UnsettledFor = p.watchdog.unsettledFor()
			}
		})
		if err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, dump)
	}
}

func (p *Plugin) historyGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		intParams := make(map[string]int)
		args := req.URL.Query()

		// parse optional integer parameters
		for _, intParam := range []string{seqNumArg, firstArg, lastArg} {
			if param, withParam := args[intParam]; withParam && len(param) == 1 {
				value, err := strconv.Atoi(param[0])
				if err == nil && value < 0 {
					err = errors.New(intParam + " must not be negative")
				}
				if err != nil {
					formatter.JSON(w, http.StatusBadRequest, errorString{err.Error()})
					return
				}
				intParams[intParam] = value
			}
		}

		var records []*Transition
		if err := p.Loop.Call(req.Context(), func() { records = p.Engine.History() }); err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}

		// handle seq-num argument
		if seqNum, hasSeqNum := intParams[seqNumArg]; hasSeqNum {
			for _, record := range records {
				if record.SeqNum == uint64(seqNum) {
					formatter.JSON(w, http.StatusOK, record)
					return
				}
			}
			err := errors.New("transition with such sequence number is not recorded")
			formatter.JSON(w, http.StatusNotFound, errorString{err.Error()})
			return
		}

		// handle *first* argument
		if first, hasFirst := intParams[firstArg]; hasFirst {
			if len(records) < first {
				first = len(records)
			}
			formatter.JSON(w, http.StatusOK, records[:first])
			return
		}

		// handle *last* argument
		if last, hasLast := intParams[lastArg]; hasLast {
			if len(records) < last {
				last = len(records)
			}
			formatter.JSON(w, http.StatusOK, records[len(records)-last:])
			return
		}

		// full history
		formatter.JSON(w, http.StatusOK, records)
	}
}

func (p *Plugin) attemptsGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var attempts []*Attempt
		if err := p.Loop.Call(req.Context(), func() { attempts = p.Engine.Attempts() }); err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, attempts)
	}
}

func (p *Plugin) cancelHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := p.Loop.Call(req.Context(), p.Engine.Cancel); err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, "Confsync request was cancelled.")
	}
}

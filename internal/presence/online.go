// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package presence implements the Online/Offline Manager (spec §4.8)
// and the Active-Client Manager (spec §4.9): the two pieces of client
// state that track liveness rather than data.
package presence

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Status is one of the Online/Offline Manager's three states (spec
// §4.8).
type Status int

const (
	// Online means the client believes it has upstream connectivity.
	Online Status = iota
	// OfflinePending means connectivity was just lost and the grace
	// timer is running; the client is not yet treated as offline.
	OfflinePending
	// Offline means the grace period elapsed without connectivity
	// returning.
	Offline
)

func (s Status) String() string {
	switch s {
	case Online:
		return "online"
	case OfflinePending:
		return "offline-pending"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// OnlineManager debounces connectivity flaps: a single SetOnline(false)
// does not declare the client offline immediately, only after
// GracePeriod elapses without a subsequent SetOnline(true) (spec §4.8).
type OnlineManager struct {
	// GracePeriod is how long OfflinePending is held before transitioning
	// to Offline. Zero means use the package default of 30s.
	GracePeriod time.Duration
	// AfterFunc is overridable for tests; defaults to time.AfterFunc.
	AfterFunc func(time.Duration, func()) *time.Timer

	mu        sync.Mutex
	status    Status
	timer     *time.Timer
	listeners []func(Status)
}

// DefaultGracePeriod is used when OnlineManager.GracePeriod is zero.
const DefaultGracePeriod = 30 * time.Second

// NewOnlineManager constructs a Manager starting in the Online state.
func NewOnlineManager(gracePeriod time.Duration) *OnlineManager {
	return &OnlineManager{GracePeriod: gracePeriod, status: Online}
}

// Status returns the current state.
func (m *OnlineManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn to be called on every status transition.
// Transitions are deduplicated: fn is never called twice in a row with
// the same Status (spec §4.8 "transitions are deduplicated").
func (m *OnlineManager) Subscribe(fn func(Status)) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[idx] = nil
	}
}

// SetOnline records a connectivity observation (spec §4.8).
//
// SetOnline(true) always moves to Online and cancels any pending
// offline timer, idempotently. SetOnline(false) only starts the grace
// timer the first time it's seen from Online; a repeat call while
// already OfflinePending or Offline is a no-op.
func (m *OnlineManager) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online {
		m.cancelTimerLocked()
		m.transitionLocked(Online)
		return
	}

	switch m.status {
	case Online:
		m.transitionLocked(OfflinePending)
		grace := m.GracePeriod
		if grace <= 0 {
			grace = DefaultGracePeriod
		}
		afterFunc := m.AfterFunc
		if afterFunc == nil {
			afterFunc = func(d time.Duration, f func()) *time.Timer { return time.AfterFunc(d, f) }
		}
		m.timer = afterFunc(grace, m.fireOffline)
	case OfflinePending, Offline:
		// no-op (spec §4.8)
	}
}

func (m *OnlineManager) fireOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != OfflinePending {
		return
	}
	m.timer = nil
	m.transitionLocked(Offline)
}

func (m *OnlineManager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *OnlineManager) transitionLocked(next Status) {
	if m.status == next {
		return
	}
	prev := m.status
	m.status = next
	log.WithFields(log.Fields{"from": prev, "to": next}).Debug("presence: online status changed")
	for _, fn := range m.listeners {
		if fn != nil {
			fn(next)
		}
	}
}
